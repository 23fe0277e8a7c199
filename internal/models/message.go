package models

// ComposedMessage is the fully rendered email handed to a transport. It is
// built once per recipient after a successful render and never mutated.
type ComposedMessage struct {
	MessageID string
	From      string
	To        string
	CC        []string
	BCC       []string
	ReplyTo   string
	Subject   string
	HTMLBody  string
}

// Recipients returns every envelope recipient (To, CC and BCC) in order.
func (m *ComposedMessage) Recipients() []string {
	out := make([]string, 0, 1+len(m.CC)+len(m.BCC))
	if m.To != "" {
		out = append(out, m.To)
	}
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}
