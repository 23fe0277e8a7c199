package templating

import "time"

// Globals returns the variables every template can use. Contact columns with
// the same name take precedence.
func Globals(now time.Time) Context {
	return Context{
		"now":        now.Format("2006-01-02 15:04:05"),
		"hoje":       now.Format("2006-01-02"),
		"data_envio": now.Format("2006-01-02"),
		"hora_envio": now.Format("15:04"),
	}
}

// Merge layers contact values over the globals. Neither input is modified.
func Merge(globals, values Context) Context {
	out := make(Context, len(globals)+len(values))
	for k, v := range globals {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}
