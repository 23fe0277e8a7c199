package worker

import (
	"regexp"
	"strings"
)

// FailureType classifies a failed delivery attempt.
type FailureType string

const (
	// FailureTypePermanent is used when retrying cannot help, such as an
	// unknown mailbox.
	FailureTypePermanent FailureType = "permanent"
	// FailureTypeTransient marks failures that may succeed on a later attempt.
	FailureTypeTransient FailureType = "transient"
)

var (
	enhancedTemporaryStatus = regexp.MustCompile(`(?:^|[^\d.])4\.\d{1,3}\.\d{1,3}(?:[^\d.]|$)`)
	temporaryReplyCode      = regexp.MustCompile(`\b(?:421|450|451|452)\b`)
	endOfStream             = regexp.MustCompile(`\bEOF\b`)
)

var connectionLossMarkers = []string{
	"timeout",
	"timed out",
	"4xx",
	"connection reset",
	"broken pipe",
	"server disconnected",
	"connection unexpectedly closed",
}

// Classify inspects the text of a transport failure. Timeouts, dropped
// connections, "4xx" markers, enhanced status codes of class 4 and the SMTP
// replies 421, 450, 451 and 452 are transient; everything else is permanent.
func Classify(errText string) FailureType {
	lower := strings.ToLower(errText)
	for _, marker := range connectionLossMarkers {
		if strings.Contains(lower, marker) {
			return FailureTypeTransient
		}
	}
	if enhancedTemporaryStatus.MatchString(errText) ||
		temporaryReplyCode.MatchString(errText) ||
		endOfStream.MatchString(errText) {
		return FailureTypeTransient
	}
	return FailureTypePermanent
}

// IsTemporary reports whether errText describes a transient failure.
func IsTemporary(errText string) bool {
	return Classify(errText) == FailureTypeTransient
}
