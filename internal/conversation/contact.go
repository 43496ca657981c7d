package conversation

import (
	"regexp"
	"strings"
)

// Contact-info heuristics. Employees answering an escalation prompt tend to
// paste just a phone number or an email address, so the shapes are crude on
// purpose: a bare digit run of length >= 8 reads as a phone number, an
// x@y.z token reads as an email.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\d{8,}`)
)

// DetectContact reports whether the message looks like contact details and
// returns the matched value. Emails win over digit runs when both appear.
func DetectContact(message string) (string, bool) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return "", false
	}
	if m := emailPattern.FindString(msg); m != "" {
		return m, true
	}
	// Collapse common separators so "8839 9967" and "8839-9967" still read
	// as one number.
	compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(msg)
	if m := phonePattern.FindString(compact); m != "" {
		return m, true
	}
	return "", false
}
