// Package scrub masks PHI-like patterns out of free text before it is
// persisted or logged. Downstream error bodies are uncontrolled input and
// may echo back whatever a misbehaving endpoint put in its response, so
// everything stored on a delivery record passes through here first.
package scrub

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	digitPattern = regexp.MustCompile(`\d{6,}`)
)

const mask = "[redacted]"

// Scrub replaces email-like, phone-like, and long digit sequences with a
// fixed mask. Order matters: phone patterns subsume bare digit runs, so
// they are masked first.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	s = emailPattern.ReplaceAllString(s, mask)
	s = phonePattern.ReplaceAllString(s, mask)
	s = digitPattern.ReplaceAllString(s, mask)
	return s
}
