package whatsapp

import "strings"

// NormalizeRecipient collapses the provider's extra routing digit on
// Mexican numbers: a leading "521" is rewritten to "52". The rewrite is
// idempotent; already-correct numbers pass through untouched.
func NormalizeRecipient(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "521") {
		return "52" + number[len("521"):]
	}
	return number
}
