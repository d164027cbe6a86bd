package followup

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// scrubError masks contact details a portal error may echo back from the
// candidate's answers before the message is kept for operators.
func scrubError(msg string) string {
	msg = emailPattern.ReplaceAllString(msg, "[email]")
	// Cards first so long digit runs are not taken for phone numbers.
	msg = cardPattern.ReplaceAllString(msg, "[card]")
	return phonePattern.ReplaceAllString(msg, "[phone]")
}
