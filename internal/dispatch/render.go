package dispatch

import (
	"strings"
)

// maxMessageLength caps the rendered body; the WhatsApp gateway rejects
// longer texts.
const maxMessageLength = 1000

// NormalizePhone reduces a phone number to bare digits and prepends the
// default country code when the number looks local (up to 11 digits:
// two-digit area code plus nine-digit mobile).
func NormalizePhone(raw, defaultCountryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if digits == "" {
		return ""
	}

	if defaultCountryCode != "" && !strings.HasPrefix(digits, defaultCountryCode) && len(digits) <= 11 {
		digits = defaultCountryCode + digits
	}

	return digits
}

// RenderTemplate fills the {name} and {survey_url} placeholders and
// truncates the result to the gateway's message limit.
func RenderTemplate(body, name, surveyURL string) string {
	rendered := strings.ReplaceAll(body, "{name}", name)
	rendered = strings.ReplaceAll(rendered, "{survey_url}", surveyURL)

	runes := []rune(rendered)
	if len(runes) > maxMessageLength {
		rendered = string(runes[:maxMessageLength])
	}

	return rendered
}
