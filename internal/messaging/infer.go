package messaging

import "strings"

// Inferrer maps free-form instruction text to an integration id. It is a
// best-effort classifier, never authoritative: a task's explicit messaging
// channel, once set, always wins.
type Inferrer func(text string) (ID, bool)

// integrationKeywords is checked in order; earlier entries win on ties.
var integrationKeywords = []struct {
	id       ID
	keywords []string
}{
	{IDIMessage, []string{"imessage", "text message", "text them", "text him", "text her", "sms"}},
	{IDSlack, []string{"slack"}},
	{IDTelegram, []string{"telegram"}},
	{IDDiscord, []string{"discord"}},
	{IDX, []string{"twitter", "x dm", "tweet"}},
	{IDEmail, []string{"email", "e-mail", "gmail", "mail "}},
}

// InferIntegration applies the default keyword classifier.
func InferIntegration(text string) (ID, bool) {
	lower := strings.ToLower(text)
	for _, entry := range integrationKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.id, true
			}
		}
	}
	return "", false
}
