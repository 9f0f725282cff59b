package replywait

import (
	"fmt"
	"strings"
	"time"
)

// FallbackFollowup is the deterministic follow-up template used when no
// model is available. The system degrades to this rather than blocking on
// an LLM call that cannot complete.
func FallbackFollowup(in FollowupInput) string {
	request := strings.TrimSpace(in.OriginalRequest)
	if in.IsTimeout {
		if request == "" {
			return "Hi, just a gentle reminder about my previous message. Let me know when you get a chance."
		}
		return fmt.Sprintf("Hi, just a gentle reminder about my previous message. %s Let me know when you get a chance.", request)
	}
	if request == "" {
		return "Hi, I wanted to follow up on my previous message. Let me know when you get a chance."
	}
	return fmt.Sprintf("Hi, I wanted to follow up on my previous message. %s Let me know when you get a chance.", request)
}

// StalemateSummary builds the clarification question shown to the user
// when the follow-up budget is exhausted.
func StalemateSummary(contact string, elapsed time.Duration, attempts int, criteria string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I've followed up with %s %s over the last %s without a resolution.",
		contact, countNoun(attempts, "time", "times"), humanDuration(elapsed))
	if criteria != "" {
		fmt.Fprintf(&sb, " I was waiting for: %s.", strings.TrimRight(criteria, "."))
	}
	sb.WriteString(" How would you like to proceed?")
	return sb.String()
}

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// humanDuration renders a duration in the largest useful unit.
func humanDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return "few minutes"
	}
}
