package tasks

import "strings"

// StepClassifier decides whether a step's textual description is a
// "send-and-wait" step, i.e. sending its message must not auto-advance the
// cursor. Kept pluggable at the call sites so the keyword heuristic can be
// swapped without touching the state machine.
type StepClassifier func(description string) bool

// waitingKeywords is the default substring heuristic for waiting steps.
var waitingKeywords = []string{
	"wait",
	"waiting",
	"response",
	"reply",
	"replies",
	"follow up",
	"follow-up",
	"followup",
	"until",
	"hear back",
	"confirm",
}

// DefaultStepClassifier matches the waiting-keyword heuristic.
func DefaultStepClassifier(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range waitingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
