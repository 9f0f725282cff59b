package replywait

import "context"

// EvaluateInput carries everything the judge needs to decide whether a
// reply satisfies a task's objective.
type EvaluateInput struct {
	ReplyBody       string
	OriginalRequest string
	SuccessCriteria string
	Contact         string
}

// Judgment is the judge's verdict on a reply.
type Judgment struct {
	Satisfies     bool   `json:"satisfies"`
	Reason        string `json:"reason"`
	ExtractedInfo string `json:"extracted_info,omitempty"`
}

// FollowupInput carries the context for generating a follow-up message.
type FollowupInput struct {
	OriginalRequest string
	SuccessCriteria string
	Contact         string
	LastReply       string
	FollowupCount   int
	IsTimeout       bool
}

// Judge evaluates replies and drafts follow-up messages. Implementations
// may fail (no credentials, provider down); callers degrade to the
// deterministic fallbacks rather than treating that as fatal.
type Judge interface {
	Evaluate(ctx context.Context, in EvaluateInput) (*Judgment, error)
	GenerateFollowup(ctx context.Context, in FollowupInput) (string, error)
}
