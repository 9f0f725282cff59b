package tasks

import "fmt"

// allowedTransitions encodes the task state machine. Cancellation is handled
// separately: it is reachable from any non-terminal state.
var allowedTransitions = map[Status][]Status{
	StatusActive:          {StatusActive, StatusWaiting, StatusWaitingForInput, StatusWaitingApproval, StatusCompleted, StatusFailed},
	StatusWaiting:         {StatusActive, StatusWaiting, StatusWaitingForInput, StatusWaitingApproval, StatusCompleted, StatusFailed},
	StatusWaitingForInput: {StatusActive, StatusFailed},
	StatusWaitingApproval: {StatusActive, StatusWaiting, StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition mutates the task status after validating the move.
func (t *Task) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for %s", t.Status, to, t.ID)
	}
	t.Status = to
	return nil
}

// AdvanceStep moves the cursor one step forward. If the task is discrete and
// the final step is done, it completes; continuous tasks loop back to the
// first step under waiting, scheduled by their poll frequency.
func (t *Task) AdvanceStep() {
	if t.OnLastStep() {
		if t.Type == TypeContinuous {
			t.CurrentStep = Step{Index: 0, Description: t.StepDescription(0), State: StepPending}
			t.Status = StatusWaiting
			return
		}
		t.CurrentStep.State = StepDone
		t.Status = StatusCompleted
		return
	}

	next := t.CurrentStep.Index + 1
	t.CurrentStep = Step{Index: next, Description: t.StepDescription(next), State: StepPending}
	t.Status = StatusActive
}

// ReplacePlan swaps the plan wholesale and re-anchors the cursor at the given
// index. Used for dynamic plan modification by the step executor.
func (t *Task) ReplacePlan(plan []string, startIndex int) {
	t.Plan = plan
	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex >= len(plan) && len(plan) > 0 {
		startIndex = len(plan) - 1
	}
	t.CurrentStep = Step{Index: startIndex, Description: t.StepDescription(startIndex), State: StepPending}
}
