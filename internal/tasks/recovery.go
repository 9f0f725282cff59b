package tasks

import "time"

// ResumePlan categorizes tasks found at process start.
//
// Approvals are only surfaced, never auto-acted on; waiting tasks whose
// next-check time has elapsed get an immediate check; active tasks get a
// delayed re-invocation so the rest of the process can finish initializing.
type ResumePlan struct {
	CheckNow      []*Task // waiting, nextCheck elapsed
	ResumeDelayed []*Task // active mid-execution at crash time
	Surface       []*Task // waiting_approval, needs a human
}

// PlanRecovery inspects persisted tasks and builds the startup resume plan.
func PlanRecovery(store Store, now time.Time) (ResumePlan, error) {
	var plan ResumePlan

	active, err := store.ListActive()
	if err != nil {
		return plan, err
	}
	for _, t := range active {
		switch t.Status {
		case StatusWaiting:
			if t.NextCheck != nil && !t.NextCheck.After(now) {
				plan.CheckNow = append(plan.CheckNow, t)
			}
		case StatusActive:
			plan.ResumeDelayed = append(plan.ResumeDelayed, t)
		}
	}

	approvals, err := store.List(ListFilter{Status: StatusWaitingApproval})
	if err != nil {
		return plan, err
	}
	plan.Surface = append(plan.Surface, approvals...)

	for _, t := range append(append([]*Task{}, plan.CheckNow...), plan.ResumeDelayed...) {
		_ = store.AppendLog(t.ID, "resumed after daemon restart")
	}

	return plan, nil
}
