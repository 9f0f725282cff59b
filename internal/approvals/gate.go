package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// Draft describes an outbound message awaiting a send decision.
type Draft struct {
	Platform       string `json:"platform"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Result is the outcome of a confirmation request. Exactly one of
// Approved / PendingInTask / rejected (Approved == false with Reason)
// holds.
type Result struct {
	Approved      bool   `json:"approved"`
	PendingInTask bool   `json:"pending_in_task"`
	TaskID        string `json:"task_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type resolution struct {
	approved bool
	reason   string
}

type ephemeral struct {
	draft   Draft
	created time.Time
	ch      chan resolution
}

// PendingConfirmation is the UI-facing view of an ad hoc confirmation.
type PendingConfirmation struct {
	ID        string    `json:"id"`
	Draft     Draft     `json:"draft"`
	CreatedAt time.Time `json:"created_at"`
}

// Gate is the approval checkpoint between "agent wants to send" and
// "message sent". It decides; callers perform the actual send on an
// approved result. The ephemeral registry is process-local and never
// persisted.
type Gate struct {
	store   tasks.Store
	bus     *events.Bus
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*ephemeral
}

// NewGate creates a confirmation gate. timeout bounds ad hoc waits.
func NewGate(store tasks.Store, bus *events.Bus, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Gate{
		store:   store,
		bus:     bus,
		timeout: timeout,
		now:     time.Now,
		pending: make(map[string]*ephemeral),
	}
}

// RequestConfirmation asks for permission to send a message. With a task
// whose AutoSend is set it approves immediately. With a task context it
// queues a PendingMessage on the task and returns a deferred marker; the
// caller must not treat the message as sent. Without a task it blocks on
// an ephemeral confirmation with a bounded timeout.
func (g *Gate) RequestConfirmation(ctx context.Context, draft Draft, t *tasks.Task) (*Result, error) {
	if t != nil && t.AutoSend {
		return &Result{Approved: true}, nil
	}
	if t != nil {
		return g.queueOnTask(draft, t)
	}
	return g.waitEphemeral(ctx, draft)
}

func (g *Gate) queueOnTask(draft Draft, t *tasks.Task) (*Result, error) {
	msgID := tasks.GenerateMessageID()

	updated, err := g.store.Update(t.ID, func(cur *tasks.Task) error {
		cur.PendingMessages = append(cur.PendingMessages, tasks.PendingMessage{
			ID:        msgID,
			Platform:  draft.Platform,
			Recipient: draft.Recipient,
			Subject:   draft.Subject,
			Body:      draft.Body,
			CreatedAt: g.now(),
		})
		if cur.Status != tasks.StatusWaitingApproval {
			return cur.Transition(tasks.StatusWaitingApproval)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue pending message: %w", err)
	}

	g.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.ApprovalRequestedPayload{
		TaskID:    updated.ID,
		MessageID: msgID,
		Platform:  draft.Platform,
		Recipient: draft.Recipient,
		Subject:   draft.Subject,
		Body:      draft.Body,
	}, updated.ID))

	return &Result{PendingInTask: true, TaskID: updated.ID, MessageID: msgID}, nil
}

// waitEphemeral registers a confirmation and blocks until it is approved,
// rejected, times out, or the context ends. The registry entry is removed
// on every path, so a confirmation can never linger.
func (g *Gate) waitEphemeral(ctx context.Context, draft Draft) (*Result, error) {
	id := tasks.GenerateMessageID()
	e := &ephemeral{draft: draft, created: g.now(), ch: make(chan resolution, 1)}

	g.mu.Lock()
	g.pending[id] = e
	g.mu.Unlock()

	g.bus.Publish(events.NewTypedEvent(events.SourceEngine, events.ApprovalRequestedPayload{
		MessageID: id,
		Platform:  draft.Platform,
		Recipient: draft.Recipient,
		Subject:   draft.Subject,
		Body:      draft.Body,
	}))

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	// Approve, reject, timeout, and cancellation race here; whichever
	// wins is the single terminal outcome.
	select {
	case res := <-e.ch:
		outcome := "rejected"
		if res.approved {
			outcome = "approved"
		}
		g.publishResolved(id, outcome)
		if res.approved {
			return &Result{Approved: true}, nil
		}
		reason := res.reason
		if reason == "" {
			reason = "rejected by user"
		}
		return &Result{Reason: reason}, nil
	case <-timer.C:
		g.remove(id)
		g.publishResolved(id, "timeout")
		return &Result{Reason: fmt.Sprintf("confirmation timed out after %s", g.timeout)}, nil
	case <-ctx.Done():
		g.remove(id)
		return nil, ctx.Err()
	}
}

// Approve resolves an ephemeral confirmation. Returns false when the id
// is unknown or already resolved.
func (g *Gate) Approve(id string) bool {
	return g.resolve(id, resolution{approved: true})
}

// Reject resolves an ephemeral confirmation negatively.
func (g *Gate) Reject(id, reason string) bool {
	return g.resolve(id, resolution{reason: reason})
}

func (g *Gate) resolve(id string, res resolution) bool {
	g.mu.Lock()
	e, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	e.ch <- res
	return true
}

func (g *Gate) remove(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

// Pending lists outstanding ephemeral confirmations.
func (g *Gate) Pending() []PendingConfirmation {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PendingConfirmation, 0, len(g.pending))
	for id, e := range g.pending {
		out = append(out, PendingConfirmation{ID: id, Draft: e.draft, CreatedAt: e.created})
	}
	return out
}

// Clear drops all ephemeral confirmations, rejecting their waiters. Used
// on logout and shutdown.
func (g *Gate) Clear() {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[string]*ephemeral)
	g.mu.Unlock()

	for id, e := range pending {
		e.ch <- resolution{reason: "confirmation cancelled"}
		slog.Debug("cleared pending confirmation", "id", id)
	}
}

func (g *Gate) publishResolved(id, outcome string) {
	g.bus.Publish(events.NewTypedEvent(events.SourceEngine, events.ApprovalResolvedPayload{
		MessageID: id,
		Outcome:   outcome,
	}))
}
