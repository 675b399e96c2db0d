package client

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/vitrina-retail/api/internal/enum"
	"github.com/vitrina-retail/api/internal/history"
	"github.com/vitrina-retail/api/internal/stage"
)

const maxCommentLength = 500

// Eligibility errors, returned before any overlay write or network call.
var (
	ErrTakeNotAllowed     = errors.New("order cannot be taken")
	ErrCompleteNotAllowed = errors.New("stage cannot be completed")
	ErrCommentTooLong     = errors.New("comment exceeds 500 characters")
)

// Actor is the signed-in employee the workflow acts for.
type Actor struct {
	ID       string
	Role     string
	FullName string
	Position string
}

// Workflow drives the take/complete flows with optimistic overlay updates
// and reconciles them against server responses.
type Workflow struct {
	api     API
	overlay *Overlay
	actor   Actor
}

// NewWorkflow creates a workflow for one signed-in employee.
func NewWorkflow(api API, overlay *Overlay, actor Actor) *Workflow {
	return &Workflow{api: api, overlay: overlay, actor: actor}
}

// CanTake reports whether the take button should be offered: the order is in
// the actor's stage, not claimed by someone else, the actor hasn't already
// completed this stage, and no optimistic action is pending.
func (w *Workflow) CanTake(o *OrderDetail) bool {
	if stage.RoleForStatus(o.Status) != w.actor.Role {
		return false
	}
	if o.AssignedTo != nil && o.AssignedTo.ID != w.actor.ID {
		return false
	}
	if w.hasCompletedStage(o) {
		return false
	}
	if a, ok := w.overlay.Get(o.ID); ok && (a.Taken || a.Completed) {
		return false
	}
	return true
}

// CanComplete reports whether the complete button should be offered: the
// order is in the actor's stage and either the server or a pending
// optimistic take says the actor holds it.
func (w *Workflow) CanComplete(o *OrderDetail) bool {
	if stage.RoleForStatus(o.Status) != w.actor.Role {
		return false
	}
	a, pending := w.overlay.Get(o.ID)
	if pending && a.Completed {
		return false
	}
	holds := o.AssignedTo != nil && o.AssignedTo.ID == w.actor.ID
	if !holds && !(pending && a.Taken) {
		return false
	}
	return true
}

// Take claims the order optimistically, calls the API, and reconciles.
// Ineligible takes are rejected before the overlay or the network is
// touched; on a backend failure the overlay entry is rolled back so the UI
// returns to the server view.
func (w *Workflow) Take(ctx context.Context, o *OrderDetail) (*OrderDetail, error) {
	if !w.CanTake(o) {
		return nil, ErrTakeNotAllowed
	}
	w.overlay.SetTaken(o.ID, o.Status, len(o.StatusHistory), w.tempStep(o.Status, enum.StepStarted))

	updated, err := w.api.TakeOrder(ctx, o.ID)
	if err != nil {
		w.overlay.Clear(o.ID)
		return nil, err
	}

	w.Reconcile(updated)
	return updated, nil
}

// Complete finishes the actor's stage optimistically, calls the API, and
// reconciles. Eligibility and the comment length limit are checked up
// front; rollback mirrors Take.
func (w *Workflow) Complete(ctx context.Context, o *OrderDetail, comment string) (*OrderDetail, error) {
	if !w.CanComplete(o) {
		return nil, ErrCompleteNotAllowed
	}
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, ErrCommentTooLong
	}
	w.overlay.SetCompleted(o.ID, o.Status, len(o.StatusHistory), w.tempStep(o.Status, enum.StepCompleted))

	updated, err := w.api.CompleteStage(ctx, o.ID, comment)
	if err != nil {
		w.overlay.Clear(o.ID)
		return nil, err
	}

	w.Reconcile(updated)
	return updated, nil
}

// Cancel cancels the order. No overlay: cancellation renders from the
// server response directly.
func (w *Workflow) Cancel(ctx context.Context, orderID, reason string) (*OrderDetail, error) {
	return w.api.CancelOrder(ctx, orderID, reason)
}

// Steps merges the server audit trail with any pending optimistic steps.
func (w *Workflow) Steps(o *OrderDetail) []history.Step {
	return history.Reconstruct(o.StatusHistory, w.overlay.TempSteps(o.ID))
}

// Reconcile compares a fresh server view against the pending overlay entry
// and clears the entry once the server reflects the action: a take is
// confirmed when the assignment shows up, a completion when the status moved
// on and the audit trail grew.
func (w *Workflow) Reconcile(o *OrderDetail) {
	a, ok := w.overlay.Get(o.ID)
	if !ok {
		return
	}

	if a.Completed {
		if o.Status != a.StatusAtAction && len(o.StatusHistory) > a.HistoryLenAtAction {
			w.overlay.Clear(o.ID)
		}
		return
	}

	if a.Taken && o.AssignedTo != nil && o.AssignedTo.ID == w.actor.ID {
		w.overlay.Clear(o.ID)
	}
}

// WatchReconcile polls the order until the pending overlay entry clears,
// the entry expires, or the context is cancelled. It covers the case where
// the confirming change is made by another actor or arrives late.
func (w *Workflow) WatchReconcile(ctx context.Context, orderID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, ok := w.overlay.Get(orderID); !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		o, err := w.api.GetOrder(ctx, orderID)
		if err != nil {
			// Transient fetch errors just delay reconciliation.
			continue
		}
		w.Reconcile(o)
	}
}

// hasCompletedStage checks the server-derived steps for a completion by this
// actor. Falls back to parsing the raw trail when steps were not populated.
func (w *Workflow) hasCompletedStage(o *OrderDetail) bool {
	steps := o.Steps
	if steps == nil {
		steps = history.Parse(o.StatusHistory)
	}
	for _, s := range steps {
		if s.Role == w.actor.Role && s.StepType == enum.StepCompleted && s.EmployeeName == w.actor.FullName {
			return true
		}
	}
	return false
}

func (w *Workflow) tempStep(status, stepType string) history.Step {
	return history.Step{
		Status:           status,
		Role:             w.actor.Role,
		RoleLabel:        enum.RoleLabel(w.actor.Role),
		StepType:         stepType,
		EmployeeName:     w.actor.FullName,
		EmployeePosition: w.actor.Position,
		CreatedAt:        time.Now(),
		IsTemporary:      true,
	}
}
