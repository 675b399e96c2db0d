package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/enum"
	"github.com/vitrina-retail/api/internal/history"
	"github.com/vitrina-retail/api/internal/stage"
)

const maxCommentLength = 500

// Errors returned by the order service.
var (
	ErrTerminalStatus   = errors.New("order is in a terminal status")
	ErrNotActiveStage   = errors.New("order is not in an active processing stage")
	ErrWrongRole        = errors.New("order stage does not match employee role")
	ErrAlreadyAssigned  = errors.New("order is assigned to another employee")
	ErrNotAssignee      = errors.New("order is not assigned to this employee")
	ErrStageAlreadyDone = errors.New("employee already completed this stage")
	ErrCommentTooLong   = errors.New("comment exceeds 500 characters")
	ErrCannotCancel     = errors.New("order cannot be cancelled in its current status")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrAssigneeRole     = errors.New("assignee role does not match the order stage")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods the workflows need.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateOrderAssignment(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error)
	AdvanceOrderStatus(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
	InsertHistory(ctx context.Context, arg database.InsertHistoryParams) (database.OrderHistoryEntry, error)
	ListHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderHistoryEntry, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// Actor identifies who performs a workflow action. Name and position feed
// the history comment templates.
type Actor struct {
	ID       uuid.UUID
	Role     string
	FullName string
	Position string
}

// OrderResult is the updated order with its full audit trail. Mutation
// responses carry it so clients reconcile without a delayed refetch.
type OrderResult struct {
	Order   database.Order
	History []database.OrderHistoryEntry
}

// OrderService owns the order state-machine workflows.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore) *OrderService {
	return &OrderService{pool: pool, newStore: newStore}
}

// Take assigns the current stage of an order to the actor. Taking an order
// already assigned to the same actor is a no-op success.
func (s *OrderService) Take(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if stage.IsTerminal(order.Status) {
		return nil, ErrTerminalStatus
	}
	stageRole := stage.RoleForStatus(order.Status)
	if stageRole == "" {
		return nil, ErrNotActiveStage
	}
	if stageRole != actor.Role {
		return nil, ErrWrongRole
	}
	if order.AssignedTo.Valid && uuid.UUID(order.AssignedTo.Bytes) != actor.ID {
		return nil, ErrAlreadyAssigned
	}

	entries, err := store.ListHistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if hasCompletedStage(entries, actor) {
		return nil, ErrStageAlreadyDone
	}

	// Repeated take by the current assignee: confirm without a new audit row.
	if order.AssignedTo.Valid && uuid.UUID(order.AssignedTo.Bytes) == actor.ID {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return &OrderResult{Order: order, History: entries}, nil
	}

	updated, err := store.UpdateOrderAssignment(ctx, database.UpdateOrderAssignmentParams{
		ID:         orderID,
		AssignedTo: pgtype.UUID{Bytes: actor.ID, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("assign order: %w", err)
	}

	entry, err := store.InsertHistory(ctx, database.InsertHistoryParams{
		OrderID:   orderID,
		Status:    updated.Status,
		Comment:   history.FormatComment(actor.Role, actor.FullName, history.StartPhrase(actor.Role), ""),
		CreatedBy: pgtype.UUID{Bytes: actor.ID, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: updated, History: append(entries, entry)}, nil
}

// CompleteStage advances the order to the next status, clears the
// assignment, and logs the completion with an optional note.
func (s *OrderService) CompleteStage(ctx context.Context, orderID uuid.UUID, actor Actor, note string) (*OrderResult, error) {
	if utf8.RuneCountInString(note) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	stageRole := stage.RoleForStatus(order.Status)
	if stageRole == "" {
		return nil, ErrNotActiveStage
	}
	if stageRole != actor.Role {
		return nil, ErrWrongRole
	}
	if !order.AssignedTo.Valid || uuid.UUID(order.AssignedTo.Bytes) != actor.ID {
		return nil, ErrNotAssignee
	}

	next, ok := stage.NextStatus(order.Status)
	if !ok {
		return nil, ErrNotActiveStage
	}

	// Assignment is cleared on completion: assigned_to is only ever
	// non-null while a stage is actively being worked.
	updated, err := store.AdvanceOrderStatus(ctx, database.AdvanceOrderStatusParams{
		ID:             orderID,
		Status:         next,
		ExpectedStatus: order.Status,
		AssignedTo:     pgtype.UUID{},
	})
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}

	if _, err := store.InsertHistory(ctx, database.InsertHistoryParams{
		OrderID:   orderID,
		Status:    next,
		Comment:   history.FormatComment(actor.Role, actor.FullName, history.CompletePhrase(actor.Role), note),
		CreatedBy: pgtype.UUID{Bytes: actor.ID, Valid: true},
	}); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	entries, err := store.ListHistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: updated, History: entries}, nil
}

// Cancel moves the order to CANCELLED if the actor's role allows it from
// the current status. The update precondition is atomic; a concurrent
// status change surfaces as ErrCannotCancel.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*OrderResult, error) {
	if utf8.RuneCountInString(reason) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	allowed := cancellableStatuses(actor.Role)
	updated, err := store.CancelOrder(ctx, database.CancelOrderParams{
		ID:              orderID,
		Status:          enum.OrderStatusCancelled,
		AllowedStatuses: allowed,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not found, or status outside the allowed set. Fetch to tell
			// the two apart.
			if _, fetchErr := store.GetOrder(ctx, orderID); fetchErr != nil {
				return nil, fetchErr
			}
			return nil, ErrCannotCancel
		}
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	comment := "Заказ отменён"
	if reason != "" {
		comment += ": " + reason
	}
	if _, err := store.InsertHistory(ctx, database.InsertHistoryParams{
		OrderID:   orderID,
		Status:    enum.OrderStatusCancelled,
		Comment:   comment,
		CreatedBy: pgtype.UUID{Bytes: actor.ID, Valid: true},
	}); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	entries, err := store.ListHistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: updated, History: entries}, nil
}

// UpdateStatus is the admin-only direct status change, validated against
// the transition map with an optimistic-concurrency precondition.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, actor Actor, target, comment string) (*OrderResult, error) {
	if !stage.IsValidStatus(target) {
		return nil, ErrInvalidStatus
	}
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, ErrCommentTooLong
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := stage.ValidateTransition(order.Status, target); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, err)
	}

	// A direct status change invalidates any in-progress stage work.
	updated, err := store.AdvanceOrderStatus(ctx, database.AdvanceOrderStatusParams{
		ID:             orderID,
		Status:         target,
		ExpectedStatus: order.Status,
		AssignedTo:     pgtype.UUID{},
	})
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if comment == "" {
		comment = fmt.Sprintf("Статус изменён администратором %s", actor.FullName)
	}
	if _, err := store.InsertHistory(ctx, database.InsertHistoryParams{
		OrderID:   orderID,
		Status:    target,
		Comment:   comment,
		CreatedBy: pgtype.UUID{Bytes: actor.ID, Valid: true},
	}); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	entries, err := store.ListHistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: updated, History: entries}, nil
}

// Reassign sets or clears the active assignee (admin tooling). A nil
// assignee releases the order back to the unassigned pool.
func (s *OrderService) Reassign(ctx context.Context, orderID uuid.UUID, actor Actor, assigneeID *uuid.UUID) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var target pgtype.UUID
	var comment string
	if assigneeID != nil {
		stageRole := stage.RoleForStatus(order.Status)
		if stageRole == "" {
			return nil, ErrNotActiveStage
		}
		assignee, err := store.GetUserByID(ctx, *assigneeID)
		if err != nil {
			return nil, fmt.Errorf("get assignee: %w", err)
		}
		if assignee.Role != stageRole {
			return nil, ErrAssigneeRole
		}
		target = pgtype.UUID{Bytes: *assigneeID, Valid: true}
		comment = fmt.Sprintf("Исполнитель назначен администратором: %s", assignee.FullName)
	} else {
		comment = "Исполнитель снят администратором"
	}

	updated, err := store.UpdateOrderAssignment(ctx, database.UpdateOrderAssignmentParams{
		ID:         orderID,
		AssignedTo: target,
	})
	if err != nil {
		return nil, fmt.Errorf("reassign order: %w", err)
	}

	if _, err := store.InsertHistory(ctx, database.InsertHistoryParams{
		OrderID:   orderID,
		Status:    updated.Status,
		Comment:   comment,
		CreatedBy: pgtype.UUID{Bytes: actor.ID, Valid: true},
	}); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	entries, err := store.ListHistoryByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: updated, History: entries}, nil
}

// --- Helpers ---

// hasCompletedStage reports whether the actor already logged a completion
// for their role on this order. The check reads the comment protocol, not
// a structured column; the backend never stored the actor role explicitly.
func hasCompletedStage(entries []database.OrderHistoryEntry, actor Actor) bool {
	for _, e := range entries {
		role, stepType, name, ok := history.ParseComment(e.Comment)
		if !ok {
			continue
		}
		if role == actor.Role && stepType == enum.StepCompleted && name == actor.FullName {
			return true
		}
	}
	return false
}

func cancellableStatuses(role string) []string {
	var out []string
	for _, s := range []string{
		enum.OrderStatusPendingPayment,
		enum.OrderStatusPending,
		enum.OrderStatusWaitingStock,
		enum.OrderStatusConfirmed,
		enum.OrderStatusInDelivery,
	} {
		if stage.CanCancel(s, role) {
			out = append(out, s)
		}
	}
	return out
}
