package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/enum"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr error
	committed bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getOrderForUpdateFn     func(ctx context.Context, id uuid.UUID) (database.Order, error)
	getOrderFn              func(ctx context.Context, id uuid.UUID) (database.Order, error)
	updateOrderAssignmentFn func(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error)
	advanceOrderStatusFn    func(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error)
	cancelOrderFn           func(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
	insertHistoryFn         func(ctx context.Context, arg database.InsertHistoryParams) (database.OrderHistoryEntry, error)
	listHistoryByOrderFn    func(ctx context.Context, orderID uuid.UUID) ([]database.OrderHistoryEntry, error)
	getUserByIDFn           func(ctx context.Context, id uuid.UUID) (database.User, error)

	insertedComments []string
}

func (m *mockOrderStore) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error) {
	if m.getOrderForUpdateFn != nil {
		return m.getOrderForUpdateFn(ctx, id)
	}
	return database.Order{}, pgx.ErrNoRows
}
func (m *mockOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	if m.getOrderFn != nil {
		return m.getOrderFn(ctx, id)
	}
	return database.Order{}, pgx.ErrNoRows
}
func (m *mockOrderStore) UpdateOrderAssignment(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error) {
	if m.updateOrderAssignmentFn != nil {
		return m.updateOrderAssignmentFn(ctx, arg)
	}
	return database.Order{}, pgx.ErrNoRows
}
func (m *mockOrderStore) AdvanceOrderStatus(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error) {
	if m.advanceOrderStatusFn != nil {
		return m.advanceOrderStatusFn(ctx, arg)
	}
	return database.Order{}, pgx.ErrNoRows
}
func (m *mockOrderStore) CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error) {
	if m.cancelOrderFn != nil {
		return m.cancelOrderFn(ctx, arg)
	}
	return database.Order{}, pgx.ErrNoRows
}
func (m *mockOrderStore) InsertHistory(ctx context.Context, arg database.InsertHistoryParams) (database.OrderHistoryEntry, error) {
	m.insertedComments = append(m.insertedComments, arg.Comment)
	if m.insertHistoryFn != nil {
		return m.insertHistoryFn(ctx, arg)
	}
	return database.OrderHistoryEntry{
		ID:        uuid.New(),
		OrderID:   arg.OrderID,
		Status:    arg.Status,
		Comment:   arg.Comment,
		CreatedBy: arg.CreatedBy,
		CreatedAt: time.Now(),
	}, nil
}
func (m *mockOrderStore) ListHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderHistoryEntry, error) {
	if m.listHistoryByOrderFn != nil {
		return m.listHistoryByOrderFn(ctx, orderID)
	}
	return []database.OrderHistoryEntry{}, nil
}
func (m *mockOrderStore) GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error) {
	if m.getUserByIDFn != nil {
		return m.getUserByIDFn(ctx, id)
	}
	return database.User{}, pgx.ErrNoRows
}

// --- Test helpers ---

func newTestService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, newStore), tx
}

func picker() Actor {
	return Actor{ID: uuid.New(), Role: enum.RolePicker, FullName: "Иван Петров", Position: "Сборщик"}
}

func pendingOrder(id uuid.UUID) database.Order {
	return database.Order{
		ID:          id,
		OrderNumber: "VTR-001",
		ClientID:    uuid.New(),
		Status:      enum.OrderStatusPending,
	}
}

// --- Take ---

func TestTakeUnassignedPendingOrder(t *testing.T) {
	orderID := uuid.New()
	actor := picker()

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(orderID), nil
		},
		updateOrderAssignmentFn: func(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = arg.AssignedTo
			return o, nil
		},
	}
	svc, tx := newTestService(store)

	result, err := svc.Take(context.Background(), orderID, actor)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if !tx.committed {
		t.Error("expected transaction commit")
	}
	if !result.Order.AssignedTo.Valid || uuid.UUID(result.Order.AssignedTo.Bytes) != actor.ID {
		t.Errorf("order not assigned to actor: %+v", result.Order.AssignedTo)
	}
	if len(store.insertedComments) != 1 {
		t.Fatalf("expected 1 history comment, got %d", len(store.insertedComments))
	}
	want := "Сборщик Иван Петров взял заказ в работу"
	if store.insertedComments[0] != want {
		t.Errorf("comment = %q, want %q", store.insertedComments[0], want)
	}
	if len(result.History) != 1 {
		t.Errorf("expected history in result, got %d entries", len(result.History))
	}
}

func TestTakeAssignedToOtherEmployee(t *testing.T) {
	orderID := uuid.New()
	other := uuid.New()

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = pgtype.UUID{Bytes: other, Valid: true}
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	_, err := svc.Take(context.Background(), orderID, picker())
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Errorf("expected ErrAlreadyAssigned, got %v", err)
	}
	if len(store.insertedComments) != 0 {
		t.Error("no history should be written on rejection")
	}
}

func TestTakeIdempotentForCurrentAssignee(t *testing.T) {
	orderID := uuid.New()
	actor := picker()

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = pgtype.UUID{Bytes: actor.ID, Valid: true}
			return o, nil
		},
	}
	svc, tx := newTestService(store)

	result, err := svc.Take(context.Background(), orderID, actor)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if !tx.committed {
		t.Error("expected commit")
	}
	if len(store.insertedComments) != 0 {
		t.Errorf("repeated take must not append history, got %v", store.insertedComments)
	}
	if !result.Order.AssignedTo.Valid {
		t.Error("order should remain assigned")
	}
}

func TestTakeTerminalStatus(t *testing.T) {
	for _, status := range []string{enum.OrderStatusDelivered, enum.OrderStatusCancelled, enum.OrderStatusReturned} {
		store := &mockOrderStore{
			getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
				o := pendingOrder(id)
				o.Status = status
				return o, nil
			},
		}
		svc, _ := newTestService(store)
		_, err := svc.Take(context.Background(), uuid.New(), picker())
		if !errors.Is(err, ErrTerminalStatus) {
			t.Errorf("status %s: expected ErrTerminalStatus, got %v", status, err)
		}
	}
}

func TestTakeWrongRoleForStage(t *testing.T) {
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(id)
			o.Status = enum.OrderStatusConfirmed // packer's stage
			return o, nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.Take(context.Background(), uuid.New(), picker())
	if !errors.Is(err, ErrWrongRole) {
		t.Errorf("expected ErrWrongRole, got %v", err)
	}
}

func TestTakeNonStageStatus(t *testing.T) {
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(id)
			o.Status = enum.OrderStatusWaitingStock
			return o, nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.Take(context.Background(), uuid.New(), picker())
	if !errors.Is(err, ErrNotActiveStage) {
		t.Errorf("expected ErrNotActiveStage, got %v", err)
	}
}

func TestTakeRejectedAfterOwnCompletion(t *testing.T) {
	actor := picker()
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(id), nil
		},
		listHistoryByOrderFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderHistoryEntry, error) {
			return []database.OrderHistoryEntry{{
				Status:    enum.OrderStatusConfirmed,
				Comment:   "Сборщик Иван Петров сборка завершена",
				CreatedAt: time.Now(),
			}}, nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.Take(context.Background(), uuid.New(), actor)
	if !errors.Is(err, ErrStageAlreadyDone) {
		t.Errorf("expected ErrStageAlreadyDone, got %v", err)
	}
}

func TestTakeOrderNotFound(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})
	_, err := svc.Take(context.Background(), uuid.New(), picker())
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected pgx.ErrNoRows, got %v", err)
	}
}

// --- CompleteStage ---

func TestCompleteStageAdvancesAndClearsAssignment(t *testing.T) {
	orderID := uuid.New()
	actor := picker()

	var advanced database.AdvanceOrderStatusParams
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = pgtype.UUID{Bytes: actor.ID, Valid: true}
			return o, nil
		},
		advanceOrderStatusFn: func(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error) {
			advanced = arg
			o := pendingOrder(orderID)
			o.Status = arg.Status
			o.AssignedTo = arg.AssignedTo
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.CompleteStage(context.Background(), orderID, actor, "всё собрано")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if advanced.Status != enum.OrderStatusConfirmed {
		t.Errorf("advanced to %s, want CONFIRMED", advanced.Status)
	}
	if advanced.ExpectedStatus != enum.OrderStatusPending {
		t.Errorf("expected-status precondition = %s, want PENDING", advanced.ExpectedStatus)
	}
	if advanced.AssignedTo.Valid {
		t.Error("assignment must be cleared on completion")
	}
	if result.Order.Status != enum.OrderStatusConfirmed {
		t.Errorf("result status = %s", result.Order.Status)
	}
	if len(store.insertedComments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(store.insertedComments))
	}
	want := "Сборщик Иван Петров сборка завершена: всё собрано"
	if store.insertedComments[0] != want {
		t.Errorf("comment = %q, want %q", store.insertedComments[0], want)
	}
}

func TestCompleteStageRequiresAssignee(t *testing.T) {
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(id), nil // unassigned
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.CompleteStage(context.Background(), uuid.New(), picker(), "")
	if !errors.Is(err, ErrNotAssignee) {
		t.Errorf("expected ErrNotAssignee, got %v", err)
	}
}

func TestCompleteStageByOtherEmployee(t *testing.T) {
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(id)
			o.AssignedTo = pgtype.UUID{Bytes: uuid.New(), Valid: true}
			return o, nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.CompleteStage(context.Background(), uuid.New(), picker(), "")
	if !errors.Is(err, ErrNotAssignee) {
		t.Errorf("expected ErrNotAssignee, got %v", err)
	}
}

func TestCompleteStageCommentTooLong(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})
	long := strings.Repeat("ф", 501)
	_, err := svc.CompleteStage(context.Background(), uuid.New(), picker(), long)
	if !errors.Is(err, ErrCommentTooLong) {
		t.Errorf("expected ErrCommentTooLong, got %v", err)
	}
}

func TestCompleteStageCourierDelivers(t *testing.T) {
	orderID := uuid.New()
	courier := Actor{ID: uuid.New(), Role: enum.RoleCourier, FullName: "Олег Сидоров", Position: "Курьер"}

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.Status = enum.OrderStatusInDelivery
			o.AssignedTo = pgtype.UUID{Bytes: courier.ID, Valid: true}
			return o, nil
		},
		advanceOrderStatusFn: func(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error) {
			o := pendingOrder(orderID)
			o.Status = arg.Status
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.CompleteStage(context.Background(), orderID, courier, "")
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if result.Order.Status != enum.OrderStatusDelivered {
		t.Errorf("status = %s, want DELIVERED", result.Order.Status)
	}
	want := "Курьер Олег Сидоров заказ доставлен"
	if store.insertedComments[0] != want {
		t.Errorf("comment = %q, want %q", store.insertedComments[0], want)
	}
}

// --- Cancel ---

func TestCancelByClientAllowedStatuses(t *testing.T) {
	orderID := uuid.New()
	client := Actor{ID: uuid.New(), Role: enum.RoleClient, FullName: "Мария К."}

	var gotAllowed []string
	store := &mockOrderStore{
		cancelOrderFn: func(ctx context.Context, arg database.CancelOrderParams) (database.Order, error) {
			gotAllowed = arg.AllowedStatuses
			o := pendingOrder(orderID)
			o.Status = enum.OrderStatusCancelled
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.Cancel(context.Background(), orderID, client, "передумала")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if result.Order.Status != enum.OrderStatusCancelled {
		t.Errorf("status = %s", result.Order.Status)
	}
	wantAllowed := []string{enum.OrderStatusPendingPayment, enum.OrderStatusPending, enum.OrderStatusWaitingStock}
	if len(gotAllowed) != len(wantAllowed) {
		t.Fatalf("allowed statuses = %v, want %v", gotAllowed, wantAllowed)
	}
	for i := range wantAllowed {
		if gotAllowed[i] != wantAllowed[i] {
			t.Errorf("allowed[%d] = %s, want %s", i, gotAllowed[i], wantAllowed[i])
		}
	}
	if store.insertedComments[0] != "Заказ отменён: передумала" {
		t.Errorf("comment = %q", store.insertedComments[0])
	}
}

func TestCancelRejectedWhenStatusNotAllowed(t *testing.T) {
	orderID := uuid.New()
	client := Actor{ID: uuid.New(), Role: enum.RoleClient}

	store := &mockOrderStore{
		cancelOrderFn: func(ctx context.Context, arg database.CancelOrderParams) (database.Order, error) {
			return database.Order{}, pgx.ErrNoRows
		},
		getOrderFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.Status = enum.OrderStatusInDelivery
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	_, err := svc.Cancel(context.Background(), orderID, client, "")
	if !errors.Is(err, ErrCannotCancel) {
		t.Errorf("expected ErrCannotCancel, got %v", err)
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})
	_, err := svc.Cancel(context.Background(), uuid.New(), picker(), "")
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected pgx.ErrNoRows, got %v", err)
	}
}

// --- UpdateStatus ---

func TestUpdateStatusValidTransition(t *testing.T) {
	orderID := uuid.New()
	admin := Actor{ID: uuid.New(), Role: enum.RoleAdmin, FullName: "Админ Админов"}

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.Status = enum.OrderStatusPendingPayment
			return o, nil
		},
		advanceOrderStatusFn: func(ctx context.Context, arg database.AdvanceOrderStatusParams) (database.Order, error) {
			o := pendingOrder(orderID)
			o.Status = arg.Status
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.UpdateStatus(context.Background(), orderID, admin, enum.OrderStatusPending, "оплата получена")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if result.Order.Status != enum.OrderStatusPending {
		t.Errorf("status = %s", result.Order.Status)
	}
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(id), nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.UpdateStatus(context.Background(), uuid.New(), Actor{Role: enum.RoleAdmin}, enum.OrderStatusDelivered, "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})
	_, err := svc.UpdateStatus(context.Background(), uuid.New(), Actor{Role: enum.RoleAdmin}, "SHIPPED", "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

// --- Reassign ---

func TestReassignToMatchingRole(t *testing.T) {
	orderID := uuid.New()
	assigneeID := uuid.New()

	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(orderID), nil
		},
		getUserByIDFn: func(ctx context.Context, id uuid.UUID) (database.User, error) {
			return database.User{ID: assigneeID, FullName: "Пётр Новый", Role: enum.RolePicker}, nil
		},
		updateOrderAssignmentFn: func(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = arg.AssignedTo
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.Reassign(context.Background(), orderID, Actor{ID: uuid.New(), Role: enum.RoleAdmin}, &assigneeID)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if !result.Order.AssignedTo.Valid || uuid.UUID(result.Order.AssignedTo.Bytes) != assigneeID {
		t.Error("order not assigned to target employee")
	}
}

func TestReassignRoleMismatch(t *testing.T) {
	assigneeID := uuid.New()
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return pendingOrder(id), nil // picker stage
		},
		getUserByIDFn: func(ctx context.Context, id uuid.UUID) (database.User, error) {
			return database.User{ID: assigneeID, Role: enum.RoleCourier}, nil
		},
	}
	svc, _ := newTestService(store)
	_, err := svc.Reassign(context.Background(), uuid.New(), Actor{Role: enum.RoleAdmin}, &assigneeID)
	if !errors.Is(err, ErrAssigneeRole) {
		t.Errorf("expected ErrAssigneeRole, got %v", err)
	}
}

func TestReassignReleaseClearsAssignment(t *testing.T) {
	orderID := uuid.New()
	var cleared bool
	store := &mockOrderStore{
		getOrderForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			o := pendingOrder(orderID)
			o.AssignedTo = pgtype.UUID{Bytes: uuid.New(), Valid: true}
			return o, nil
		},
		updateOrderAssignmentFn: func(ctx context.Context, arg database.UpdateOrderAssignmentParams) (database.Order, error) {
			cleared = !arg.AssignedTo.Valid
			o := pendingOrder(orderID)
			o.AssignedTo = arg.AssignedTo
			return o, nil
		},
	}
	svc, _ := newTestService(store)

	result, err := svc.Reassign(context.Background(), orderID, Actor{ID: uuid.New(), Role: enum.RoleAdmin}, nil)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if !cleared {
		t.Error("expected assignment cleared")
	}
	if result.Order.AssignedTo.Valid {
		t.Error("result should be unassigned")
	}
}
