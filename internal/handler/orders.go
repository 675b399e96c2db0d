package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/enum"
	"github.com/vitrina-retail/api/internal/history"
	"github.com/vitrina-retail/api/internal/middleware"
	"github.com/vitrina-retail/api/internal/service"
	"github.com/vitrina-retail/api/internal/stage"
	"github.com/vitrina-retail/api/internal/ws"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	Take(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error)
	CompleteStage(ctx context.Context, orderID uuid.UUID, actor service.Actor, note string) (*service.OrderResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor service.Actor, reason string) (*service.OrderResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, actor service.Actor, target, comment string) (*service.OrderResult, error)
	Reassign(ctx context.Context, orderID uuid.UUID, actor service.Actor, assigneeID *uuid.UUID) (*service.OrderResult, error)
}

// OrderStore defines the database methods needed by order read handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderHistoryEntry, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
}

// EventBroadcaster pushes order events to subscribed staff clients.
// Satisfied by *ws.Hub.
type EventBroadcaster interface {
	BroadcastToRoles(roles []string, event ws.Event)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	store  OrderStore
	events EventBroadcaster
}

// NewOrderHandler creates a new OrderHandler. events may be nil in tests.
func NewOrderHandler(svc OrderServicer, store OrderStore, events EventBroadcaster) *OrderHandler {
	return &OrderHandler{svc: svc, store: store, events: events}
}

// RegisterRoutes registers endpoints available to any authenticated user.
// Clients see only their own orders; cancellation eligibility is enforced
// in the service layer.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/cancel", h.Cancel)
}

// RegisterStaffRoutes registers the take/complete workflow endpoints.
// Expected to be mounted behind RequireStaff.
func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Post("/{id}/take", h.Take)
	r.Post("/{id}/complete-stage", h.CompleteStage)
}

// RegisterAdminRoutes registers admin-only order management endpoints.
func (h *OrderHandler) RegisterAdminRoutes(r chi.Router) {
	r.Put("/{id}/status", h.UpdateStatus)
	r.Get("/{id}/assign", h.Assign)
}

// --- Request / Response types ---

type completeStageRequest struct {
	Comment string `json:"comment"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

type statusMetaResponse struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

type assigneeResponse struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Position string    `json:"position"`
}

type historyEntryResponse struct {
	Status    string    `json:"status"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type orderItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductName string    `json:"product_name"`
	Quantity    int32     `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	Subtotal    string    `json:"subtotal"`
}

type orderResponse struct {
	ID          uuid.UUID          `json:"id"`
	OrderNumber string             `json:"order_number"`
	ClientID    uuid.UUID          `json:"client_id"`
	Status      string             `json:"status"`
	StatusMeta  statusMetaResponse `json:"status_meta"`
	AssignedTo  *assigneeResponse  `json:"assigned_to"`
	TotalAmount string             `json:"total_amount"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// orderDetailResponse extends orderResponse with items, the raw audit trail,
// and the structured steps reconstructed from it.
type orderDetailResponse struct {
	orderResponse
	Items         []orderItemResponse    `json:"items"`
	StatusHistory []historyEntryResponse `json:"status_history"`
	Steps         []history.Step         `json:"steps"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// List handles GET /orders. Staff filter by view (queue/history), explicit
// statuses, or their own assignments; clients always see only their orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	// Parse pagination
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListOrdersParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	}

	switch r.URL.Query().Get("view") {
	case "queue":
		params.Statuses = stage.RelevantStatuses(claims.Role)
	case "history":
		params.Statuses = stage.HistoryStatuses(claims.Role)
	case "":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "view must be queue or history"})
		return
	}

	if s := r.URL.Query().Get("status"); s != "" {
		for _, st := range strings.Split(s, ",") {
			st = strings.TrimSpace(st)
			if !stage.IsValidStatus(st) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status filter: " + st})
				return
			}
			params.Statuses = append(params.Statuses, st)
		}
	}

	if r.URL.Query().Get("assigned_to_me") == "true" {
		params.AssignedTo = pgtype.UUID{Bytes: claims.UserID, Valid: true}
	}

	// Clients never see other clients' orders regardless of filters.
	if claims.Role == enum.RoleClient {
		params.ClientID = pgtype.UUID{Bytes: claims.UserID, Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Resolve assignee names once per distinct user.
	assignees := make(map[uuid.UUID]*assigneeResponse)
	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
		if !o.AssignedTo.Valid {
			continue
		}
		id := uuid.UUID(o.AssignedTo.Bytes)
		if a, ok := assignees[id]; ok {
			resp[i].AssignedTo = a
			continue
		}
		user, err := h.store.GetUserByID(r.Context(), id)
		if err != nil {
			// A stale assignment must not break the list.
			if !errors.Is(err, pgx.ErrNoRows) {
				log.Printf("ERROR: resolve assignee %s: %v", id, err)
			}
			assignees[id] = nil
			continue
		}
		a := &assigneeResponse{ID: user.ID, FullName: user.FullName, Position: user.Position}
		assignees[id] = a
		resp[i].AssignedTo = a
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if claims.Role == enum.RoleClient && order.ClientID != claims.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	entries, err := h.store.ListHistoryByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list order history: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.writeOrderDetail(w, r.Context(), http.StatusOK, order, entries)
}

// Take handles POST /orders/{id}/take.
func (h *OrderHandler) Take(w http.ResponseWriter, r *http.Request) {
	h.runWorkflow(w, r, "take order", ws.EventOrderTaken,
		func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error) {
			return h.svc.Take(ctx, orderID, actor)
		})
}

// CompleteStage handles POST /orders/{id}/complete-stage.
func (h *OrderHandler) CompleteStage(w http.ResponseWriter, r *http.Request) {
	var req completeStageRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.runWorkflow(w, r, "complete stage", ws.EventOrderStageCompleted,
		func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error) {
			return h.svc.CompleteStage(ctx, orderID, actor, req.Comment)
		})
}

// Cancel handles PUT /orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.runWorkflow(w, r, "cancel order", ws.EventOrderCancelled,
		func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error) {
			return h.svc.Cancel(ctx, orderID, actor, req.Reason)
		})
}

// UpdateStatus handles PUT /orders/{id}/status (admin only).
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	h.runWorkflow(w, r, "update order status", ws.EventOrderStatusChanged,
		func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error) {
			return h.svc.UpdateStatus(ctx, orderID, actor, req.Status, req.Comment)
		})
}

// Assign handles GET /orders/{id}/assign?assigned_to_id=... (admin only).
// An empty assigned_to_id releases the order back to the unassigned pool.
// GET with side effects is unusual; the mobile clients already call it this
// way and the contract is kept.
func (h *OrderHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var assigneeID *uuid.UUID
	if s := r.URL.Query().Get("assigned_to_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid assigned_to_id"})
			return
		}
		assigneeID = &id
	}

	h.runWorkflow(w, r, "assign order", ws.EventOrderStatusChanged,
		func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error) {
			return h.svc.Reassign(ctx, orderID, actor, assigneeID)
		})
}

// --- Helpers ---

// runWorkflow is the shared skeleton of the mutation endpoints: parse the
// order ID, build the actor from claims, invoke the workflow, map errors,
// respond with the updated order plus full history, and broadcast the event.
func (h *OrderHandler) runWorkflow(
	w http.ResponseWriter,
	r *http.Request,
	op, eventType string,
	fn func(ctx context.Context, orderID uuid.UUID, actor service.Actor) (*service.OrderResult, error),
) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	actor := service.Actor{
		ID:       claims.UserID,
		Role:     claims.Role,
		FullName: claims.FullName,
		Position: claims.Position,
	}

	// Best effort: the pre-mutation status only steers event routing.
	prev, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		log.Printf("ERROR: %s: load order before mutation: %v", op, err)
	}

	result, err := fn(r.Context(), orderID, actor)
	if err != nil {
		writeWorkflowError(w, op, err)
		return
	}

	h.writeOrderDetail(w, r.Context(), http.StatusOK, result.Order, result.History)
	h.notify(eventType, prev.Status, result.Order)
}

// writeWorkflowError maps service sentinel errors onto HTTP statuses.
func writeWorkflowError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, service.ErrCommentTooLong),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrAssigneeRole):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrWrongRole),
		errors.Is(err, service.ErrNotAssignee):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrTerminalStatus),
		errors.Is(err, service.ErrNotActiveStage),
		errors.Is(err, service.ErrAlreadyAssigned),
		errors.Is(err, service.ErrStageAlreadyDone),
		errors.Is(err, service.ErrCannotCancel):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// writeOrderDetail enriches the order with items, assignee, raw history, and
// reconstructed steps, and writes the detail response.
func (h *OrderHandler) writeOrderDetail(w http.ResponseWriter, ctx context.Context, status int, order database.Order, entries []database.OrderHistoryEntry) {
	items, err := h.store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := orderDetailResponse{
		orderResponse: dbOrderToResponse(order),
		Items:         make([]orderItemResponse, len(items)),
		StatusHistory: make([]historyEntryResponse, len(entries)),
	}

	if order.AssignedTo.Valid {
		id := uuid.UUID(order.AssignedTo.Bytes)
		if user, err := h.store.GetUserByID(ctx, id); err == nil {
			resp.AssignedTo = &assigneeResponse{ID: user.ID, FullName: user.FullName, Position: user.Position}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("ERROR: resolve assignee %s: %v", id, err)
		}
	}

	for i, it := range items {
		resp.Items[i] = orderItemResponse{
			ID:          it.ID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   numericToString(it.UnitPrice),
			Subtotal:    numericToString(it.Subtotal),
		}
	}

	raw := make([]history.Entry, len(entries))
	for i, e := range entries {
		resp.StatusHistory[i] = historyEntryResponse{
			Status:    e.Status,
			Comment:   e.Comment,
			CreatedAt: e.CreatedAt,
		}
		raw[i] = history.Entry{Status: e.Status, Comment: e.Comment, CreatedAt: e.CreatedAt}
	}
	resp.Steps = history.Reconstruct(raw, nil)

	writeJSON(w, status, resp)
}

type orderEventPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
}

// notify broadcasts an order event to the role rooms whose queues the change
// touches: the stage role before, the stage role after, and admins.
func (h *OrderHandler) notify(eventType, prevStatus string, order database.Order) {
	if h.events == nil {
		return
	}

	payload, err := json.Marshal(orderEventPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
	})
	if err != nil {
		log.Printf("ERROR: marshal order event: %v", err)
		return
	}

	roles := []string{enum.RoleAdmin}
	for _, s := range []string{prevStatus, order.Status} {
		role := stage.RoleForStatus(s)
		if role == "" {
			continue
		}
		dup := false
		for _, r := range roles {
			if r == role {
				dup = true
				break
			}
		}
		if !dup {
			roles = append(roles, role)
		}
	}

	h.events.BroadcastToRoles(roles, ws.Event{Type: eventType, Payload: payload})
}

// decodeOptionalBody decodes a JSON body if one is present. Mutation
// endpoints with optional comments accept an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func dbOrderToResponse(o database.Order) orderResponse {
	meta := enum.MetaFor(o.Status)
	return orderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		ClientID:    o.ClientID,
		Status:      o.Status,
		StatusMeta:  statusMetaResponse{Label: meta.Label, Color: meta.Color, Icon: meta.Icon},
		TotalAmount: numericToString(o.TotalAmount),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
