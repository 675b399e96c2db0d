// Package client is the order-processing workflow library the staff and
// customer apps embed: an HTTP adapter for the orders API, an optimistic
// action overlay, and reconciliation of server state against local actions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/vitrina-retail/api/internal/history"
)

// Sentinel errors mapped from API status codes.
var (
	ErrNotFound     = errors.New("order not found")
	ErrForbidden    = errors.New("action forbidden")
	ErrConflict     = errors.New("order state conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusMeta is the display metadata the API attaches to each status.
type StatusMeta struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Assignee identifies the employee currently working an order.
type Assignee struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Position string `json:"position"`
}

// Item is one order line.
type Item struct {
	ID          string `json:"id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// OrderSummary is the list-view shape of an order.
type OrderSummary struct {
	ID          string     `json:"id"`
	OrderNumber string     `json:"order_number"`
	ClientID    string     `json:"client_id"`
	Status      string     `json:"status"`
	StatusMeta  StatusMeta `json:"status_meta"`
	AssignedTo  *Assignee  `json:"assigned_to"`
	TotalAmount string     `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OrderDetail is the full order view: summary plus items, the raw audit
// trail, and the steps the server reconstructed from it.
type OrderDetail struct {
	OrderSummary
	Items         []Item          `json:"items"`
	StatusHistory []history.Entry `json:"status_history"`
	Steps         []history.Step  `json:"steps"`
}

type orderListResponse struct {
	Orders []OrderSummary `json:"orders"`
}

// ListQuery filters the order list.
type ListQuery struct {
	View         string // "queue" or "history"
	Statuses     []string
	AssignedToMe bool
	Limit        int
	Offset       int
}

// API exposes the order operations the workflows need.
type API interface {
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
	ListOrders(ctx context.Context, q ListQuery) ([]OrderSummary, error)
	TakeOrder(ctx context.Context, orderID string) (*OrderDetail, error)
	CompleteStage(ctx context.Context, orderID, comment string) (*OrderDetail, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*OrderDetail, error)
}

// HTTPClient implements API over the REST backend.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// NewHTTPClient creates an HTTP orders client with a default timeout.
// token is the bearer access token of the signed-in user.
func NewHTTPClient(baseURL, token string) (*HTTPClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("api url must be absolute")
	}
	return &HTTPClient{
		baseURL: parsed,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// SetToken replaces the bearer token after a refresh.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetOrder fetches the order detail view.
func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	var detail OrderDetail
	if err := c.do(ctx, http.MethodGet, path.Join("/orders", orderID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListOrders fetches an order list with the given filters.
func (c *HTTPClient) ListOrders(ctx context.Context, q ListQuery) ([]OrderSummary, error) {
	endpoint := "/orders?" + q.values().Encode()
	var resp orderListResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// TakeOrder claims the current stage of the order for the signed-in employee.
func (c *HTTPClient) TakeOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	var detail OrderDetail
	if err := c.do(ctx, http.MethodPost, path.Join("/orders", orderID, "take"), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CompleteStage finishes the employee's stage with an optional comment.
func (c *HTTPClient) CompleteStage(ctx context.Context, orderID, comment string) (*OrderDetail, error) {
	body := map[string]string{"comment": comment}
	var detail OrderDetail
	if err := c.do(ctx, http.MethodPost, path.Join("/orders", orderID, "complete-stage"), body, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CancelOrder cancels the order with an optional reason.
func (c *HTTPClient) CancelOrder(ctx context.Context, orderID, reason string) (*OrderDetail, error) {
	body := map[string]string{"reason": reason}
	var detail OrderDetail
	if err := c.do(ctx, http.MethodPut, path.Join("/orders", orderID, "cancel"), body, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.View != "" {
		v.Set("view", q.View)
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.AssignedToMe {
		v.Set("assigned_to_me", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	u := *c.baseURL
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		u.Path = path.Join(u.Path, endpoint[:i])
		u.RawQuery = endpoint[i+1:]
	} else {
		u.Path = path.Join(u.Path, endpoint)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return apiError(resp)
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	default:
		return fmt.Errorf("api error %d: %s", resp.StatusCode, msg)
	}
}
