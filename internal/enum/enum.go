package enum

// ── Order lifecycle (CHECK constrained in DB) ──

const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusPending        = "PENDING"
	OrderStatusWaitingStock   = "WAITING_STOCK"
	OrderStatusConfirmed      = "CONFIRMED"
	OrderStatusInDelivery     = "IN_DELIVERY"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusReturned       = "RETURNED"
)

const (
	StepStarted   = "started"
	StepCompleted = "completed"
)

// ── Actor roles (CHECK constrained in DB) ──

const (
	RoleClient  = "CLIENT"
	RolePicker  = "PICKER"
	RolePacker  = "PACKER"
	RoleCourier = "COURIER"
	RoleAdmin   = "ADMIN"
)

// ── Display metadata (no DB constraint) ──

// StatusMeta is display metadata for an order status.
type StatusMeta struct {
	Label string
	Color string
	Icon  string
}

var statusMeta = map[string]StatusMeta{
	OrderStatusPendingPayment: {Label: "Ожидает оплаты", Color: "#9E9E9E", Icon: "credit-card"},
	OrderStatusPending:        {Label: "Ожидает сборки", Color: "#FF9800", Icon: "clock"},
	OrderStatusWaitingStock:   {Label: "Ожидает поступления", Color: "#795548", Icon: "archive"},
	OrderStatusConfirmed:      {Label: "Собран, ожидает упаковки", Color: "#2196F3", Icon: "package"},
	OrderStatusInDelivery:     {Label: "В доставке", Color: "#3F51B5", Icon: "truck"},
	OrderStatusDelivered:      {Label: "Доставлен", Color: "#4CAF50", Icon: "check-circle"},
	OrderStatusCancelled:      {Label: "Отменён", Color: "#F44336", Icon: "x-circle"},
	OrderStatusReturned:       {Label: "Возвращён", Color: "#E91E63", Icon: "corner-up-left"},
}

// MetaFor returns display metadata for a status. Unknown statuses get a
// neutral fallback so list screens never render an empty badge.
func MetaFor(status string) StatusMeta {
	if m, ok := statusMeta[status]; ok {
		return m
	}
	return StatusMeta{Label: status, Color: "#9E9E9E", Icon: "help-circle"}
}

// RoleLabel returns the Russian role label used in history comments.
func RoleLabel(role string) string {
	switch role {
	case RolePicker:
		return "Сборщик"
	case RolePacker:
		return "Упаковщик"
	case RoleCourier:
		return "Курьер"
	case RoleAdmin:
		return "Администратор"
	case RoleClient:
		return "Клиент"
	}
	return ""
}
