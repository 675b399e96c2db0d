package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// User is a platform account. Staff users carry a processing role
// (PICKER/PACKER/COURIER) and a human-readable position used in history
// comments.
type User struct {
	ID             uuid.UUID
	Email          string
	HashedPassword string
	FullName       string
	Role           string
	Position       string
	CreatedAt      time.Time
}

// Order is the persisted order row. AssignedTo is non-null only while an
// employee is actively processing the current stage; stage completion
// clears it.
type Order struct {
	ID          uuid.UUID
	OrderNumber string
	ClientID    uuid.UUID
	Status      string
	AssignedTo  pgtype.UUID
	TotalAmount pgtype.Numeric
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem is a line on an order.
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   pgtype.Numeric
	Subtotal    pgtype.Numeric
}

// OrderHistoryEntry is one append-only audit row. Comment is free text; the
// staff clients reconstruct structured steps from it (internal/history).
type OrderHistoryEntry struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    string
	Comment   string
	CreatedBy pgtype.UUID
	CreatedAt time.Time
}
