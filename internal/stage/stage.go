package stage

import (
	"fmt"

	"github.com/vitrina-retail/api/internal/enum"
)

// Each active-processing status belongs to exactly one staff role.
var stageRole = map[string]string{
	enum.OrderStatusPending:    enum.RolePicker,
	enum.OrderStatusConfirmed:  enum.RolePacker,
	enum.OrderStatusInDelivery: enum.RoleCourier,
}

// relevant lists the statuses a role may currently act on.
var relevant = map[string][]string{
	enum.RolePicker:  {enum.OrderStatusPending},
	enum.RolePacker:  {enum.OrderStatusConfirmed},
	enum.RoleCourier: {enum.OrderStatusInDelivery},
}

// history lists the statuses considered a role's completed work: everything
// strictly downstream of its own stage. Disjoint from relevant by
// construction.
var history = map[string][]string{
	enum.RolePicker:  {enum.OrderStatusConfirmed, enum.OrderStatusInDelivery, enum.OrderStatusDelivered},
	enum.RolePacker:  {enum.OrderStatusInDelivery, enum.OrderStatusDelivered},
	enum.RoleCourier: {enum.OrderStatusDelivered},
}

// next maps an active stage to the status reached when the stage completes.
var next = map[string]string{
	enum.OrderStatusPending:    enum.OrderStatusConfirmed,
	enum.OrderStatusConfirmed:  enum.OrderStatusInDelivery,
	enum.OrderStatusInDelivery: enum.OrderStatusDelivered,
}

// allowedTransitions drives the admin direct status change. Key is current
// status, value is the set of statuses it can move to.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPendingPayment: {enum.OrderStatusPending, enum.OrderStatusCancelled},
	enum.OrderStatusPending:        {enum.OrderStatusConfirmed, enum.OrderStatusWaitingStock, enum.OrderStatusCancelled},
	enum.OrderStatusWaitingStock:   {enum.OrderStatusPending, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed:      {enum.OrderStatusInDelivery, enum.OrderStatusCancelled},
	enum.OrderStatusInDelivery:     {enum.OrderStatusDelivered, enum.OrderStatusReturned, enum.OrderStatusCancelled},
	enum.OrderStatusDelivered:      {enum.OrderStatusReturned},
}

// cancellable maps a role to the statuses it may cancel from.
var cancellable = map[string][]string{
	enum.RoleClient:  {enum.OrderStatusPendingPayment, enum.OrderStatusPending, enum.OrderStatusWaitingStock},
	enum.RolePicker:  {enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusWaitingStock, enum.OrderStatusInDelivery},
	enum.RolePacker:  {enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusWaitingStock, enum.OrderStatusInDelivery},
	enum.RoleCourier: {enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusWaitingStock, enum.OrderStatusInDelivery},
	enum.RoleAdmin:   {enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusWaitingStock, enum.OrderStatusInDelivery},
}

// RelevantStatuses returns the statuses the role may act on now.
// Unknown roles get an empty set.
func RelevantStatuses(role string) []string {
	return append([]string(nil), relevant[role]...)
}

// HistoryStatuses returns the statuses counted as the role's finished work.
func HistoryStatuses(role string) []string {
	return append([]string(nil), history[role]...)
}

// RoleForStatus returns the staff role responsible for the given active
// stage, or "" if the status is not an active-processing stage.
func RoleForStatus(status string) string {
	return stageRole[status]
}

// NextStatus returns the status an order moves to when its current stage
// completes. ok is false for statuses that are not an active stage.
func NextStatus(status string) (string, bool) {
	n, ok := next[status]
	return n, ok
}

// IsTerminal reports whether no further processing can happen.
func IsTerminal(status string) bool {
	switch status {
	case enum.OrderStatusDelivered, enum.OrderStatusCancelled, enum.OrderStatusReturned:
		return true
	}
	return false
}

// IsActiveStage reports whether the status is one of the three
// staff-processing stages.
func IsActiveStage(status string) bool {
	_, ok := stageRole[status]
	return ok
}

// CanCancel reports whether the role may cancel an order in the given status.
func CanCancel(status, role string) bool {
	for _, s := range cancellable[role] {
		if s == status {
			return true
		}
	}
	return false
}

// ValidateTransition checks the admin direct status change against the
// transition map.
func ValidateTransition(current, target string) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("cannot transition from %s", current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", current, target)
}

// IsValidStatus checks the status against the full lifecycle enum.
func IsValidStatus(s string) bool {
	switch s {
	case enum.OrderStatusPendingPayment, enum.OrderStatusPending,
		enum.OrderStatusWaitingStock, enum.OrderStatusConfirmed,
		enum.OrderStatusInDelivery, enum.OrderStatusDelivered,
		enum.OrderStatusCancelled, enum.OrderStatusReturned:
		return true
	}
	return false
}

// IsValidRole checks the role against the actor enum.
func IsValidRole(r string) bool {
	switch r {
	case enum.RoleClient, enum.RolePicker, enum.RolePacker,
		enum.RoleCourier, enum.RoleAdmin:
		return true
	}
	return false
}
