package gateway

import "github.com/previsio/previsio/internal/domain"

// NormalizeStatus folds the gateway's status vocabulary into the local one.
// Unrecognized values pass through unchanged so new gateway statuses are
// stored verbatim instead of being lost.
func NormalizeStatus(raw string) domain.OrderStatus {
	switch raw {
	case "approved", "authorized", "paid":
		return domain.OrderStatusApproved
	case "pending", "in_process":
		return domain.OrderStatusPending
	case "rejected", "refunded", "cancelled", "cancelled_by_user":
		return domain.OrderStatusRejected
	case "":
		return domain.OrderStatusUnknown
	default:
		return domain.OrderStatus(raw)
	}
}

// IsFinal reports whether a normalized status will never change again on the
// gateway side.
func IsFinal(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusApproved, domain.OrderStatusRejected, domain.OrderStatusExpired:
		return true
	}
	return false
}
