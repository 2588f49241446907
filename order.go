package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Order statuses, in the order a healthy order moves through them.
const (
	statusPending      = "pending"
	statusSubmitted    = "submitted"
	statusInProduction = "in_production"
	statusShipped      = "shipped"
	statusDelivered    = "delivered"
	statusCancelled    = "cancelled"
	statusFailed       = "failed"
)

var (
	errBadTransition = errors.New("invalid status transition")
	errUnknownStatus = errors.New("unknown status")
)

// Order is one printed crossword to fulfil, created from a storefront line
// item.
type Order struct {
	ID                  string    `json:"id"`
	StorefrontOrderID   string    `json:"storefront_order_id"`
	PuzzleID            string    `json:"puzzle_id"`
	Email               string    `json:"email,omitempty"`
	Product             string    `json:"product"`
	StorefrontVariantID string    `json:"storefront_variant_id"`
	ProviderVariantID   int       `json:"provider_variant_id"`
	Quantity            int       `json:"quantity"`
	Status              string    `json:"status"`
	ProviderOrderID     string    `json:"provider_order_id,omitempty"`
	TrackingNumber      string    `json:"tracking_number,omitempty"`
	Error               string    `json:"error,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case statusPending, statusSubmitted, statusInProduction, statusShipped,
		statusDelivered, statusCancelled, statusFailed:
		return s
	case "in-production", "in production":
		return statusInProduction
	default:
		return ""
	}
}

// terminal reports whether an order in this status can no longer change.
func terminal(status string) bool {
	return status == statusDelivered || status == statusCancelled
}

// setStatus moves the order to status. Terminal orders are frozen.
func (o *Order) setStatus(status string) error {
	ns := normalizeStatus(status)
	if ns == "" {
		return fmt.Errorf("%w %q", errUnknownStatus, status)
	}
	if terminal(o.Status) && ns != o.Status {
		return fmt.Errorf("%w: %s -> %s", errBadTransition, o.Status, ns)
	}
	o.Status = ns
	o.UpdatedAt = time.Now().UTC()
	return nil
}
