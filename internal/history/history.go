// Package history records dispatched alerts for audit and later review.
// Recording is best-effort observability: it is not consulted for
// deduplication, which stays scoped to a single batch.
package history

import (
	"context"
	"time"
)

// Alert is one dispatched notification.
type Alert struct {
	AlertID      string
	BatchID      string
	NodeID       string
	ClusterARN   string
	ClusterName  string
	Channel      string
	Destination  string
	Subject      string
	Body         string
	DispatchedAt time.Time
}

// Filters narrows ListAlerts results. Zero values mean "no filter".
type Filters struct {
	ClusterName string
	NodeID      string
	Since       *time.Time
	Limit       int
}

// Store persists dispatched alerts.
type Store interface {
	// RecordAlert inserts one dispatched alert.
	RecordAlert(ctx context.Context, alert *Alert) error
	// GetAlert returns the alert with the given id, or nil if absent.
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	// ListAlerts returns alerts matching the filters, newest first.
	ListAlerts(ctx context.Context, filters *Filters) ([]*Alert, error)
	// Close releases the underlying database resources.
	Close() error
}
