// Package postgres provides a PostgreSQL implementation of the alert
// history Store, for deployments that already run a shared database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/opsdrift/ecswatch/internal/history"
)

// Store implements history.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config holds configuration options for the PostgreSQL store.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults. URL must still be set.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// New opens the PostgreSQL connection pool and verifies connectivity.
func New(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordAlert inserts one dispatched alert.
func (s *Store) RecordAlert(ctx context.Context, alert *history.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			alert_id, batch_id, node_id,
			cluster_arn, cluster_name,
			channel, destination, subject, body,
			dispatched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		alert.AlertID,
		alert.BatchID,
		alert.NodeID,
		alert.ClusterARN,
		alert.ClusterName,
		alert.Channel,
		alert.Destination,
		alert.Subject,
		alert.Body,
		alert.DispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by its id. Returns nil if not found.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*history.Alert, error) {
	var a history.Alert
	err := s.db.QueryRowContext(ctx, `
		SELECT alert_id, batch_id, node_id,
			cluster_arn, cluster_name,
			channel, destination, subject, body,
			dispatched_at
		FROM alerts
		WHERE alert_id = $1
	`, alertID).Scan(
		&a.AlertID,
		&a.BatchID,
		&a.NodeID,
		&a.ClusterARN,
		&a.ClusterName,
		&a.Channel,
		&a.Destination,
		&a.Subject,
		&a.Body,
		&a.DispatchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &a, nil
}

// ListAlerts returns alerts matching the filters, newest first.
func (s *Store) ListAlerts(ctx context.Context, filters *history.Filters) ([]*history.Alert, error) {
	query := `
		SELECT alert_id, batch_id, node_id,
			cluster_arn, cluster_name,
			channel, destination, subject, body,
			dispatched_at
		FROM alerts
		WHERE 1=1
	`
	args := []interface{}{}

	if filters != nil {
		if filters.ClusterName != "" {
			args = append(args, filters.ClusterName)
			query += fmt.Sprintf(" AND cluster_name = $%d", len(args))
		}
		if filters.NodeID != "" {
			args = append(args, filters.NodeID)
			query += fmt.Sprintf(" AND node_id = $%d", len(args))
		}
		if filters.Since != nil {
			args = append(args, *filters.Since)
			query += fmt.Sprintf(" AND dispatched_at > $%d", len(args))
		}
	}

	query += " ORDER BY dispatched_at DESC"

	if filters != nil && filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*history.Alert
	for rows.Next() {
		var a history.Alert
		if err := rows.Scan(
			&a.AlertID,
			&a.BatchID,
			&a.NodeID,
			&a.ClusterARN,
			&a.ClusterName,
			&a.Channel,
			&a.Destination,
			&a.Subject,
			&a.Body,
			&a.DispatchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
