// Package sqlite provides a SQLite implementation of the alert history
// Store. It uses an embedded database with WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/opsdrift/ecswatch/internal/history"
)

// Store implements history.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Config holds configuration options for the SQLite store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	Path string

	// BusyTimeout is the maximum time to wait for a locked database.
	BusyTimeout time.Duration

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:         "./ecswatch.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}
}

// New opens the SQLite database, configures the connection pool and
// verifies connectivity.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dbPath := cfg.Path
	if dbPath != ":memory:" {
		absPath, err := filepath.Abs(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		dbPath = absPath
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		dbPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		WHERE alert_id = ?
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
			query += " AND cluster_name = ?"
			args = append(args, filters.ClusterName)
		}
		if filters.NodeID != "" {
			query += " AND node_id = ?"
			args = append(args, filters.NodeID)
		}
		if filters.Since != nil {
			query += " AND dispatched_at > ?"
			args = append(args, *filters.Since)
		}
	}

	query += " ORDER BY dispatched_at DESC"

	if filters != nil && filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
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
