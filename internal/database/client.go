// Package database provides PostgreSQL client functionality for reading the
// newest OwnTracks position of a device, with connection pooling and health checks.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// Location represents a GPS location record from the database
type Location struct {
	ID        int64
	DeviceID  string
	Latitude  float64
	Longitude float64
	Accuracy  int
	Timestamp int64
	CreatedAt time.Time
}

// Open creates a database client with connection pooling. No connection is
// made until the first query or HealthCheck.
func Open(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single session polls one device; a small pool is plenty
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	return &Client{db: db}, nil
}

// NewClient creates a new database client and verifies the connection
func NewClient(dsn string) (*Client, error) {
	c, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.HealthCheck(ctx); err != nil {
		if closeErr := c.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return c, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// LatestLocation returns the most recent location of a device, or nil when
// the device has not reported yet. An empty deviceID matches any device.
func (c *Client) LatestLocation(ctx context.Context, deviceID string) (*Location, error) {
	query := `
		SELECT
			id, device_id, latitude, longitude, accuracy,
			EXTRACT(EPOCH FROM timestamp)::bigint AS timestamp, created_at
		FROM public.locations
	`

	args := []interface{}{}

	if deviceID != "" {
		query += " WHERE device_id = $1"
		args = append(args, deviceID)
	}

	query += " ORDER BY created_at DESC LIMIT 1"

	var loc Location
	var accuracy, timestamp sql.NullInt64

	err := c.db.QueryRowContext(ctx, query, args...).Scan(
		&loc.ID,
		&loc.DeviceID,
		&loc.Latitude,
		&loc.Longitude,
		&accuracy,
		&timestamp,
		&loc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest location query failed: %w", err)
	}

	// Convert NULL values to zero values
	if accuracy.Valid {
		loc.Accuracy = int(accuracy.Int64)
	}
	if timestamp.Valid {
		loc.Timestamp = timestamp.Int64
	}

	return &loc, nil
}

// ReportedAt returns the device timestamp, falling back to the insert time
func (l Location) ReportedAt() time.Time {
	if l.Timestamp > 0 {
		return time.Unix(l.Timestamp, 0).UTC()
	}
	return l.CreatedAt.UTC()
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
