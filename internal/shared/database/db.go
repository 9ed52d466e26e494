package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
	"github.com/mrmushfiq/ai-gateway/internal/shared/models"
)

// DB stores the gateway event audit log. Postgres is used in production;
// any database/sql driver that accepts the same DDL works.
type DB struct {
	conn   *sql.DB
	driver string
}

// New creates a new postgres connection
func New(databaseURL string) (*DB, error) {
	return Open("postgres", databaseURL)
}

// Open connects using the named driver and checks the connection.
func Open(driver, dsn string) (*DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates the events table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	id := "id BIGSERIAL PRIMARY KEY"
	if db.driver == "sqlite" {
		id = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gateway_events (
			` + id + `,
			request_id TEXT NOT NULL,
			type TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			latency_ms BIGINT NOT NULL,
			error_message TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gateway_events_request ON gateway_events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gateway_events_created ON gateway_events(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $N for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LogEvent inserts one event row
func (db *DB) LogEvent(ctx context.Context, ev *models.GatewayEvent) error {
	query := db.rebind(`
		INSERT INTO gateway_events (
			request_id, type, endpoint, provider, model, attempt, latency_ms,
			error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var errMsg sql.NullString
	if ev.ErrorMessage != nil {
		errMsg = sql.NullString{String: *ev.ErrorMessage, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		query,
		ev.RequestID,
		ev.Type,
		ev.Endpoint,
		ev.Provider,
		ev.Model,
		ev.Attempt,
		ev.LatencyMs,
		errMsg,
		ev.CreatedAt.UnixMilli(),
	)
	return err
}

// Record stores a lifecycle event. It lets the DB serve as an events.Sink.
func (db *DB) Record(ctx context.Context, e events.Event) error {
	ev := &models.GatewayEvent{
		RequestID: e.RequestID,
		Type:      string(e.Type),
		Endpoint:  e.Endpoint,
		Provider:  e.Provider,
		Model:     e.Model,
		Attempt:   e.Attempt,
		LatencyMs: e.Latency.Milliseconds(),
		CreatedAt: e.Timestamp,
	}
	if e.Error != "" {
		msg := e.Error
		ev.ErrorMessage = &msg
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return db.LogEvent(ctx, ev)
}

// EventsForRequest returns the events of one request in insertion order.
func (db *DB) EventsForRequest(ctx context.Context, requestID string) ([]models.GatewayEvent, error) {
	query := db.rebind(`
		SELECT id, request_id, type, endpoint, provider, model, attempt, latency_ms,
		       error_message, created_at
		FROM gateway_events
		WHERE request_id = ?
		ORDER BY id
	`)

	rows, err := db.conn.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []models.GatewayEvent
	for rows.Next() {
		var (
			ev      models.GatewayEvent
			errMsg  sql.NullString
			created int64
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.RequestID,
			&ev.Type,
			&ev.Endpoint,
			&ev.Provider,
			&ev.Model,
			&ev.Attempt,
			&ev.LatencyMs,
			&errMsg,
			&created,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if errMsg.Valid {
			ev.ErrorMessage = &errMsg.String
		}
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PurgeEvents deletes events created before cutoff.
func (db *DB) PurgeEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM gateway_events WHERE created_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}
