package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// DefaultJournalLimit caps List when the caller passes no limit.
const DefaultJournalLimit = 100

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JournalStore implements domain.Journal on the depth_events table.
type JournalStore struct {
	db querier
}

// NewJournalStore creates a JournalStore on the client's pool.
func NewJournalStore(c *Client) *JournalStore {
	return &JournalStore{db: c.Pool()}
}

// Record appends one event. detail is stored as JSONB; nil becomes {}.
func (s *JournalStore) Record(ctx context.Context, symbol, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s detail: %w", event, err)
	}
	const q = `INSERT INTO depth_events (symbol, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(ctx, q, symbol, event, raw); err != nil {
		return fmt.Errorf("postgres: record %s: %w", event, err)
	}
	return nil
}

// List returns events newest first. An empty symbol matches every symbol and
// a zero since matches all time.
func (s *JournalStore) List(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.JournalEntry, error) {
	q, args := listQuery(symbol, since, limit)
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e   domain.JournalEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode event %d detail: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return out, nil
}

func listQuery(symbol string, since time.Time, limit int) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT id, symbol, event, detail, created_at FROM depth_events WHERE TRUE`)
	if symbol != "" {
		args = append(args, symbol)
		fmt.Fprintf(&b, " AND symbol = $%d", len(args))
	}
	if !since.IsZero() {
		args = append(args, since)
		fmt.Fprintf(&b, " AND created_at >= $%d", len(args))
	}
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}
