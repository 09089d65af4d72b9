// Package audit records every default-location assignment written to a
// provider record. Recording is best effort: callers log a failure and carry
// on.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"

	"github.com/ehr/ehrlogin/pkg/pagination"
)

const (
	PathCreate = "create"
	PathUpdate = "update"
)

// Event is one row of location_assignment_audit.
type Event struct {
	ID            ulid.ULID `json:"id"`
	ProviderUUID  string    `json:"provider_uuid"`
	AttributeUUID string    `json:"attribute_uuid"`
	LocationUUID  string    `json:"location_uuid"`
	Path          string    `json:"path"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent stamps an assignment with a fresh ULID and the current time.
func NewEvent(providerUUID, attributeUUID, locationUUID, path string) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		ProviderUUID:  providerUUID,
		AttributeUUID: attributeUUID,
		LocationUUID:  locationUUID,
		Path:          path,
		OccurredAt:    now,
	}
}

type Recorder interface {
	Record(ctx context.Context, e *Event) error
	List(ctx context.Context, providerUUID string, page pagination.Params) ([]*Event, error)
}

// Querier is the subset of *pgxpool.Pool the recorder needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgRecorder struct {
	db Querier
}

func NewPGRecorder(db Querier) Recorder {
	return &pgRecorder{db: db}
}

func (r *pgRecorder) Record(ctx context.Context, e *Event) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO location_assignment_audit (id, provider_uuid, attribute_uuid, location_uuid, path, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID.String(), e.ProviderUUID, e.AttributeUUID, e.LocationUUID, e.Path, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns one page of assignments, newest first. An empty providerUUID
// lists every provider. A zero page limit means pagination.DefaultLimit.
func (r *pgRecorder) List(ctx context.Context, providerUUID string, page pagination.Params) ([]*Event, error) {
	if page.Limit <= 0 {
		page.Limit = pagination.DefaultLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, provider_uuid, attribute_uuid, location_uuid, path, occurred_at
		FROM location_assignment_audit
		WHERE $1 = '' OR provider_uuid = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, providerUUID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var id string
		if err := rows.Scan(&id, &e.ProviderUUID, &e.AttributeUUID, &e.LocationUUID, &e.Path, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID, err = ulid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse audit id %q: %w", id, err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

type nopRecorder struct{}

// Nop is used when no database is configured.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) Record(context.Context, *Event) error { return nil }

func (nopRecorder) List(context.Context, string, pagination.Params) ([]*Event, error) {
	return nil, nil
}
