package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultEventLimit is the number of load events returned when no limit is given.
const DefaultEventLimit = 50

// LoadEvent records one detector initialization or backend swap.
type LoadEvent struct {
	ID          string    `json:"id"`
	ConfigID    string    `json:"config_id"`
	Model       string    `json:"model"`
	Path        string    `json:"path"`
	Format      string    `json:"format"`
	BackendKind string    `json:"backend_kind"`
	Degraded    bool      `json:"degraded"`
	Errors      []string  `json:"errors"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventRepository stores the model load history.
type EventRepository struct {
	db *sql.DB
}

// Events returns the load event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts e, assigning an ID and timestamp when they are unset.
func (r *EventRepository) Create(e *LoadEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Errors == nil {
		e.Errors = []string{}
	}

	errs, err := json.Marshal(e.Errors)
	if err != nil {
		return fmt.Errorf("encode load errors: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO load_events (id, config_id, model, path, format, backend_kind, degraded, errors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConfigID, e.Model, e.Path, e.Format, e.BackendKind, e.Degraded, string(errs), e.CreatedAt,
	)
	return err
}

// Recent returns up to limit events, newest first.
func (r *EventRepository) Recent(limit int) ([]LoadEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	rows, err := r.db.Query(
		`SELECT id, config_id, model, path, format, backend_kind, degraded, errors, created_at
		 FROM load_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []LoadEvent{}
	for rows.Next() {
		var e LoadEvent
		var degraded int
		var errs string
		if err := rows.Scan(&e.ID, &e.ConfigID, &e.Model, &e.Path, &e.Format, &e.BackendKind,
			&degraded, &errs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(errs), &e.Errors); err != nil {
			return nil, fmt.Errorf("decode load errors for %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
