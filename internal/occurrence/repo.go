package occurrence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository is the Postgres backend. The occurrences table carries
// UNIQUE (group_id, schedule_date, COALESCE(schedule_id, '')) so the
// storage engine, not this code, arbitrates create races.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new occurrence row. A duplicate key surfaces as a
// pgconn error the caller classifies; no ON CONFLICT clause here
// because losing the race must be observable.
func (r *Repository) Insert(ctx context.Context, occ Occurrence) (Occurrence, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO occurrences (id, group_id, schedule_id, schedule_date, sunday_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, occ.ID, occ.GroupID, occ.ScheduleID, occ.Date, occ.SundayDate)
	if err := row.Scan(&occ.CreatedAt); err != nil {
		return Occurrence{}, err
	}
	return occ, nil
}

// GetByKey returns the occurrence for the uniqueness key, or
// (nil, nil) when no row matches. IS NOT DISTINCT FROM makes a NULL
// schedule id match only NULL.
func (r *Repository) GetByKey(ctx context.Context, groupID string, scheduleID *string, date time.Time) (*Occurrence, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, group_id, schedule_id, schedule_date, sunday_date, created_at
		FROM occurrences
		WHERE group_id = $1 AND schedule_id IS NOT DISTINCT FROM $2 AND schedule_date = $3
	`, groupID, scheduleID, date)
	var occ Occurrence
	if err := row.Scan(&occ.ID, &occ.GroupID, &occ.ScheduleID, &occ.Date, &occ.SundayDate, &occ.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &occ, nil
}
