// Package occurrence provides atomic get-or-create for attendance
// occurrences. Correctness under concurrent kiosks rests entirely on
// the store's uniqueness constraint over (group, schedule, date); no
// in-process lock is involved, so multiple server instances behind a
// load balancer coordinate correctly.
package occurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"checkin/internal/metrics"
	"checkin/internal/store"
)

// ErrInvariant means an insert failed with a uniqueness conflict but
// the winning row could not be read back. That combination indicates
// the constraint and the read are seeing inconsistent views of the
// store, so it is surfaced loudly and never retried.
var ErrInvariant = errors.New("occurrence: uniqueness conflict with no winning row")

// Occurrence is one scheduled meeting instance of a group. Immutable
// once created; the reporting Sunday is computed at creation and
// frozen.
type Occurrence struct {
	ID         string
	GroupID    string
	ScheduleID *string
	Date       time.Time
	SundayDate time.Time
	CreatedAt  time.Time
}

// Backend is the minimal storage contract the store needs. Insert
// must fail with an error classified as a conflict when a row with
// the same (group, schedule, date) already exists; GetByKey returns
// (nil, nil) when no row matches.
type Backend interface {
	Insert(ctx context.Context, occ Occurrence) (Occurrence, error)
	GetByKey(ctx context.Context, groupID string, scheduleID *string, date time.Time) (*Occurrence, error)
}

// Store resolves occurrences with insert-first semantics.
type Store struct {
	backend Backend
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// GetOrCreate returns the occurrence for (groupID, scheduleID, date),
// creating it if this caller wins the race. A nil scheduleID is a
// distinct key value from any non-nil one. Losing the race is not an
// error: the winner's row is read back and returned.
func (s *Store) GetOrCreate(ctx context.Context, groupID string, scheduleID *string, date time.Time) (Occurrence, error) {
	if groupID == "" {
		return Occurrence{}, errors.New("occurrence: group id required")
	}
	if date.IsZero() {
		return Occurrence{}, errors.New("occurrence: date required")
	}
	day := dateOnly(date)

	occ := Occurrence{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		ScheduleID: scheduleID,
		Date:       day,
		SundayDate: sundayOf(day),
	}
	created, err := s.backend.Insert(ctx, occ)
	if err == nil {
		return created, nil
	}
	if store.Classify(err) != store.KindConflict {
		return Occurrence{}, fmt.Errorf("occurrence: insert: %w", err)
	}

	metrics.OccurrenceConflicts.Inc()
	existing, err := s.backend.GetByKey(ctx, groupID, scheduleID, day)
	if err != nil {
		return Occurrence{}, fmt.Errorf("occurrence: read after conflict: %w", err)
	}
	if existing == nil {
		return Occurrence{}, fmt.Errorf("%w: group=%s date=%s", ErrInvariant, groupID, day.Format("2006-01-02"))
	}
	return *existing, nil
}

// dateOnly truncates t to its calendar date in UTC.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sundayOf returns the Sunday ending the week containing day. The
// attendance reports group by this date.
func sundayOf(day time.Time) time.Time {
	offset := (7 - int(day.Weekday())) % 7
	return day.AddDate(0, 0, offset)
}
