package checkin

import (
	"context"
	"errors"
	"time"

	"checkin/internal/metrics"
	"checkin/internal/person"
	"checkin/internal/timing"
)

// ErrNotFound is returned for a code with no attendance today. The
// search path is built so this outcome costs the same wall-clock time
// as a hit; an observer timing responses learns nothing about which
// codes exist.
var ErrNotFound = errors.New("checkin: code not found")

// CodeEntry is one issued code with its attendance linkage.
type CodeEntry struct {
	Code         string
	AttendanceID string
	PersonID     string
}

// CodeIndex lists every code issued on a date.
type CodeIndex interface {
	CodesForDate(ctx context.Context, issueDate time.Time) ([]CodeEntry, error)
}

// Searcher resolves security codes to person snapshots in constant
// observable time.
type Searcher struct {
	index     CodeIndex
	persons   PersonLoader
	equalizer *timing.Equalizer
	now       func() time.Time
}

// NewSearcher creates a searcher. The equalizer's floor must exceed
// the p99 latency of the hit path or the padding does nothing.
func NewSearcher(index CodeIndex, persons PersonLoader, equalizer *timing.Equalizer) *Searcher {
	return &Searcher{
		index:     index,
		persons:   persons,
		equalizer: equalizer,
		now:       time.Now,
	}
}

// SearchByCode looks up the person checked in under code today. Both
// outcomes scan the full code list with constant-time comparison, pay
// equivalent lookup cost (a bulk person load on a hit, fixed hash
// work on a miss), and pad to a common floor before returning.
func (s *Searcher) SearchByCode(ctx context.Context, code string) (person.PersonWithRelations, error) {
	start := s.now()

	entries, err := s.index.CodesForDate(ctx, start)
	if err != nil {
		s.equalizer.PadTo(ctx, start)
		return person.PersonWithRelations{}, err
	}

	// Full scan, no early exit: every entry is compared even after a
	// match so scan time does not depend on the match's position.
	var matchedID string
	var found bool
	for _, e := range entries {
		if timing.EqualConstantTime(e.Code, code) {
			matchedID = e.PersonID
			found = true
		}
	}

	if !found {
		_ = s.equalizer.Burn(code)
		s.equalizer.PadTo(ctx, start)
		metrics.SearchDuration.WithLabelValues("miss").Observe(time.Since(start).Seconds())
		return person.PersonWithRelations{}, ErrNotFound
	}

	snapshots, err := s.persons.LoadByIDs(ctx, []string{matchedID})
	if err != nil {
		s.equalizer.PadTo(ctx, start)
		return person.PersonWithRelations{}, err
	}
	snap, ok := snapshots[matchedID]
	if !ok {
		// Code row without its person is stale data; report it like
		// any other miss.
		s.equalizer.PadTo(ctx, start)
		metrics.SearchDuration.WithLabelValues("miss").Observe(time.Since(start).Seconds())
		return person.PersonWithRelations{}, ErrNotFound
	}

	s.equalizer.PadTo(ctx, start)
	metrics.SearchDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())
	return snap, nil
}
