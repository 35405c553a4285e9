// Package person resolves person records for check-in responses. The
// loader's whole reason to exist is query-count independence: a batch
// of one and a batch of two hundred both cost the same small, fixed
// number of store round-trips.
package person

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkin/internal/metrics"
)

// PersonWithRelations is a person joined with their primary alias and
// a best-effort recent-activity flag. It is a read-only snapshot
// scoped to one request; callers must not cache it.
type PersonWithRelations struct {
	ID             string
	FirstName      string
	LastName       string
	NickName       *string
	BirthDate      *time.Time
	AliasID        string
	RecentlyActive bool
}

// Backend performs the bulk person+alias read. One call, one query,
// regardless of how many ids are passed.
type Backend interface {
	SelectByIDs(ctx context.Context, ids []string) ([]PersonWithRelations, error)
}

// ActivitySource resolves recent-activity flags for a set of ids in a
// single round-trip. Optional; a nil source leaves flags false.
type ActivitySource interface {
	RecentlyActive(ctx context.Context, ids []string) (map[string]bool, error)
}

// Loader batches person lookups.
type Loader struct {
	backend  Backend
	activity ActivitySource
	log      *slog.Logger
}

// NewLoader creates a loader. activity may be nil.
func NewLoader(backend Backend, activity ActivitySource, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{backend: backend, activity: activity, log: log}
}

// LoadByIDs returns a map from id to snapshot for every id that
// exists. Duplicates in ids are collapsed; ids with no row are simply
// absent from the map. An empty input returns an empty map without
// touching the store. A backend failure fails the whole batch.
func (l *Loader) LoadByIDs(ctx context.Context, ids []string) (map[string]PersonWithRelations, error) {
	distinct := dedupe(ids)
	if len(distinct) == 0 {
		return map[string]PersonWithRelations{}, nil
	}

	metrics.BatchLoadQueries.Inc()
	rows, err := l.backend.SelectByIDs(ctx, distinct)
	if err != nil {
		return nil, fmt.Errorf("person: bulk select: %w", err)
	}

	result := make(map[string]PersonWithRelations, len(rows))
	for _, p := range rows {
		result[p.ID] = p
	}

	if l.activity != nil && len(result) > 0 {
		metrics.BatchLoadQueries.Inc()
		flags, err := l.activity.RecentlyActive(ctx, distinct)
		if err != nil {
			// Flags are decoration; the batch still succeeds.
			l.log.Warn("recent-activity lookup failed", "error", err, "ids", len(distinct))
		} else {
			for id, active := range flags {
				if p, ok := result[id]; ok && active {
					p.RecentlyActive = true
					result[id] = p
				}
			}
		}
	}
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
