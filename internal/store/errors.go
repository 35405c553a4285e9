package store

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind buckets store errors into the three classes the check-in core
// reacts to differently.
type Kind int

const (
	// KindFatal covers everything not recognised as a conflict or a
	// transient condition. Callers surface these; they never retry.
	KindFatal Kind = iota
	// KindConflict is a uniqueness-constraint violation. Expected
	// under concurrent writers and handled in-band.
	KindConflict
	// KindTransient covers connection loss and timeouts. Safe to
	// retry at the caller's discretion.
	KindTransient
)

// Classify maps a store error onto its Kind so the core logic never
// inspects driver error types directly.
func Classify(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return KindConflict
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return KindTransient
		case pgErr.Code == "57P01" || pgErr.Code == "57014": // admin shutdown, cancel
			return KindTransient
		case pgErr.Code == "53300" || pgErr.Code == "53400": // too many connections
			return KindTransient
		}
	}
	return KindFatal
}

// IsConflict reports whether err is a uniqueness-constraint violation.
func IsConflict(err error) bool { return Classify(err) == KindConflict }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return Classify(err) == KindTransient }
