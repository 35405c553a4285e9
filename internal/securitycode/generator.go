// Package securitycode issues the short pickup codes printed on
// check-in labels. Codes are random, unique per issue date, and
// collisions are an expected part of normal operation: the store's
// uniqueness constraint arbitrates and the generator redraws.
package securitycode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"checkin/internal/metrics"
	"checkin/internal/store"
)

// alphabet deliberately drops vowels and lookalike glyphs (0/O, 1/I/L,
// 5/S) so printed codes read unambiguously and cannot spell words.
const alphabet = "BCDFGHJKMNPQRTVWXYZ2346789"

// ErrExhausted means every draw collided. The code space is saturated
// for that issue date; retrying harder will not help.
var ErrExhausted = errors.New("securitycode: code space exhausted")

// SecurityCode is one issued code. Codes repeat across issue dates
// but never within one.
type SecurityCode struct {
	ID        string
	Code      string
	IssueDate time.Time
	IssuedAt  time.Time
}

// Backend persists codes. Insert must fail with an error classified
// as a conflict when (code, issue_date) already exists.
type Backend interface {
	Insert(ctx context.Context, sc SecurityCode) error
}

// Generator draws codes with bounded retry. All retry state (attempt
// count, computed delay) lives on the stack of each call, so one
// Generator serves any number of concurrent workers without
// contention.
type Generator struct {
	backend     Backend
	length      int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// NewGenerator creates a generator producing codes of the given
// length. Non-positive length falls back to 4; zero backoff values
// fall back to 10ms base, 250ms cap.
func NewGenerator(backend Backend, length int, backoffBase, backoffCap time.Duration) *Generator {
	if length <= 0 {
		length = 4
	}
	if backoffBase <= 0 {
		backoffBase = 10 * time.Millisecond
	}
	if backoffCap <= 0 {
		backoffCap = 250 * time.Millisecond
	}
	return &Generator{backend: backend, length: length, backoffBase: backoffBase, backoffCap: backoffCap}
}

// GenerateUnique draws and persists a code unique for issueDate,
// making at most maxAttempts draws. Collisions back off exponentially
// before the next draw so a burst of colliding kiosks does not retry
// in lockstep.
func (g *Generator) GenerateUnique(ctx context.Context, issueDate time.Time, maxAttempts int) (SecurityCode, error) {
	if maxAttempts < 1 {
		return SecurityCode{}, errors.New("securitycode: max attempts must be >= 1")
	}
	day := dateOnly(issueDate)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return SecurityCode{}, fmt.Errorf("securitycode: draw: %w", err)
		}
		sc := SecurityCode{
			ID:        uuid.NewString(),
			Code:      code,
			IssueDate: day,
			IssuedAt:  time.Now().UTC(),
		}
		err = g.backend.Insert(ctx, sc)
		if err == nil {
			metrics.CodeAttempts.Observe(float64(attempt))
			return sc, nil
		}
		if store.Classify(err) != store.KindConflict {
			return SecurityCode{}, fmt.Errorf("securitycode: insert: %w", err)
		}
		if attempt < maxAttempts {
			if err := sleep(ctx, g.delayFor(attempt)); err != nil {
				return SecurityCode{}, err
			}
		}
	}

	metrics.CodeExhaustions.Inc()
	return SecurityCode{}, fmt.Errorf("%w: date=%s attempts=%d length=%d",
		ErrExhausted, day.Format("2006-01-02"), maxAttempts, g.length)
}

// delayFor doubles the base per attempt, capped.
func (g *Generator) delayFor(attempt int) time.Duration {
	d := g.backoffBase << (attempt - 1)
	if d > g.backoffCap || d <= 0 {
		d = g.backoffCap
	}
	return d
}

func (g *Generator) draw() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
