package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "connection reset" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindConflict},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), KindConflict},
		{"connection exception", &pgconn.PgError{Code: "08006"}, KindTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, KindTransient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"canceled", context.Canceled, KindTransient},
		{"net error", fakeNetErr{}, KindTransient},
		{"check violation", &pgconn.PgError{Code: "23514"}, KindFatal},
		{"plain error", errors.New("boom"), KindFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected conflict")
	}
	if IsConflict(errors.New("boom")) {
		t.Error("unexpected conflict")
	}
}
