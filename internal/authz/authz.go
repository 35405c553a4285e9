// Package authz is the narrow gate in front of the check-in core.
// The guard takes identifiers only, never loaded entities, so no code
// path can fetch a record before its access is verified.
package authz

import (
	"context"
	"errors"
	"fmt"
)

// ErrDenied is the single authorization error. Callers must not be
// able to tell which sub-check failed, or whether the target exists
// at all, from the error they receive.
var ErrDenied = errors.New("not authorized")

// Authorizer answers the two access questions the check-in path asks.
// Implementations must accept ids only.
type Authorizer interface {
	CanAccessPerson(ctx context.Context, personID string) (bool, error)
	CanAccessLocation(ctx context.Context, locationID string) (bool, error)
}

// Guard runs both checks as one combined decision, before any data is
// loaded. Any denial and any checker failure collapse into the same
// ErrDenied so the response leaks nothing about which leg failed;
// the underlying cause stays wrapped for server-side logs.
func Guard(ctx context.Context, a Authorizer, personID, locationID string) error {
	okPerson, errPerson := a.CanAccessPerson(ctx, personID)
	okLocation, errLocation := a.CanAccessLocation(ctx, locationID)

	if errPerson != nil {
		return fmt.Errorf("%w: %v", ErrDenied, errPerson)
	}
	if errLocation != nil {
		return fmt.Errorf("%w: %v", ErrDenied, errLocation)
	}
	if !okPerson || !okLocation {
		return ErrDenied
	}
	return nil
}
