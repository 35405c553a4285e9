package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAuthorizer struct {
	person, location bool
	personErr        error
	locationErr      error
}

func (f fakeAuthorizer) CanAccessPerson(context.Context, string) (bool, error) {
	return f.person, f.personErr
}

func (f fakeAuthorizer) CanAccessLocation(context.Context, string) (bool, error) {
	return f.location, f.locationErr
}

func TestGuard(t *testing.T) {
	cases := []struct {
		name string
		a    fakeAuthorizer
		deny bool
	}{
		{"both allowed", fakeAuthorizer{person: true, location: true}, false},
		{"person denied", fakeAuthorizer{person: false, location: true}, true},
		{"location denied", fakeAuthorizer{person: true, location: false}, true},
		{"both denied", fakeAuthorizer{}, true},
		{"person check failed", fakeAuthorizer{location: true, personErr: errors.New("timeout")}, true},
		{"location check failed", fakeAuthorizer{person: true, locationErr: errors.New("timeout")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Guard(context.Background(), tc.a, "per-1", "loc-1")
			if tc.deny && !errors.Is(err, ErrDenied) {
				t.Fatalf("expected ErrDenied, got %v", err)
			}
			if !tc.deny && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// Every denial must present the same error to the caller, whatever
// the underlying reason.
func TestGuardDenialsIndistinguishable(t *testing.T) {
	denials := []fakeAuthorizer{
		{person: false, location: true},
		{person: true, location: false},
		{person: true, location: true, personErr: errors.New("person service down")},
	}
	for i, a := range denials {
		err := Guard(context.Background(), a, "per-1", "loc-1")
		if !errors.Is(err, ErrDenied) {
			t.Errorf("denial %d not reported as ErrDenied: %v", i, err)
		}
	}
}

func TestClientCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/access/person":
			w.Write([]byte(`{"allowed": true}`))
		case "/access/location":
			w.Write([]byte(`{"allowed": false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	ok, err := c.CanAccessPerson(context.Background(), "per-1")
	if err != nil || !ok {
		t.Errorf("CanAccessPerson = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = c.CanAccessLocation(context.Background(), "loc-1")
	if err != nil || ok {
		t.Errorf("CanAccessLocation = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestClientEmptyIDDenied(t *testing.T) {
	c := New("http://unused", false)
	if ok, err := c.CanAccessPerson(context.Background(), ""); ok || err != nil {
		t.Errorf("empty person id: (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := c.CanAccessLocation(context.Background(), ""); ok || err != nil {
		t.Errorf("empty location id: (%v, %v), want (false, nil)", ok, err)
	}
}

func TestClientSkipAllowsAll(t *testing.T) {
	c := New("", true)
	if ok, _ := c.CanAccessPerson(context.Background(), "per-1"); !ok {
		t.Error("skip mode denied person")
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("skip mode health: %v", err)
	}
}
