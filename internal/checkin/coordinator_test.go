package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkin/internal/authz"
	"checkin/internal/occurrence"
	"checkin/internal/person"
	"checkin/internal/queue"
	"checkin/internal/securitycode"
)

// recorder tracks which dependencies ran, in order, across fakes.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) note(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

type fakeAuthz struct {
	rec    *recorder
	denied map[string]bool
}

func (f *fakeAuthz) CanAccessPerson(_ context.Context, id string) (bool, error) {
	if f.rec != nil {
		f.rec.note("authz")
	}
	return !f.denied[id], nil
}

func (f *fakeAuthz) CanAccessLocation(_ context.Context, id string) (bool, error) {
	return !f.denied[id], nil
}

// fakeOccurrences get-or-creates in memory with the same convergence
// the real store guarantees.
type fakeOccurrences struct {
	rec  *recorder
	mu   sync.Mutex
	rows map[string]occurrence.Occurrence
	next int
}

func newFakeOccurrences(rec *recorder) *fakeOccurrences {
	return &fakeOccurrences{rec: rec, rows: make(map[string]occurrence.Occurrence)}
}

func (f *fakeOccurrences) GetOrCreate(_ context.Context, groupID string, scheduleID *string, date time.Time) (occurrence.Occurrence, error) {
	if f.rec != nil {
		f.rec.note("occurrence")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sid := ""
	if scheduleID != nil {
		sid = *scheduleID
	}
	k := groupID + "|" + sid + "|" + date.Format("2006-01-02")
	if occ, ok := f.rows[k]; ok {
		return occ, nil
	}
	f.next++
	occ := occurrence.Occurrence{ID: fmt.Sprintf("occ-%d", f.next), GroupID: groupID, ScheduleID: scheduleID, Date: date}
	f.rows[k] = occ
	return occ, nil
}

type fakeCodes struct {
	rec  *recorder
	mu   sync.Mutex
	next int
}

func (f *fakeCodes) GenerateUnique(_ context.Context, issueDate time.Time, _ int) (securitycode.SecurityCode, error) {
	if f.rec != nil {
		f.rec.note("code")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return securitycode.SecurityCode{
		ID:        fmt.Sprintf("sc-%d", f.next),
		Code:      fmt.Sprintf("C%03d", f.next),
		IssueDate: issueDate,
	}, nil
}

type fakePersons struct {
	rec     *recorder
	mu      sync.Mutex
	known   map[string]person.PersonWithRelations
	calls   int
	loadErr error
}

func newFakePersons(ids ...string) *fakePersons {
	f := &fakePersons{known: make(map[string]person.PersonWithRelations)}
	for _, id := range ids {
		f.known[id] = person.PersonWithRelations{ID: id, FirstName: "Kid", LastName: id, AliasID: "a-" + id}
	}
	return f
}

func (f *fakePersons) LoadByIDs(_ context.Context, ids []string) (map[string]person.PersonWithRelations, error) {
	if f.rec != nil {
		f.rec.note("load")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]person.PersonWithRelations)
	for _, id := range ids {
		if p, ok := f.known[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeAttendance struct {
	rec  *recorder
	mu   sync.Mutex
	rows []Attendance
}

func (f *fakeAttendance) Insert(_ context.Context, att Attendance) error {
	if f.rec != nil {
		f.rec.note("record")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, att)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func testRequest(personID string) Request {
	sched := "sched-930"
	return Request{
		PersonID:   personID,
		LocationID: "loc-nursery",
		GroupID:    "grp-preschool",
		ScheduleID: &sched,
		Date:       time.Date(2026, 3, 8, 9, 15, 0, 0, time.UTC),
	}
}

func TestCheckInHappyPath(t *testing.T) {
	persons := newFakePersons("per-1")
	events := &fakePublisher{}
	att := &fakeAttendance{}
	c := NewCoordinator(&fakeAuthz{}, newFakeOccurrences(nil), &fakeCodes{}, persons, att, events, 10, nil)

	res, err := c.CheckIn(context.Background(), testRequest("per-1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.AttendanceID == "" || res.Occurrence.ID == "" || res.Code.Code == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.Person.ID != "per-1" {
		t.Errorf("snapshot person = %q, want per-1", res.Person.ID)
	}
	if len(att.rows) != 1 {
		t.Fatalf("%d attendance rows, want 1", len(att.rows))
	}
	if att.rows[0].OccurrenceID != res.Occurrence.ID || att.rows[0].SecurityCodeID != res.Code.ID {
		t.Error("attendance row not linked to occurrence and code")
	}
	if len(events.msgs) != 1 || events.msgs[0].Type != EventType {
		t.Errorf("expected one %s event, got %v", EventType, events.msgs)
	}
}

func TestAuthorizationRunsFirst(t *testing.T) {
	rec := &recorder{}
	occ := newFakeOccurrences(rec)
	codes := &fakeCodes{rec: rec}
	att := &fakeAttendance{rec: rec}
	persons := newFakePersons("per-1")
	persons.rec = rec
	denied := &fakeAuthz{rec: rec, denied: map[string]bool{"per-1": true}}
	c := NewCoordinator(denied, occ, codes, persons, att, nil, 10, nil)

	_, err := c.CheckIn(context.Background(), testRequest("per-1"))
	if !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	for _, call := range rec.calls {
		if call != "authz" {
			t.Fatalf("dependency %q ran despite denied authorization", call)
		}
	}
}

func TestSimultaneousCheckinsShareOccurrence(t *testing.T) {
	occ := newFakeOccurrences(nil)
	persons := newFakePersons("per-1", "per-2", "per-3")
	c := NewCoordinator(&fakeAuthz{}, occ, &fakeCodes{}, persons, &fakeAttendance{}, nil, 10, nil)

	results := make([]Result, 3)
	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i, id := range []string{"per-1", "per-2", "per-3"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = c.CheckIn(context.Background(), testRequest(id))
		}(i, id)
	}
	wg.Wait()

	codes := make(map[string]bool)
	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Fatalf("check-in %d failed: %v", i, errs[i])
		}
		if results[i].Occurrence.ID != results[0].Occurrence.ID {
			t.Errorf("check-in %d got occurrence %s, want %s", i, results[i].Occurrence.ID, results[0].Occurrence.ID)
		}
		if codes[results[i].Code.Code] {
			t.Errorf("code %s issued twice", results[i].Code.Code)
		}
		codes[results[i].Code.Code] = true
	}
	if len(occ.rows) != 1 {
		t.Errorf("%d occurrences created, want 1", len(occ.rows))
	}
}

func TestBatchPartialFailure(t *testing.T) {
	ids := make([]string, 10)
	reqs := make([]Request, 10)
	for i := range reqs {
		ids[i] = fmt.Sprintf("per-%d", i+1)
		reqs[i] = testRequest(ids[i])
	}
	persons := newFakePersons(ids...)
	// Request #4 is denied.
	a := &fakeAuthz{denied: map[string]bool{"per-4": true}}
	att := &fakeAttendance{}
	c := NewCoordinator(a, newFakeOccurrences(nil), &fakeCodes{}, persons, att, nil, 10, nil)

	items := c.BatchCheckIn(context.Background(), reqs)
	if len(items) != 10 {
		t.Fatalf("%d items, want 10", len(items))
	}
	for i, item := range items {
		if i == 3 {
			if !errors.Is(item.Err, authz.ErrDenied) {
				t.Errorf("item 4: expected ErrDenied, got %v", item.Err)
			}
			continue
		}
		if item.Err != nil {
			t.Errorf("item %d failed: %v", i+1, item.Err)
		}
	}
	if len(att.rows) != 9 {
		t.Errorf("%d attendance rows, want 9", len(att.rows))
	}
}

func TestBatchUsesOneBulkLoad(t *testing.T) {
	ids := make([]string, 20)
	reqs := make([]Request, 20)
	for i := range reqs {
		ids[i] = fmt.Sprintf("per-%d", i+1)
		reqs[i] = testRequest(ids[i])
	}
	persons := newFakePersons(ids...)
	c := NewCoordinator(&fakeAuthz{}, newFakeOccurrences(nil), &fakeCodes{}, persons, &fakeAttendance{}, nil, 10, nil)

	items := c.BatchCheckIn(context.Background(), reqs)
	for i, item := range items {
		if item.Err != nil {
			t.Fatalf("item %d failed: %v", i, item.Err)
		}
	}
	if persons.calls != 1 {
		t.Errorf("batch of 20 issued %d person loads, want 1", persons.calls)
	}
}

func TestUnknownPersonReportsGenericDenial(t *testing.T) {
	// Authorized id with no person row: the caller must see the same
	// error as a denial, not a distinguishable "not found".
	persons := newFakePersons() // empty population
	c := NewCoordinator(&fakeAuthz{}, newFakeOccurrences(nil), &fakeCodes{}, persons, &fakeAttendance{}, nil, 10, nil)

	_, err := c.CheckIn(context.Background(), testRequest("ghost"))
	if !errors.Is(err, authz.ErrDenied) {
		t.Fatalf("expected generic ErrDenied, got %v", err)
	}
}

func TestValidationRejectsIncompleteRequest(t *testing.T) {
	c := NewCoordinator(&fakeAuthz{}, newFakeOccurrences(nil), &fakeCodes{}, newFakePersons(), &fakeAttendance{}, nil, 10, nil)
	bad := testRequest("per-1")
	bad.GroupID = ""
	if _, err := c.CheckIn(context.Background(), bad); err == nil {
		t.Error("missing group id accepted")
	}
}

func TestBatchLoadFailureFailsOnlySurvivors(t *testing.T) {
	persons := newFakePersons("per-1", "per-2")
	persons.loadErr = errors.New("connection reset")
	a := &fakeAuthz{denied: map[string]bool{"per-2": true}}
	c := NewCoordinator(a, newFakeOccurrences(nil), &fakeCodes{}, persons, &fakeAttendance{}, nil, 10, nil)

	items := c.BatchCheckIn(context.Background(), []Request{testRequest("per-1"), testRequest("per-2")})
	if items[0].Err == nil {
		t.Error("survivor of failed bulk load reported success")
	}
	if !errors.Is(items[1].Err, authz.ErrDenied) {
		t.Errorf("denied item error changed by load failure: %v", items[1].Err)
	}
}
