// Package checkin orchestrates the check-in request path: authorize,
// resolve the occurrence, issue a security code, record attendance,
// and resolve person snapshots in bulk.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/authz"
	"checkin/internal/metrics"
	"checkin/internal/occurrence"
	"checkin/internal/person"
	"checkin/internal/queue"
	"checkin/internal/securitycode"
)

// Step names the stages of one check-in. Every failure is tagged with
// the step it died in; no step may run before the one above it.
type Step string

const (
	StepAuthorize  Step = "authorize"
	StepOccurrence Step = "occurrence"
	StepCode       Step = "code"
	StepRecord     Step = "record"
	StepResolve    Step = "resolve"
)

// Request is one check-in to perform.
type Request struct {
	PersonID   string
	LocationID string
	GroupID    string
	ScheduleID *string
	Date       time.Time
}

// Result is the successful outcome of one check-in.
type Result struct {
	AttendanceID string
	Occurrence   occurrence.Occurrence
	Code         securitycode.SecurityCode
	Person       person.PersonWithRelations
}

// BatchItem pairs one batch element with its outcome. Failures are
// per-item; one denied request never disturbs its neighbours.
type BatchItem struct {
	Result Result
	Err    error
}

// Attendance links an occurrence, a security code, and a person.
type Attendance struct {
	ID             string
	OccurrenceID   string
	SecurityCodeID string
	PersonID       string
	LocationID     string
	CheckedInAt    time.Time
	LabelPrintedAt *time.Time
}

// OccurrenceResolver is the occurrence get-or-create dependency.
type OccurrenceResolver interface {
	GetOrCreate(ctx context.Context, groupID string, scheduleID *string, date time.Time) (occurrence.Occurrence, error)
}

// CodeIssuer is the security code dependency.
type CodeIssuer interface {
	GenerateUnique(ctx context.Context, issueDate time.Time, maxAttempts int) (securitycode.SecurityCode, error)
}

// PersonLoader is the bulk person lookup dependency.
type PersonLoader interface {
	LoadByIDs(ctx context.Context, ids []string) (map[string]person.PersonWithRelations, error)
}

// AttendanceWriter persists attendance rows.
type AttendanceWriter interface {
	Insert(ctx context.Context, att Attendance) error
}

// Publisher receives completion events for post-check-in work. May be
// nil; publishing is best-effort.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Coordinator runs check-ins.
type Coordinator struct {
	authorizer      authz.Authorizer
	occurrences     OccurrenceResolver
	codes           CodeIssuer
	persons         PersonLoader
	attendance      AttendanceWriter
	events          Publisher
	maxCodeAttempts int
	log             *slog.Logger
}

// NewCoordinator wires the check-in path. events may be nil.
func NewCoordinator(a authz.Authorizer, occ OccurrenceResolver, codes CodeIssuer, persons PersonLoader, att AttendanceWriter, events Publisher, maxCodeAttempts int, log *slog.Logger) *Coordinator {
	if maxCodeAttempts < 1 {
		maxCodeAttempts = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		authorizer:      a,
		occurrences:     occ,
		codes:           codes,
		persons:         persons,
		attendance:      att,
		events:          events,
		maxCodeAttempts: maxCodeAttempts,
		log:             log,
	}
}

// CheckIn performs one check-in end to end.
func (c *Coordinator) CheckIn(ctx context.Context, req Request) (Result, error) {
	res, err := c.resolveSlot(ctx, req)
	if err != nil {
		metrics.CheckinsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	snapshots, err := c.persons.LoadByIDs(ctx, []string{req.PersonID})
	if err != nil {
		metrics.CheckinsTotal.WithLabelValues("failed").Inc()
		return Result{}, failStep(StepResolve, err)
	}
	if err := attachSnapshot(&res, req.PersonID, snapshots); err != nil {
		metrics.CheckinsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	c.publishCompletion(ctx, res)
	metrics.CheckinsTotal.WithLabelValues("completed").Inc()
	return res, nil
}

// BatchCheckIn performs N check-ins concurrently. The occurrence and
// code work fans out per item, but all person snapshots resolve
// through a single shared bulk load so the query count stays flat as
// the batch grows. Items fail independently.
func (c *Coordinator) BatchCheckIn(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items[i].Result, items[i].Err = c.resolveSlot(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	var ids []string
	for i := range items {
		if items[i].Err == nil {
			ids = append(ids, reqs[i].PersonID)
		}
	}
	snapshots, loadErr := c.persons.LoadByIDs(ctx, ids)

	for i := range items {
		if items[i].Err != nil {
			metrics.CheckinsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if loadErr != nil {
			items[i].Err = failStep(StepResolve, loadErr)
			metrics.CheckinsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if err := attachSnapshot(&items[i].Result, reqs[i].PersonID, snapshots); err != nil {
			items[i].Err = err
			metrics.CheckinsTotal.WithLabelValues("failed").Inc()
			continue
		}
		c.publishCompletion(ctx, items[i].Result)
		metrics.CheckinsTotal.WithLabelValues("completed").Inc()
	}
	return items
}

// resolveSlot runs the stateful half of one check-in: authorization
// first, always, then occurrence, code, and the attendance row.
func (c *Coordinator) resolveSlot(ctx context.Context, req Request) (Result, error) {
	if req.PersonID == "" || req.LocationID == "" || req.GroupID == "" || req.Date.IsZero() {
		return Result{}, errors.New("checkin: person, location, group and date required")
	}

	if err := authz.Guard(ctx, c.authorizer, req.PersonID, req.LocationID); err != nil {
		return Result{}, failStep(StepAuthorize, err)
	}

	occ, err := c.occurrences.GetOrCreate(ctx, req.GroupID, req.ScheduleID, req.Date)
	if err != nil {
		return Result{}, failStep(StepOccurrence, err)
	}

	code, err := c.codes.GenerateUnique(ctx, req.Date, c.maxCodeAttempts)
	if err != nil {
		return Result{}, failStep(StepCode, err)
	}

	att := Attendance{
		ID:             uuid.NewString(),
		OccurrenceID:   occ.ID,
		SecurityCodeID: code.ID,
		PersonID:       req.PersonID,
		LocationID:     req.LocationID,
		CheckedInAt:    time.Now().UTC(),
	}
	if err := c.attendance.Insert(ctx, att); err != nil {
		return Result{}, failStep(StepRecord, err)
	}

	return Result{AttendanceID: att.ID, Occurrence: occ, Code: code}, nil
}

// attachSnapshot fills in the person snapshot. A person the loader
// cannot find reports as the generic authorization error: the caller
// must not learn whether the id was denied or simply absent.
func attachSnapshot(res *Result, personID string, snapshots map[string]person.PersonWithRelations) error {
	snap, ok := snapshots[personID]
	if !ok {
		return failStep(StepResolve, authz.ErrDenied)
	}
	res.Person = snap
	return nil
}

// CompletionEvent is the queue payload consumed by the worker.
type CompletionEvent struct {
	AttendanceID string `json:"attendance_id"`
	PersonID     string `json:"person_id"`
	Code         string `json:"code"`
}

// EventType tags completion messages on the queue.
const EventType = "checkin.completed"

func (c *Coordinator) publishCompletion(ctx context.Context, res Result) {
	if c.events == nil {
		return
	}
	body, _ := json.Marshal(CompletionEvent{
		AttendanceID: res.AttendanceID,
		PersonID:     res.Person.ID,
		Code:         res.Code.Code,
	})
	if err := c.events.Publish(ctx, queue.Message{Type: EventType, Body: body}); err != nil {
		c.log.Warn("completion event publish failed", "attendance_id", res.AttendanceID, "error", err)
	}
}

func failStep(step Step, err error) error {
	return fmt.Errorf("checkin %s: %w", step, err)
}
