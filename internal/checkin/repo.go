package checkin

import (
	"context"
	"database/sql"
	"time"
)

// Repository persists attendance rows and serves the code index used
// by the search path.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes an attendance row linking occurrence, code and
// person.
func (r *Repository) Insert(ctx context.Context, att Attendance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendances (id, occurrence_id, security_code_id, person_id, location_id, checked_in_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, att.ID, att.OccurrenceID, att.SecurityCodeID, att.PersonID, att.LocationID, att.CheckedInAt)
	return err
}

// CodesForDate returns every code issued on the given date with its
// attendance linkage, in one query. The search path scans the whole
// list regardless of input, so no code-specific WHERE clause belongs
// here.
func (r *Repository) CodesForDate(ctx context.Context, issueDate time.Time) ([]CodeEntry, error) {
	y, m, d := issueDate.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	rows, err := r.db.QueryContext(ctx, `
		SELECT sc.code, a.id, a.person_id
		FROM security_codes sc
		JOIN attendances a ON a.security_code_id = sc.id
		WHERE sc.issue_date = $1
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []CodeEntry
	for rows.Next() {
		var e CodeEntry
		if err := rows.Scan(&e.Code, &e.AttendanceID, &e.PersonID); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// MarkLabelPrinted records the label print time for an attendance
// row. Called by the worker after the completion event.
func (r *Repository) MarkLabelPrinted(ctx context.Context, attendanceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendances SET label_printed_at = $2 WHERE id = $1
	`, attendanceID, at)
	return err
}
