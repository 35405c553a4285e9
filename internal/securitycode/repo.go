package securitycode

import (
	"context"
	"database/sql"
)

// Repository is the Postgres backend. The security_codes table
// carries UNIQUE (code, issue_date); a duplicate draw surfaces as a
// conflict the generator retries on.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a code row.
func (r *Repository) Insert(ctx context.Context, sc SecurityCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_codes (id, code, issue_date, issued_at)
		VALUES ($1, $2, $3, $4)
	`, sc.ID, sc.Code, sc.IssueDate, sc.IssuedAt)
	return err
}
