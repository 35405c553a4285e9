package person

import (
	"context"
	"database/sql"
)

// Repository is the Postgres backend. The join to person_aliases is
// folded into the one bulk query so alias resolution never costs a
// second round-trip per person.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SelectByIDs fetches persons with their primary alias in one query.
func (r *Repository) SelectByIDs(ctx context.Context, ids []string) ([]PersonWithRelations, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.first_name, p.last_name, p.nick_name, p.birth_date, a.id
		FROM persons p
		JOIN person_aliases a ON a.person_id = p.id AND a.is_primary
		WHERE p.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PersonWithRelations
	for rows.Next() {
		var p PersonWithRelations
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.NickName, &p.BirthDate, &p.AliasID); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
