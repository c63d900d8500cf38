package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches reports whether term occurs in the patient's name, ignoring case.
func (p Patient) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	return strings.Contains(strings.ToLower(p.Name), term)
}

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func (r *PgRepository) Insert(ctx context.Context, p Patient) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, email, created_at, updated_at
	`, p.ID, p.Name, p.Email, p.CreatedAt, p.UpdatedAt)

	out, err := scanPatient(row)
	if err != nil {
		if db.PgCode(err) == db.CodeUniqueViolation {
			return nil, apperr.Conflictf("patient %s already exists", p.ID)
		}
		return nil, apperr.Storage("insert patient", err)
	}
	return out, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)

	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("patient %s not found", id)
		}
		return nil, apperr.Storage("get patient", err)
	}
	return p, nil
}

func (r *PgRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, apperr.Storage("check patient", err)
	}
	return exists, nil
}

// SearchIDs returns the ids of patients whose name contains term.
func (r *PgRepository) SearchIDs(ctx context.Context, term string) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id
		FROM patients
		WHERE name ILIKE $1 ESCAPE '\'
		ORDER BY name, id
	`, db.ContainsPattern(strings.TrimSpace(term)))
	if err != nil {
		return nil, apperr.Storage("search patients", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("search patients", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("search patients", err)
	}
	return ids, nil
}
