package slot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

const slotColumns = `id, date, start_hour, end_hour, location, capacity, booked_count, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.Date,
		&s.StartHour,
		&s.EndHour,
		&s.Location,
		&s.Capacity,
		&s.BookedCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Date = Day(s.Date)
	return &s, nil
}

func scanOne(row pgx.Row, id uuid.UUID, op string) (*Slot, error) {
	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("slot %s not found", id)
		}
		return nil, mapWriteError(op, err)
	}
	return s, nil
}

func mapWriteError(op string, err error) error {
	switch db.PgCode(err) {
	case db.CodeExclusionViolation:
		return apperr.Conflictf("%s: slot overlaps an existing slot at the same location", op)
	case db.CodeCheckViolation:
		return apperr.Capacityf("%s: booked count would leave 0..capacity", op)
	case db.CodeUniqueViolation:
		return apperr.Conflictf("%s: slot already exists", op)
	}
	return apperr.Storage(op, err)
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, s Slot) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slots (id, date, start_hour, end_hour, location, capacity, booked_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING `+slotColumns,
		s.ID, s.Date, s.StartHour, s.EndHour, s.Location, s.Capacity, s.CreatedAt, s.UpdatedAt)
	return scanOne(row, s.ID, "insert slot")
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanOne(row, id, "get slot")
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanOne(row, id, "lock slot")
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, s Slot) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE slots
		SET date = $2,
		    start_hour = $3,
		    end_hour = $4,
		    location = $5,
		    capacity = $6,
		    updated_at = $7
		WHERE id = $1
		RETURNING `+slotColumns,
		s.ID, s.Date, s.StartHour, s.EndHour, s.Location, s.Capacity, s.UpdatedAt)
	return scanOne(row, s.ID, "update slot")
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND booked_count = 0
	`, id)
	if err != nil {
		return apperr.Storage("delete slot", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflictf("slot %s is missing or still holds confirmed bookings", id)
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Slot, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Date != nil {
		add("date = $%d", Day(*f.Date))
	}
	if f.From != nil {
		add("date >= $%d", Day(*f.From))
	}
	if f.To != nil {
		add("date <= $%d", Day(*f.To))
	}
	if f.Location != "" {
		add("location = $%d", f.Location)
	}
	if f.Search != "" {
		add(`(location ILIKE $%[1]d ESCAPE '\' OR to_char(date, 'YYYY-MM-DD') LIKE $%[1]d ESCAPE '\')`, db.ContainsPattern(f.Search))
	}

	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, start_hour, location, id`

	return r.query(ctx, "list slots", query, args...)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, probe Slot) ([]Slot, error) {
	return r.query(ctx, "find overlapping slots", `
		SELECT `+slotColumns+`
		FROM slots
		WHERE date = $1
		  AND location = $2
		  AND start_hour < $4
		  AND $3 < end_hour
		  AND id <> $5
		ORDER BY start_hour
	`, probe.Date, probe.Location, probe.StartHour, probe.EndHour, probe.ID)
}

func (r *PgRepository) IncrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots
		SET booked_count = booked_count + 1,
		    updated_at = $2
		WHERE id = $1
		  AND booked_count < capacity
	`, id, at)
	if err != nil {
		return false, mapWriteError("increment booked count", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DecrementBooked(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slots
		SET booked_count = booked_count - 1,
		    updated_at = $2
		WHERE id = $1
		  AND booked_count > 0
	`, id, at)
	if err != nil {
		return false, mapWriteError("decrement booked count", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) query(ctx context.Context, op, sql string, args ...any) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}

	return result, nil
}
