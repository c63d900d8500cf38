package booking

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

const bookingColumns = `id, slot_id, patient_id, reason, status, requested_at, updated_at`

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b      Booking
		status string
	)

	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.PatientID,
		&b.Reason,
		&status,
		&b.RequestedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = Status(status)
	return &b, nil
}

func scanOne(row pgx.Row, id uuid.UUID, op string) (*Booking, error) {
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("booking %s not found", id)
		}
		return nil, mapWriteError(op, err)
	}
	return b, nil
}

func mapWriteError(op string, err error) error {
	switch db.PgCode(err) {
	case db.CodeForeignKeyViolation:
		return apperr.NotFoundf("%s: referenced slot or patient does not exist", op)
	case db.CodeUniqueViolation:
		return apperr.Conflictf("%s: booking already exists", op)
	case db.CodeCheckViolation:
		return apperr.Validationf("%s: booking violates a table constraint", op)
	}
	return apperr.Storage(op, err)
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, b Booking) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bookings (id, slot_id, patient_id, reason, status, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+bookingColumns,
		b.ID, b.SlotID, b.PatientID, b.Reason, string(b.Status), b.RequestedAt, b.UpdatedAt)
	return scanOne(row, b.ID, "insert booking")
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanOne(row, id, "get booking")
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanOne(row, id, "lock booking")
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Booking, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
		    updated_at = $4
		WHERE id = $1
		  AND status = $2
		RETURNING `+bookingColumns,
		id, string(from), string(to), at)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflictf("booking %s is no longer %s", id, from)
		}
		return nil, mapWriteError("update booking status", err)
	}
	return b, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("delete booking", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("booking %s not found", id)
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if len(f.SlotIDs) > 0 {
		add("slot_id = ANY($%d::uuid[])", uuidStrings(f.SlotIDs))
	}
	if len(f.PatientIDs) > 0 {
		add("patient_id = ANY($%d::uuid[])", uuidStrings(f.PatientIDs))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY requested_at, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list bookings", err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, apperr.Storage("list bookings", err)
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list bookings", err)
	}

	return result, nil
}

func (r *PgRepository) CountConsumingBySlot(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot_id, COUNT(*)
		FROM bookings
		WHERE status IN ('accepted', 'checked_in', 'completed')
		GROUP BY slot_id
	`)
	if err != nil {
		return nil, apperr.Storage("count consuming bookings", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			slotID uuid.UUID
			n      int64
		)
		if err := rows.Scan(&slotID, &n); err != nil {
			return nil, apperr.Storage("count consuming bookings", err)
		}
		counts[slotID] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("count consuming bookings", err)
	}
	return counts, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.BookingID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return apperr.Storage("insert event log", err)
	}
	return nil
}
