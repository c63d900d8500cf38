package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var columns = []string{"id", "slot_id", "patient_id", "reason", "status", "requested_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPgGetScansStatus(t *testing.T) {
	mock := newMock(t)
	id, slotID, patientID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM bookings").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(id, slotID, patientID, "checkup", "checked_in", now, now))

	b, err := NewPgRepository(mock).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, b.Status)
	assert.Equal(t, slotID, b.SlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetNotFound(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM bookings").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns))

	_, err := NewPgRepository(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertForeignKeyViolation(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("INSERT INTO bookings").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := NewPgRepository(mock).Insert(context.Background(), Booking{ID: uuid.New(), Status: StatusPending})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusGuardsFromStatus(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, "pending", "accepted", at).
		WillReturnRows(pgxmock.NewRows(columns))

	_, err := NewPgRepository(mock).UpdateStatus(context.Background(), id, StatusPending, StatusAccepted, at)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListFilters(t *testing.T) {
	mock := newMock(t)
	slotID, patientID := uuid.New(), uuid.New()
	status := StatusPending

	mock.ExpectQuery(`WHERE status = \$1 AND slot_id = ANY\(\$2::uuid\[\]\) AND patient_id = ANY\(\$3::uuid\[\]\) ORDER BY requested_at, id`).
		WithArgs("pending", []string{slotID.String()}, []string{patientID.String()}).
		WillReturnRows(pgxmock.NewRows(columns))

	out, err := NewPgRepository(mock).List(context.Background(), Filter{
		Status:     &status,
		SlotIDs:    []uuid.UUID{slotID},
		PatientIDs: []uuid.UUID{patientID},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCountConsumingBySlot(t *testing.T) {
	mock := newMock(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT slot_id, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"slot_id", "count"}).
			AddRow(a, int64(2)).
			AddRow(b, int64(1)))

	counts, err := NewPgRepository(mock).CountConsumingBySlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{a: 2, b: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	at := time.Now().UTC()
	payload := []byte(`{"from":"pending"}`)

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventBookingAccepted, &id, payload, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewPgRepository(mock).InsertEvent(context.Background(), EventLog{
		EventType: EventBookingAccepted,
		BookingID: &id,
		Payload:   payload,
		CreatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
