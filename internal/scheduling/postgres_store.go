package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgxpool.Pool the store needs, so tests can inject
// a pgxmock pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments in the relational database. The
// appointments_active_slot_idx partial unique index backstops the slot
// invariant when two inserts race past the application-level check.
type PostgresStore struct {
	pool querier
}

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q querier) *PostgresStore {
	if q == nil {
		panic("scheduling: querier required")
	}
	return &PostgresStore{pool: q}
}

const appointmentColumns = `id, patient_id, visit_date, visit_time, details, status, read_flag, created_at, updated_at, version`

// Get retrieves an appointment by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1
	`
	a, err := scanAppointment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("select", err)
	}
	return a, nil
}

// FindBySlot returns the non-Cancelled appointments occupying the slot.
func (s *PostgresStore) FindBySlot(ctx context.Context, date, timeOfDay string) ([]*Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE visit_date = $1 AND visit_time = $2 AND status <> 'Cancelled'
		ORDER BY created_at
	`
	return s.queryMany(ctx, query, date, timeOfDay)
}

// Put commits a record under the optimistic protocol described on Store.
func (s *PostgresStore) Put(ctx context.Context, a *Appointment) error {
	if a.Version == 0 {
		return s.insert(ctx, a)
	}
	return s.update(ctx, a)
}

func (s *PostgresStore) insert(ctx context.Context, a *Appointment) error {
	query := `
		INSERT INTO appointments (id, patient_id, visit_date, visit_time, details, status, read_flag, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), 1)
		RETURNING updated_at, version
	`
	err := s.pool.QueryRow(ctx, query,
		a.ID,
		a.PatientID,
		a.Date,
		a.Time,
		a.Details,
		string(a.Status),
		a.Read,
		a.CreatedAt,
	).Scan(&a.UpdatedAt, &a.Version)
	if err != nil {
		return storeErr("insert", err)
	}
	return nil
}

func (s *PostgresStore) update(ctx context.Context, a *Appointment) error {
	query := `
		UPDATE appointments
		SET patient_id = $2, visit_date = $3, visit_time = $4, details = $5,
		    status = $6, read_flag = $7, updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING updated_at, version
	`
	err := s.pool.QueryRow(ctx, query,
		a.ID,
		a.PatientID,
		a.Date,
		a.Time,
		a.Details,
		string(a.Status),
		a.Read,
		a.Version,
	).Scan(&a.UpdatedAt, &a.Version)
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a stale version from a deleted record.
		var one int
		probe := s.pool.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = $1`, a.ID)
		if probeErr := probe.Scan(&one); probeErr != nil {
			if errors.Is(probeErr, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return storeErr("update probe", probeErr)
		}
		return ErrVersionConflict
	}
	return storeErr("update", err)
}

// ListByPatient returns the patient's appointments, oldest first.
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at
	`
	return s.queryMany(ctx, query, patientID)
}

// ListAll returns every appointment, oldest first.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		ORDER BY created_at
	`
	return s.queryMany(ctx, query)
}

func (s *PostgresStore) queryMany(ctx context.Context, query string, args ...any) ([]*Appointment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, storeErr("scan", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rows", err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.Date,
		&a.Time,
		&a.Details,
		&status,
		&a.Read,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

// storeErr maps driver failures to the package's structured errors.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "active_slot") {
				return ErrSlotConflict
			}
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %s: %s", ErrStoreUnavailable, op, pgErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

var _ Store = (*PostgresStore)(nil)
