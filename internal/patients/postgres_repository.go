package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository persists patients in the relational database.
type PostgresRepository struct {
	pool querier
}

// NewPostgresRepository initializes a repository backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("patients: querier required")
	}
	return &PostgresRepository{pool: q}
}

const patientColumns = `id, name, email, credential_hash, created_at`

// Create registers a patient, assigning an id when absent.
func (r *PostgresRepository) Create(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO patients (id, name, email, credential_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.NormalizedEmail(), p.CredentialHash, p.CreatedAt)
	if err != nil {
		return repoErr("insert", err)
	}
	return nil
}

// Get retrieves a patient by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	p, err := scanPatient(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, repoErr("select", err)
	}
	return p, nil
}

// GetByEmail retrieves a patient by normalized email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE email = $1`
	p, err := scanPatient(r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, repoErr("select", err)
	}
	return p, nil
}

// List returns every patient, oldest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, repoErr("query", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, repoErr("scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("rows", err)
	}
	return out, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CredentialHash, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func repoErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("%w: %s: %s", ErrStoreUnavailable, op, pgErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

var _ Repository = (*PostgresRepository)(nil)
