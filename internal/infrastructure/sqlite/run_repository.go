package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/mandelgather/internal/runs/domain"
)

const runColumns = `id, guid, width, height, max_iters, min_real, max_real, min_imag, max_imag,
	digest, workers, transport, gather_mode, state, elapsed_ns, checksum, output, error,
	created_at, completed_at`

// runRepository implements domain.RunRepository using SQLite.
type runRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *runRepository {
	return &runRepository{db: db}
}

var _ domain.RunRepository = (*runRepository)(nil)

func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var m RunModel
	err := scanner.Scan(
		&m.ID, &m.GUID, &m.Width, &m.Height, &m.MaxIters,
		&m.MinReal, &m.MaxReal, &m.MinImag, &m.MaxImag,
		&m.Digest, &m.Workers, &m.Transport, &m.GatherMode, &m.State, &m.ElapsedNS,
		&m.Checksum, &m.Output, &m.Error,
		&m.CreatedAt, &m.CompletedAt,
	)
	return &m, err
}

// Save inserts a new run (ID == 0) and sets its ID, or updates the outcome
// columns of an existing one.
func (r *runRepository) Save(run *domain.Run) error {
	m := toRunModel(run)

	if run.ID() == 0 {
		result, err := r.db.Exec(
			`INSERT INTO runs (
				guid, width, height, max_iters, min_real, max_real, min_imag, max_imag,
				digest, workers, transport, gather_mode, state, elapsed_ns, checksum, output, error,
				created_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.GUID, m.Width, m.Height, m.MaxIters, m.MinReal, m.MaxReal, m.MinImag, m.MaxImag,
			m.Digest, m.Workers, m.Transport, m.GatherMode, m.State, m.ElapsedNS,
			m.Checksum, m.Output, m.Error,
			m.CreatedAt, m.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		run.SetID(id)
		return nil
	}

	result, err := r.db.Exec(
		`UPDATE runs SET state = ?, elapsed_ns = ?, checksum = ?, output = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		m.State, m.ElapsedNS, m.Checksum, m.Output, m.Error, m.CompletedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &domain.RunNotFoundError{GUID: run.GUID()}
	}
	return nil
}

// FindByGUID retrieves a run by its GUID.
func (r *runRepository) FindByGUID(guid string) (*domain.Run, error) {
	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE guid = ?`, guid)
	m, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.RunNotFoundError{GUID: guid}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	return m.toDomain(), nil
}

// List retrieves runs matching filter, newest first.
func (r *runRepository) List(filter domain.ListFilter) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State.String())
	}
	if filter.Digest != "" {
		query += ` AND digest = ?`
		args = append(args, filter.Digest)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*domain.Run
	for rows.Next() {
		m, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run permanently.
func (r *runRepository) Delete(guid string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE guid = ?`, guid)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &domain.RunNotFoundError{GUID: guid}
	}
	return nil
}

// Close is a no-op; the connection is owned by DB.
func (r *runRepository) Close() error {
	return nil
}
