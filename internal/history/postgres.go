package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore keeps measurements in a PostgreSQL table.
type PostgresStore struct {
	sql *sql.DB
}

var _ domain.HistoryStore = (*PostgresStore)(nil)

// OpenPostgres connects to PostgreSQL, pings, and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	s, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(4)
	s.SetMaxIdleConns(2)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	p := &PostgresStore{sql: s}
	if err := p.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the underlying database connection.
func (p *PostgresStore) Close() error {
	return p.sql.Close()
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			id TEXT PRIMARY KEY,
			weight_kg DOUBLE PRECISION NOT NULL CHECK(weight_kg > 0),
			measured_at TIMESTAMPTZ NOT NULL,
			synced BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_measured_at ON measurements(measured_at);`,
	}
	for _, stmt := range stmts {
		if _, err := p.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: migrate: %w", err)
		}
	}
	return nil
}

// Insert stores m. Re-inserting an existing ID overwrites that row.
func (p *PostgresStore) Insert(ctx context.Context, m domain.Measurement) error {
	_, err := p.sql.ExecContext(ctx,
		`INSERT INTO measurements(id, weight_kg, measured_at, synced) VALUES($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET weight_kg = EXCLUDED.weight_kg, measured_at = EXCLUDED.measured_at, synced = EXCLUDED.synced;`,
		m.ID.String(), m.WeightKg, m.Timestamp.UTC(), m.Synced,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// MarkSynced flips the synced flag of the row with the given ID.
func (p *PostgresStore) MarkSynced(ctx context.Context, id uuid.UUID) error {
	res, err := p.sql.ExecContext(ctx, "UPDATE measurements SET synced = TRUE WHERE id = $1;", id.String())
	if err != nil {
		return fmt.Errorf("history: mark synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: mark synced: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all rows, newest first.
func (p *PostgresStore) List(ctx context.Context) ([]domain.Measurement, error) {
	rows, err := p.sql.QueryContext(ctx,
		`SELECT id, weight_kg, measured_at, synced FROM measurements ORDER BY measured_at DESC, id COLLATE "C" DESC;`)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Measurement
	for rows.Next() {
		var (
			m  domain.Measurement
			id string
		)
		if err := rows.Scan(&id, &m.WeightKg, &m.Timestamp, &m.Synced); err != nil {
			return nil, fmt.Errorf("history: list: %w", err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("history: list: bad id %q: %w", id, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
