package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-pooling/internal/models"
)

// PostgresStore keeps one row per pool and service date, with the pool
// itself stored as JSONB.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Pools(ctx context.Context, day Day) ([]models.Pool, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT payload FROM pools WHERE service_date = $1 ORDER BY position`, serviceDate(p.now(), day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Pool{}
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Pool(ctx context.Context, id string) (models.Pool, error) {
	now := p.now()
	row := p.db.QueryRowContext(ctx,
		`SELECT payload FROM pools WHERE id = $1 AND service_date IN ($2, $3) ORDER BY service_date DESC LIMIT 1`,
		id, serviceDate(now, Today), serviceDate(now, Yesterday))
	pool, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Pool{}, ErrNotFound
	}
	return pool, err
}

func (p *PostgresStore) SavePools(ctx context.Context, day Day, pools []models.Pool) error {
	date := serviceDate(p.now(), day)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pools WHERE service_date = $1`, date); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pools(service_date, id, position, payload) VALUES($1,$2,$3,$4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, pool := range pools {
		b, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, date, pool.ID, i, b); err != nil {
			return fmt.Errorf("insert pool %s: %w", pool.ID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) AppendPools(ctx context.Context, day Day, pools []models.Pool) error {
	date := serviceDate(p.now(), day)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM pools WHERE service_date = $1`, date).Scan(&next); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pools(service_date, id, position, payload) VALUES($1,$2,$3,$4)
		ON CONFLICT (service_date, id) DO UPDATE SET payload = EXCLUDED.payload`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, pool := range pools {
		b, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, date, pool.ID, next+i, b); err != nil {
			return fmt.Errorf("upsert pool %s: %w", pool.ID, err)
		}
	}
	return tx.Commit()
}

type scanner interface{ Scan(dest ...any) error }

func scanPool(s scanner) (models.Pool, error) {
	var b []byte
	if err := s.Scan(&b); err != nil {
		return models.Pool{}, err
	}
	var pool models.Pool
	if err := json.Unmarshal(b, &pool); err != nil {
		return models.Pool{}, err
	}
	return pool, nil
}

// serviceDate maps a Day onto a calendar date string in UTC.
func serviceDate(now time.Time, day Day) string {
	d := now.UTC()
	if day == Yesterday {
		d = d.AddDate(0, 0, -1)
	}
	return d.Format(time.DateOnly)
}

// RunMigrations applies every .sql file in dir in lexical order.
func RunMigrations(ctx context.Context, dsn, dir string) ([]string, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return applied, err
		}
		if _, err := db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}
