package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"autoria_scraper/models"
)

// PgxPool is the subset of pgxpool.Pool the store uses. Kept as an
// interface so tests can swap in pgxmock.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool (or a mock in tests).
func NewPostgresStoreWithPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the listings table. phone_claimed_at tracks when a worker
// took the claim so stuck in_progress rows can be requeued.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		price_usd INTEGER,
		odometer INTEGER,
		username TEXT,
		phone_number TEXT,
		image_url TEXT,
		images_count INTEGER NOT NULL DEFAULT 0,
		car_number TEXT,
		car_vin TEXT,
		datetime_found TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		phone_status TEXT NOT NULL DEFAULT 'pending',
		phone_claimed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_listings_phone_status
		ON listings (phone_status, datetime_found);`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Ingestion
// =============================================================================

const insertListingSQL = `
		INSERT INTO listings (
			url, title, price_usd, odometer, username, phone_number,
			image_url, images_count, car_number, car_vin, datetime_found, phone_status
		) VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9, $10, 'pending')
		ON CONFLICT (url) DO NOTHING`

// InsertListings writes a batch of scraped listings in a single transaction.
// Duplicate URLs are silently skipped; any other failure aborts the whole
// batch so no subset of it is persisted. phone_number and phone_status are
// forced regardless of what the scraper supplied. Returns the number of rows
// actually inserted.
func (s *PostgresStore) InsertListings(ctx context.Context, listings []models.Listing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, l := range listings {
		found := l.DatetimeFound
		if found.IsZero() {
			found = time.Now()
		}

		tag, err := tx.Exec(ctx, insertListingSQL,
			l.URL, l.Title, l.PriceUSD, l.Odometer, l.Username,
			l.ImageURL, l.ImagesCount, l.CarNumber, l.CarVIN, found,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", l.URL, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// =============================================================================
// Phone job queue
// =============================================================================

const claimPhoneJobSQL = `
		SELECT id, url
		FROM listings
		WHERE phone_status IN ('pending', 'error')
		ORDER BY CASE phone_status WHEN 'pending' THEN 0 ELSE 1 END, datetime_found
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

// ClaimPhoneJob atomically selects one enrichable listing and flips it to
// in_progress before releasing the row lock. Pending rows are claimed ahead
// of error retries; rows locked by a concurrent claim are skipped, never
// waited on. Returns (nil, nil) when nothing is claimable.
func (s *PostgresStore) ClaimPhoneJob(ctx context.Context) (*models.PhoneJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var job models.PhoneJob
	err = tx.QueryRow(ctx, claimPhoneJobSQL).Scan(&job.ListingID, &job.URL)
	if err == pgx.ErrNoRows {
		return nil, tx.Commit(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE listings
		SET phone_status = 'in_progress', phone_claimed_at = NOW()
		WHERE id = $1`,
		job.ListingID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark in_progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &job, nil
}

// FinishPhoneJob records the outcome of a claimed job: the normalized phone
// (or nil) and a terminal success or retry-eligible error status.
func (s *PostgresStore) FinishPhoneJob(ctx context.Context, listingID int64, phone *string, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET phone_number = $2, phone_status = $3, phone_claimed_at = NULL
		WHERE id = $1`,
		listingID, phone, status,
	)
	return err
}

// RequeueStaleJobs demotes rows stuck in_progress longer than olderThan back
// to error so they become claimable again. Covers workers that died mid-job.
func (s *PostgresStore) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET phone_status = 'error', phone_claimed_at = NULL
		WHERE phone_status = 'in_progress' AND phone_claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByPhoneStatus returns how many listings sit in each phone_status.
func (s *PostgresStore) CountByPhoneStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phone_status, COUNT(*)
		FROM listings
		GROUP BY phone_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
