package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"autoria_scraper/models"
)

// SQLiteStore keeps process-local operational data: the crawl run journal
// and per-site resume state. Cross-process coordination state lives only in
// Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		pages_crawled INTEGER DEFAULT 0,
		listings_found INTEGER DEFAULT 0,
		listings_submitted INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS site_state (
		site_id TEXT PRIMARY KEY,
		resume_page INTEGER DEFAULT 0,
		last_run_at DATETIME,
		last_run_status TEXT
	);`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new running journal entry and returns its ID.
func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err := s.db.Exec(`
		INSERT INTO scrape_runs (id, site_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.SiteID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// FinishRun closes out a journal entry and rolls the site summary forward.
func (s *SQLiteStore) FinishRun(run *models.ScrapeRun) error {
	now := time.Now()
	run.FinishedAt = &now

	_, err := s.db.Exec(`
		UPDATE scrape_runs
		SET finished_at = ?, status = ?, pages_crawled = ?,
			listings_found = ?, listings_submitted = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, string(run.Status), run.PagesCrawled,
		run.ListingsFound, run.ListingsSubmitted, run.ErrorMessage,
		run.ID.String(),
	)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO site_state (site_id, last_run_at, last_run_status)
		VALUES (?, ?, ?)
		ON CONFLICT (site_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status`,
		run.SiteID, now, string(run.Status),
	)
	return err
}

// ResumePage returns where the last interrupted crawl of a site stopped,
// or 0 when it should start from the beginning.
func (s *SQLiteStore) ResumePage(siteID string) (int, error) {
	var page int
	err := s.db.QueryRow(`SELECT resume_page FROM site_state WHERE site_id = ?`, siteID).Scan(&page)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return page, nil
}

// SetResumePage records crawl progress; pass 0 after a completed run.
func (s *SQLiteStore) SetResumePage(siteID string, page int) error {
	_, err := s.db.Exec(`
		INSERT INTO site_state (site_id, resume_page)
		VALUES (?, ?)
		ON CONFLICT (site_id) DO UPDATE SET resume_page = excluded.resume_page`,
		siteID, page,
	)
	return err
}

// RecentRuns returns the latest journal entries, newest first.
func (s *SQLiteStore) RecentRuns(limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, started_at, finished_at, status,
			pages_crawled, listings_found, listings_submitted, error_message
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var id string
		var status string
		if err := rows.Scan(&id, &run.SiteID, &run.StartedAt, &run.FinishedAt, &status,
			&run.PagesCrawled, &run.ListingsFound, &run.ListingsSubmitted, &run.ErrorMessage); err != nil {
			return nil, err
		}
		run.ID, _ = uuid.Parse(id)
		run.Status = models.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
