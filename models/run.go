package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun is the operational journal record for one crawl of a site.
// Lives in the local SQLite store, not in Postgres.
type ScrapeRun struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	SiteID            string     `json:"site_id" db:"site_id"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at" db:"finished_at"`
	Status            RunStatus  `json:"status" db:"status"`
	PagesCrawled      int        `json:"pages_crawled" db:"pages_crawled"`
	ListingsFound     int        `json:"listings_found" db:"listings_found"`
	ListingsSubmitted int        `json:"listings_submitted" db:"listings_submitted"`
	ErrorMessage      string     `json:"error_message" db:"error_message"`
}
