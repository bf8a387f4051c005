package models

import "time"

// Phone enrichment status. A listing starts as pending, is flipped to
// in_progress while a worker holds its claim, and ends up success (terminal)
// or error (retry-eligible).
const (
	PhoneStatusPending    = "pending"
	PhoneStatusInProgress = "in_progress"
	PhoneStatusSuccess    = "success"
	PhoneStatusError      = "error"
)

// Listing is one row of the listings table, keyed by URL. Scrape data is
// first-write-wins; phone_number and phone_status are owned by the
// enrichment workers after insert.
type Listing struct {
	ID            int64     `json:"id" db:"id"`
	URL           string    `json:"url" db:"url"`
	Title         *string   `json:"title" db:"title"`
	PriceUSD      *int      `json:"price_usd" db:"price_usd"`
	Odometer      *int      `json:"odometer" db:"odometer"`
	Username      *string   `json:"username" db:"username"`
	PhoneNumber   *string   `json:"phone_number" db:"phone_number"`
	ImageURL      *string   `json:"image_url" db:"image_url"`
	ImagesCount   int       `json:"images_count" db:"images_count"`
	CarNumber     *string   `json:"car_number" db:"car_number"`
	CarVIN        *string   `json:"car_vin" db:"car_vin"`
	DatetimeFound time.Time `json:"datetime_found" db:"datetime_found"`
	PhoneStatus   string    `json:"phone_status" db:"phone_status"`
}

// PhoneJob is the unit of work a worker claims: one listing locked for
// exclusive phone enrichment. Its only durable trace is the listing's
// phone_status.
type PhoneJob struct {
	ListingID int64
	URL       string
}
