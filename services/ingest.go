package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"autoria_scraper/models"
)

// ListingWriter is the storage dependency of the pipeline: one atomic,
// conflict-ignoring batch write.
type ListingWriter interface {
	InsertListings(ctx context.Context, listings []models.Listing) (int64, error)
}

// IngestPipeline buffers scraped listings and flushes them to storage in
// deduplicated batches. One pipeline instance owns its batch exclusively;
// it is safe for concurrent Submit calls.
//
// A failed flush keeps the batch in place and returns the error: duplicate
// URLs are always safe to retry, anything else is the caller's decision.
type IngestPipeline struct {
	store     ListingWriter
	batchSize int

	mu    sync.Mutex
	batch []models.Listing

	submitted int64
	inserted  int64
}

func NewIngestPipeline(store ListingWriter, batchSize int) *IngestPipeline {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IngestPipeline{
		store:     store,
		batchSize: batchSize,
		batch:     make([]models.Listing, 0, batchSize),
	}
}

// Submit appends one scraped record to the current batch, flushing when the
// batch reaches the configured size. The record is normalized at this
// boundary: phone fields are reset no matter what the scraper supplied, a
// missing found-time defaults to now, and a negative image count is clamped.
func (p *IngestPipeline) Submit(ctx context.Context, rec models.Listing) error {
	if rec.URL == "" {
		return fmt.Errorf("submit: record has no url")
	}

	rec.PhoneNumber = nil
	rec.PhoneStatus = models.PhoneStatusPending
	if rec.DatetimeFound.IsZero() {
		rec.DatetimeFound = time.Now()
	}
	if rec.ImagesCount < 0 {
		rec.ImagesCount = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.batch = append(p.batch, rec)
	p.submitted++

	if len(p.batch) >= p.batchSize {
		return p.flushLocked(ctx)
	}
	return nil
}

// Flush writes the current batch, if any, as one all-or-nothing insert.
func (p *IngestPipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

func (p *IngestPipeline) flushLocked(ctx context.Context) error {
	if len(p.batch) == 0 {
		return nil
	}

	n, err := p.store.InsertListings(ctx, p.batch)
	if err != nil {
		return fmt.Errorf("flush %d listings: %w", len(p.batch), err)
	}

	p.inserted += n
	log.Printf("Ingest: flushed %d listings (%d new)", len(p.batch), n)
	p.batch = p.batch[:0]
	return nil
}

// Close flushes any residual batch. Call before process exit so nothing
// submitted is silently dropped.
func (p *IngestPipeline) Close(ctx context.Context) error {
	return p.Flush(ctx)
}

// Pending returns the number of buffered, not yet persisted records.
func (p *IngestPipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch)
}

// Stats returns lifetime submitted and inserted counts.
func (p *IngestPipeline) Stats() (submitted, inserted int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted, p.inserted
}
