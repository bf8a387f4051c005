package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"autoria_scraper/models"
	"autoria_scraper/phone"
)

// JobStore is the storage side of the phone queue: atomic claim, finalize,
// stale-claim recovery, and queue stats.
type JobStore interface {
	ClaimPhoneJob(ctx context.Context) (*models.PhoneJob, error)
	FinishPhoneJob(ctx context.Context, listingID int64, phone *string, status string) error
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	CountByPhoneStatus(ctx context.Context) (map[string]int, error)
}

// Revealer performs the browser-backed phone-reveal interaction for one URL.
// How the reveal happens is its business; the pool only sees the raw string
// or a failure.
type Revealer interface {
	Reveal(ctx context.Context, url string) (string, error)
	Close()
}

// RevealerFactory builds one revealer per worker, so each worker owns its
// browser session for its whole lifetime.
type RevealerFactory func() (Revealer, error)

// PhonePool drives N workers that drain the phone enrichment queue. Each
// worker claims exactly one listing at a time, asks its revealer for the
// number, normalizes it, and writes the outcome back. Per-job failures map
// to the error status; storage or session-acquisition failures kill the
// worker.
type PhonePool struct {
	store       JobStore
	newRevealer RevealerFactory

	workers       int
	pollInterval  time.Duration
	revealTimeout time.Duration
	staleAfter    time.Duration

	triggerCh chan struct{}
}

func NewPhonePool(store JobStore, factory RevealerFactory, workers int, pollInterval, revealTimeout, staleAfter time.Duration) *PhonePool {
	if workers < 1 {
		workers = 1
	}
	return &PhonePool{
		store:         store,
		newRevealer:   factory,
		workers:       workers,
		pollInterval:  pollInterval,
		revealTimeout: revealTimeout,
		staleAfter:    staleAfter,
		triggerCh:     make(chan struct{}, 1),
	}
}

// Trigger wakes one sleeping worker early instead of waiting out the poll
// interval. Coordination still happens through row state, never through
// this channel.
func (p *PhonePool) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the workers and the stale-claim janitor and blocks until the
// context is cancelled or every worker has died. The janitor lives on a
// pool-internal context torn down when the last worker exits, so it can
// never keep a dead pool alive. Returns the first fatal worker error when
// the pool dies on its own.
func (p *PhonePool) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers sync.WaitGroup
	errCh := make(chan error, p.workers)

	for i := 0; i < p.workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			if err := p.runWorker(runCtx, id); err != nil {
				log.Printf("Phone worker %d died: %v", id, err)
				errCh <- err
			}
		}(i)
	}

	var janitor sync.WaitGroup
	if p.staleAfter > 0 {
		janitor.Add(1)
		go func() {
			defer janitor.Done()
			p.runJanitor(runCtx)
		}()
	}

	workers.Wait()
	cancel()
	janitor.Wait()
	close(errCh)

	if ctx.Err() != nil {
		return nil
	}
	return <-errCh
}

func (p *PhonePool) runWorker(ctx context.Context, id int) error {
	rev, err := p.newRevealer()
	if err != nil {
		return fmt.Errorf("worker %d: acquire browser session: %w", id, err)
	}
	defer rev.Close()

	log.Printf("Phone worker %d started", id)

	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := p.store.ClaimPhoneJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Cannot keep going without knowing whether the claim landed.
			return fmt.Errorf("worker %d: claim: %w", id, err)
		}

		if job == nil {
			p.sleep(ctx)
			continue
		}

		if err := p.process(ctx, id, rev, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process runs one claimed job to a terminal status. Reveal failures and
// unusable results are recorded as error and never propagate; only the
// finalize write can fail the worker.
func (p *PhonePool) process(ctx context.Context, id int, rev Revealer, job *models.PhoneJob) error {
	revealCtx, cancel := context.WithTimeout(ctx, p.revealTimeout)
	raw, err := rev.Reveal(revealCtx, job.URL)
	cancel()

	status := models.PhoneStatusSuccess
	var normalized *string
	if err != nil {
		log.Printf("Phone worker %d: reveal failed for %s: %v", id, job.URL, err)
		status = models.PhoneStatusError
	} else {
		normalized = phone.Normalize(&raw)
		if normalized == nil {
			log.Printf("Phone worker %d: no usable number on %s", id, job.URL)
			status = models.PhoneStatusError
		}
	}

	if err := p.store.FinishPhoneJob(ctx, job.ListingID, normalized, status); err != nil {
		return fmt.Errorf("worker %d: finish listing %d: %w", id, job.ListingID, err)
	}

	if status == models.PhoneStatusSuccess {
		log.Printf("Phone worker %d: listing %d -> %s", id, job.ListingID, *normalized)
	}
	return nil
}

func (p *PhonePool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-p.triggerCh:
	}
}

// runJanitor periodically requeues rows left in_progress by dead workers so
// they become claimable again as retries, and logs the queue breakdown.
func (p *PhonePool) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(p.staleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.RequeueStaleJobs(ctx, p.staleAfter)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Phone janitor: requeue stale claims: %v", err)
				}
				continue
			}
			if n > 0 {
				log.Printf("Phone janitor: requeued %d stale in_progress rows", n)
			}

			counts, err := p.store.CountByPhoneStatus(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Phone janitor: queue counts: %v", err)
				}
				continue
			}
			log.Printf("Phone queue: %d pending, %d in_progress, %d success, %d error",
				counts[models.PhoneStatusPending], counts[models.PhoneStatusInProgress],
				counts[models.PhoneStatusSuccess], counts[models.PhoneStatusError])
		}
	}
}
