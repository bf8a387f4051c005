package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"autoria_scraper/config"
)

// Runner is anything the scheduler can kick off, in practice the spider.
type Runner interface {
	Run(ctx context.Context) error
}

// Notifiable lets the scheduler nudge the worker pool right after a crawl
// so freshly pending rows are claimed without waiting out a poll interval.
type Notifiable interface {
	Trigger()
}

type Scheduler struct {
	cfg     *config.SchedulerConfig
	spider  Runner
	workers Notifiable
	cron    *cron.Cron
	ticker  *time.Ticker
	stopCh  chan struct{}
}

func New(cfg *config.SchedulerConfig, spider Runner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		spider: spider,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

// SetWorkers registers the pool to notify after each crawl.
func (s *Scheduler) SetWorkers(workers Notifiable) {
	s.workers = workers
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.runOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}

	log.Println("No schedule configured, crawls run only via -scrape")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.spider.Run(ctx); err != nil {
		log.Printf("Scheduled crawl error: %v", err)
	}
	if s.workers != nil {
		s.workers.Trigger()
	}
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}
