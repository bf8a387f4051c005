package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"autoria_scraper/config"
	"autoria_scraper/httputil"
	"autoria_scraper/logging"
	"autoria_scraper/scheduler"
	"autoria_scraper/scraper"
	"autoria_scraper/services"
	"autoria_scraper/storage"
	"autoria_scraper/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run one crawl and exit")
	enrichOnly = flag.Bool("enrich", false, "Run only the phone workers, no crawling")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run carries the whole daemon lifecycle so every deferred teardown (final
// pipeline flush, store closes) executes on any exit path.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return err
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting autoria_scraper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN())
	if err != nil {
		log.Printf("Failed to connect to Postgres: %v", err)
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Printf("Failed to migrate schema: %v", err)
		return err
	}
	log.Printf("Connected to Postgres: %s@%s:%d/%s",
		cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	journal, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Printf("Failed to open SQLite journal: %v", err)
		return err
	}
	defer journal.Close()

	if runs, err := journal.RecentRuns(1); err == nil && len(runs) > 0 {
		last := runs[0]
		log.Printf("Last crawl of %s: %s (%d pages, %d listings submitted)",
			last.SiteID, last.Status, last.PagesCrawled, last.ListingsSubmitted)
	}

	site, ok := cfg.Sites["auto_ria"]
	if !ok {
		for _, s := range cfg.Sites {
			site = s
			break
		}
	}
	log.Printf("Site: %s (%s)", site.Name, site.StartURL)

	pipeline := services.NewIngestPipeline(store, cfg.Ingest.BatchSize)
	client := httputil.NewScrapingClient(&cfg.Proxy)
	spider := scraper.NewSpider(site, client, pipeline, journal)

	// Residual batch must reach storage even on an interrupted run.
	defer func() {
		if err := pipeline.Close(context.Background()); err != nil {
			log.Printf("Final flush failed: %v", err)
		}
	}()

	if *scrapeNow {
		log.Println("Running crawl...")
		if err := spider.Run(ctx); err != nil {
			log.Printf("Crawl failed: %v", err)
			return err
		}
		log.Println("Crawl complete!")
		return nil
	}

	pool := workers.NewPhonePool(
		store,
		func() (workers.Revealer, error) { return scraper.NewPhoneRevealer(site) },
		cfg.Phone.Workers,
		cfg.Phone.PollInterval,
		cfg.Phone.RevealTimeout,
		cfg.Phone.StaleAfter,
	)

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()
	log.Printf("Phone workers started (%d)", cfg.Phone.Workers)

	if !*enrichOnly {
		sched := scheduler.New(&cfg.Scheduler, spider)
		sched.SetWorkers(pool)
		if err := sched.Start(ctx); err != nil {
			log.Printf("Failed to start scheduler: %v", err)
			return err
		}
		defer sched.Stop()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("Shutting down...")
		cancel()
		<-poolDone
	case err := <-poolDone:
		if err != nil {
			log.Printf("Worker pool died: %v", err)
			cancel()
			return err
		}
	}

	log.Println("Goodbye!")
	return nil
}
