package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig
	Ingest    IngestConfig
	Phone     PhoneConfig
	Scheduler SchedulerConfig
	Proxy     ProxyConfig
	DBPath    string
	LogFile   string
	Sites     map[string]*SiteConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN builds the Postgres connection string for pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type IngestConfig struct {
	BatchSize int
}

type PhoneConfig struct {
	Workers       int
	PollInterval  time.Duration
	RevealTimeout time.Duration
	StaleAfter    time.Duration
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

type ProxyConfig struct {
	URL string
}

// SiteConfig describes one crawl target: where to start and which selectors
// pull the record fields out of the pages. Selectors are page-specific glue
// and live in yaml so a markup change never needs a rebuild.
type SiteConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	StartURL    string `yaml:"start_url"`
	RateLimitMS int    `yaml:"rate_limit_ms"`

	Selectors SiteSelectors `yaml:"selectors"`
}

type SiteSelectors struct {
	ListingCard string `yaml:"listing_card"`
	ListingLink string `yaml:"listing_link"`
	NextPage    string `yaml:"next_page"`
	Title       string `yaml:"title"`
	PriceUSD    string `yaml:"price_usd"`
	Odometer    string `yaml:"odometer"`
	Username    string `yaml:"username"`
	ImageURL    string `yaml:"image_url"`
	ImagesCount string `yaml:"images_count"`
	CarNumber   string `yaml:"car_number"`
	CarVIN      string `yaml:"car_vin"`
	PhoneSpan   string `yaml:"phone_span"`
	PhoneShow   string `yaml:"phone_show"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "autoria"),
			Password: getEnv("DB_PASS", "autoria"),
			Name:     getEnv("DB_NAME", "autodb"),
		},
		Ingest: IngestConfig{
			BatchSize: getEnvInt("BATCH_SIZE", 100),
		},
		Phone: PhoneConfig{
			Workers:       getEnvInt("PHONE_WORKERS", 4),
			PollInterval:  getEnvDuration("POLL_INTERVAL", 5*time.Second),
			RevealTimeout: getEnvDuration("REVEAL_TIMEOUT", 10*time.Second),
			StaleAfter:    getEnvDuration("STALE_CLAIM_AFTER", 15*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		DBPath:  getEnv("SQLITE_PATH", "scraper.db"),
		LogFile: getEnv("LOG_FILE", "daemon.log"),
		Sites:   make(map[string]*SiteConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if len(cfg.Sites) == 0 {
		site := DefaultAutoRiaSite()
		cfg.Sites[site.ID] = site
	}

	return cfg, nil
}

// DefaultAutoRiaSite is the compiled-in auto.ria.com crawl config, used when
// no yaml override is present under config/sites.
func DefaultAutoRiaSite() *SiteConfig {
	return &SiteConfig{
		ID:          "auto_ria",
		Name:        "AUTO.RIA",
		StartURL:    "https://auto.ria.com/uk/car/used/",
		RateLimitMS: 500,
		Selectors: SiteSelectors{
			ListingCard: "div.content-bar",
			ListingLink: "a.address",
			NextPage:    "a.page-link.next",
			Title:       "h1.head",
			PriceUSD:    "div.price_value strong",
			Odometer:    "div.base-information",
			Username:    "div.seller_info_name",
			ImageURL:    "div.photo-620x465 img",
			ImagesCount: "a.show-all",
			CarNumber:   "span.state-num",
			CarVIN:      "span.label-vin",
			PhoneSpan:   "span.phone.bold",
			PhoneShow:   "a.phone_show_link",
		},
	}
}

func (c *Config) loadSiteConfigs() error {
	configDir := "config/sites"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return err
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
