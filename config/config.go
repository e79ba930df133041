package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Wattson   WattsonConfig   `yaml:"wattson"`
	Metering  MeteringConfig  `yaml:"metering"`
	Tariff    TariffConfig    `yaml:"tariff"`
	Feed      FeedConfig      `yaml:"feed"`
	Store     StoreConfig     `yaml:"store"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type WattsonConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MeteringConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UsagePoint        string        `yaml:"usage_point"`
	Measure           string        `yaml:"measure"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

type TariffConfig struct {
	OffPeakPrice        float64 `yaml:"off_peak_price"`
	PeakPrice           float64 `yaml:"peak_price"`
	MonthlySubscription float64 `yaml:"monthly_subscription"`
	BillingStartDay     int     `yaml:"billing_start_day"`
	OffPeakEndHour      int     `yaml:"off_peak_end_hour"`
	OffPeakResumeHour   int     `yaml:"off_peak_resume_hour"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Topics         TopicsConfig  `yaml:"topics"`
}

type TopicsConfig struct {
	SubscriptionPrice string `yaml:"subscription_price"`
	OffPeakPrice      string `yaml:"off_peak_price"`
	PeakPrice         string `yaml:"peak_price"`
	BillingDay        string `yaml:"billing_day"`
}

type StoreConfig struct {
	Dir          string        `yaml:"dir"`
	GuardTimeout time.Duration `yaml:"guard_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ScheduleConfig struct {
	CheckCron   string `yaml:"check_cron"`
	FetchHour   int    `yaml:"fetch_hour"`
	FetchMinute int    `yaml:"fetch_minute"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override secrets and endpoints from environment variables if available
	if v := os.Getenv("METERING_BASE_URL"); v != "" {
		config.Metering.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("METERING_USAGE_POINT"); v != "" {
		config.Metering.UsagePoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("TARIFF_FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STORE_DIR"); v != "" {
		config.Store.Dir = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Wattson: WattsonConfig{
			Name:    "wattson",
			Version: "dev",
		},
		Metering: MeteringConfig{
			Measure:           "consumption",
			Timeout:           15 * time.Second,
			RequestsPerMinute: 6,
		},
		Tariff: TariffConfig{
			OffPeakPrice:        0.1382,
			PeakPrice:           0.1733,
			MonthlySubscription: 21.69,
			BillingStartDay:     24,
			OffPeakEndHour:      8,
			OffPeakResumeHour:   22,
		},
		Feed: FeedConfig{
			ReconnectDelay: 5 * time.Second,
		},
		Store: StoreConfig{
			Dir:          "data/invoices",
			GuardTimeout: time.Second,
			WriteTimeout: 2 * time.Second,
		},
		Schedule: ScheduleConfig{
			CheckCron:   "0 * * * * *",
			FetchHour:   7,
			FetchMinute: 30,
		},
		Dashboard: DashboardConfig{
			Address: ":8087",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Wattson.Name == "" {
		return fmt.Errorf("wattson.name is required")
	}

	if cfg.Metering.BaseURL == "" {
		return fmt.Errorf("metering.base_url is required")
	}
	if cfg.Metering.UsagePoint == "" {
		return fmt.Errorf("metering.usage_point is required")
	}
	if cfg.Metering.Timeout <= 0 {
		return fmt.Errorf("metering.timeout must be greater than 0")
	}
	if cfg.Metering.RequestsPerMinute <= 0 {
		return fmt.Errorf("metering.requests_per_minute must be greater than 0")
	}

	if cfg.Tariff.OffPeakPrice <= 0 || cfg.Tariff.PeakPrice <= 0 {
		return fmt.Errorf("tariff prices must be greater than 0")
	}
	if cfg.Tariff.BillingStartDay < 1 || cfg.Tariff.BillingStartDay > 28 {
		return fmt.Errorf("tariff.billing_start_day must be in [1, 28]")
	}
	if cfg.Tariff.OffPeakEndHour < 0 || cfg.Tariff.OffPeakEndHour > 23 {
		return fmt.Errorf("tariff.off_peak_end_hour must be in [0, 23]")
	}
	if cfg.Tariff.OffPeakResumeHour < cfg.Tariff.OffPeakEndHour || cfg.Tariff.OffPeakResumeHour > 24 {
		return fmt.Errorf("tariff.off_peak_resume_hour must be in [off_peak_end_hour, 24]")
	}

	if cfg.Feed.Enabled && cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when the tariff feed is enabled")
	}

	if cfg.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if cfg.Store.GuardTimeout <= 0 {
		return fmt.Errorf("store.guard_timeout must be greater than 0")
	}
	if cfg.Store.WriteTimeout <= 0 {
		return fmt.Errorf("store.write_timeout must be greater than 0")
	}

	if cfg.Schedule.FetchHour < 0 || cfg.Schedule.FetchHour > 23 {
		return fmt.Errorf("schedule.fetch_hour must be in [0, 23]")
	}
	if cfg.Schedule.FetchMinute < 0 || cfg.Schedule.FetchMinute > 59 {
		return fmt.Errorf("schedule.fetch_minute must be in [0, 59]")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}

	return nil
}
