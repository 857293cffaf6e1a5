/*
Package config builds the process configuration from the environment.

PURPOSE:
  One explicit Config struct, constructed once at startup and passed into
  every collaborator (store, controller, dispatcher, proxy clients). No
  package reads the environment on its own; this keeps the collaborators
  swappable with test doubles.

SOURCES:
  Environment variables (a .env file is loaded by cmd/server via godotenv
  before FromEnv runs). A few values can be overridden by command-line
  flags in main.

VARIABLES:
  PORT                        HTTP port (default 8080)
  ORDERDESK_DB                SQLite database path (default orderdesk.db)
  ORDERBOOK_TIMEZONE          IANA zone for the daily cutoff (default Africa/Johannesburg)
  ORDERBOOK_DAILY_AM_HOUR     Cutoff hour, 0-23 (default 11)
  ORDERBOOK_DAILY_AM_MINUTE   Cutoff minute, 0-59 (default 59)
  CRON_SECRET                 Optional static bearer secret for the cron endpoint
  ORDERBOOK_POLLER_ENABLED    "true" starts the in-process poller
  ORDERBOOK_INCREMENTAL       "true" snapshots only rows changed since last send
  RESEND_API_KEY              Email provider API key
  ORDERBOOK_EMAIL_FROM        Sender address
  ORDERBOOK_EMAIL_TO          Comma-separated recipient list
  SUMSUB_BASE_URL             KYC provider base URL (default https://api.sumsub.com)
  SUMSUB_APP_TOKEN            KYC app token
  SUMSUB_APP_SECRET           KYC signing secret
  AUTH_BASE_URL               Identity provider base URL (user-token verification)
  AUTH_API_KEY                Identity provider API key

SEE ALSO:
  - cmd/server/main.go: loads .env and constructs the Config
  - orderbook/controller.go: consumes timezone/cutoff settings
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the service.
type Config struct {
	Port   int
	DBPath string

	// Daily report schedule
	Timezone     string
	TargetHour   int
	TargetMinute int

	// Optional static bearer secret for the externally reachable cron trigger.
	CronSecret string

	// In-process poller
	PollerEnabled bool

	// When true, the snapshot only includes holdings changed since the most
	// recent successful send. Default is a full live snapshot.
	Incremental bool

	// Email provider (Resend)
	ResendAPIKey string
	EmailFrom    string
	EmailTo      []string

	// KYC provider (Sumsub)
	SumsubBaseURL   string
	SumsubAppToken  string
	SumsubAppSecret string

	// Identity provider used to verify end-user bearer tokens.
	AuthBaseURL string
	AuthAPIKey  string
}

// FromEnv constructs a Config from environment variables, applying defaults
// for anything unset. It does not validate; call Validate separately so main
// can apply flag overrides in between.
func FromEnv() *Config {
	return &Config{
		Port:            envInt("PORT", 8080),
		DBPath:          envString("ORDERDESK_DB", "orderdesk.db"),
		Timezone:        envString("ORDERBOOK_TIMEZONE", "Africa/Johannesburg"),
		TargetHour:      envInt("ORDERBOOK_DAILY_AM_HOUR", 11),
		TargetMinute:    envInt("ORDERBOOK_DAILY_AM_MINUTE", 59),
		CronSecret:      os.Getenv("CRON_SECRET"),
		PollerEnabled:   envBool("ORDERBOOK_POLLER_ENABLED"),
		Incremental:     envBool("ORDERBOOK_INCREMENTAL"),
		ResendAPIKey:    os.Getenv("RESEND_API_KEY"),
		EmailFrom:       os.Getenv("ORDERBOOK_EMAIL_FROM"),
		EmailTo:         splitList(os.Getenv("ORDERBOOK_EMAIL_TO")),
		SumsubBaseURL:   envString("SUMSUB_BASE_URL", "https://api.sumsub.com"),
		SumsubAppToken:  os.Getenv("SUMSUB_APP_TOKEN"),
		SumsubAppSecret: os.Getenv("SUMSUB_APP_SECRET"),
		AuthBaseURL:     os.Getenv("AUTH_BASE_URL"),
		AuthAPIKey:      os.Getenv("AUTH_API_KEY"),
	}
}

// Validate checks that the schedule settings are usable. Provider credentials
// are intentionally not required here: endpoints that need them fail with a
// configuration error at request time, so the rest of the service can run
// without, say, email configured.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.TargetHour < 0 || c.TargetHour > 23 {
		return fmt.Errorf("config: target hour %d out of range", c.TargetHour)
	}
	if c.TargetMinute < 0 || c.TargetMinute > 59 {
		return fmt.Errorf("config: target minute %d out of range", c.TargetMinute)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "true" || v == "1" || v == "yes"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
