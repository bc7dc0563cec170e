package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds scraper-wide settings loaded from the environment, overridable
// by CLI flags (flags always win; see cmd/mrfscrape/main.go).
type Config struct {
	// Paths
	ProjectRoot string
	DimDir      string // dim/urls/*.json + dim/CONCEPT.csv.gz
	DataDir     string // data/<STATE>/<CCN>.jsonl
	StatusDir   string // status/<STATE>.csv, status/summary.csv, status/badge.json

	// HTTP settings
	HTTPTimeout time.Duration
	MaxRetries  int

	// Orchestrator defaults (overridable by flags)
	Parallel    int
	TaskTimeout time.Duration
	MaxAgeDays  int

	// Logging
	LogLevel string
	JSONLogs bool

	// Metrics: address for the debug /metrics listener; empty disables it.
	MetricsAddr string

	// SkipLedgerPath is an optional sqlite file used to pre-check the
	// incremental-skip decision faster than stat-ing every output file.
	// Empty disables the ledger; the mtime check in the worker
	// remains authoritative either way.
	SkipLedgerPath string
}

// Load reads configuration from the environment. CLI flags layered on top
// by the caller always win over these defaults.
func Load() *Config {
	root := getEnv("MRFSCRAPE_PROJECT_ROOT", ".")
	c := &Config{
		ProjectRoot:    root,
		DimDir:         getEnv("MRFSCRAPE_DIM_DIR", filepath.Join(root, "dim")),
		DataDir:        getEnv("MRFSCRAPE_DATA_DIR", filepath.Join(root, "data")),
		StatusDir:      getEnv("MRFSCRAPE_STATUS_DIR", filepath.Join(root, "status")),
		HTTPTimeout:    getEnvDuration("MRFSCRAPE_HTTP_TIMEOUT", 60*time.Second),
		MaxRetries:     getEnvInt("MRFSCRAPE_MAX_RETRIES", 3),
		Parallel:       getEnvInt("MRFSCRAPE_PARALLEL", 4),
		TaskTimeout:    getEnvDuration("MRFSCRAPE_TASK_TIMEOUT", 1200*time.Second),
		MaxAgeDays:     getEnvInt("MRFSCRAPE_MAX_AGE_DAYS", 0),
		LogLevel:       getEnv("MRFSCRAPE_LOG_LEVEL", "INFO"),
		JSONLogs:       getEnvBool("MRFSCRAPE_JSON_LOGS", false),
		MetricsAddr:    os.Getenv("MRFSCRAPE_METRICS_ADDR"),
		SkipLedgerPath: os.Getenv("MRFSCRAPE_SKIP_LEDGER"),
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Parallel <= 0 {
		c.Parallel = 4
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 1200 * time.Second
	}
	return c
}

// UrlsDir is where per-state catalog JSON lives: dim/urls/<state>.json.
func (c *Config) UrlsDir() string {
	return filepath.Join(c.DimDir, "urls")
}

// ConceptPath is the OHDSI Athena CONCEPT.csv.gz vocabulary file.
func (c *Config) ConceptPath() string {
	return filepath.Join(c.DimDir, "CONCEPT.csv.gz")
}

// OutputPath returns data/<STATE>/<CCN>.jsonl for a hospital.
func (c *Config) OutputPath(state, ccn string) string {
	return filepath.Join(c.DataDir, strings.ToUpper(state), strings.ToUpper(ccn)+".jsonl")
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
