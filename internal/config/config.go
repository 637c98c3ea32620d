package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Reference documentation
	ReferenceDirs []string `yaml:"reference_dirs"`
	RefstoreURL   string   `yaml:"refstore_url"`
	RefstoreKey   string   `yaml:"refstore_api_key"`
	RefPrefix     string   `yaml:"ref_prefix"`

	// Resolution
	Passes          int    `yaml:"passes"`
	FirstWins       bool   `yaml:"first_wins"`
	ReferencesFirst bool   `yaml:"references_first"`
	Indent          string `yaml:"indent"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`
	Concurrency  int `yaml:"concurrency"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// Watch mode
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:           "8090",
		Passes:         1,
		Indent:         "  ",
		WorkerCount:    4,
		MaxQueueSize:   100,
		Concurrency:    8,
		MaxUploadBytes: 52428800, // 50MB
		JobTTL:         1 * time.Hour,
		WatchDebounce:  300 * time.Millisecond,
	}
}

// Load reads the optional YAML file named by DOCINHERIT_CONFIG, then applies
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv("DOCINHERIT_CONFIG"))
}

// LoadFile reads path (if non-empty) over the defaults, then applies
// environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("DOCINHERIT_API_KEY", cfg.APIKey)
	if v := os.Getenv("DOCINHERIT_REFERENCE_DIRS"); v != "" {
		cfg.ReferenceDirs = splitList(v)
	}
	cfg.RefstoreURL = envOr("REFSTORE_URL", cfg.RefstoreURL)
	cfg.RefstoreKey = envOr("REFSTORE_API_KEY", cfg.RefstoreKey)
	cfg.RefPrefix = envOr("REFSTORE_PREFIX", cfg.RefPrefix)

	cfg.Passes = envInt("DOCINHERIT_PASSES", cfg.Passes)
	cfg.FirstWins = envBool("DOCINHERIT_FIRST_WINS", cfg.FirstWins)
	cfg.ReferencesFirst = envBool("DOCINHERIT_REFERENCES_FIRST", cfg.ReferencesFirst)
	cfg.Indent = envOr("DOCINHERIT_INDENT", cfg.Indent)
	if indent, err := ParseIndent(cfg.Indent); err == nil {
		cfg.Indent = indent
	}

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.Concurrency = envInt("DOCINHERIT_CONCURRENCY", cfg.Concurrency)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.WatchDebounce = envDuration("DOCINHERIT_WATCH_DEBOUNCE", cfg.WatchDebounce)

	def := Defaults()
	if cfg.Passes <= 0 {
		cfg.Passes = def.Passes
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = def.WatchDebounce
	}

	return cfg, nil
}

// Validate checks settings required to run the HTTP service.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCINHERIT_API_KEY is required")
	}
	if c.RefPrefix != "" && c.RefstoreURL == "" {
		return fmt.Errorf("REFSTORE_URL is required when REFSTORE_PREFIX is set")
	}
	return nil
}

// ParseIndent accepts "none", "tab", or a number of spaces. Anything else is
// an error; callers may treat the value as a literal indent instead.
func ParseIndent(v string) (string, error) {
	switch strings.ToLower(v) {
	case "none", "0":
		return "", nil
	case "tab":
		return "\t", nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 16 {
		return "", fmt.Errorf("indent must be none, tab or 0-16 spaces, got %q", v)
	}
	return strings.Repeat(" ", n), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range filepath.SplitList(v) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
