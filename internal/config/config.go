// Package config loads and validates engine configuration from
// environment variables. CLI flags may override individual values after
// loading (see cmd/describer).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects which producers run.
type Mode string

const (
	ModeBatch    Mode = "batch"
	ModeMonitor  Mode = "monitor"
	ModeCombined Mode = "combined"
)

// DefaultPrompt is sent to the model when no prompt is configured.
const DefaultPrompt = "Create a detailed description for the image for proper image search functionality. " +
	"In the response, provide only the description without introductory words. " +
	"Also specify the image format (Wallpaper, Screenshot, Drawing, City photo, Selfie, etc.). " +
	"The format must be correct. If in doubt, name the most likely option and don't think too long."

// Config holds all configuration for the describer engine.
type Config struct {
	Mode     Mode
	Library  LibraryConfig
	Database DatabaseConfig
	Ollama   OllamaConfig
	Dispatch DispatchConfig
	Monitor  MonitorConfig
	Lang     string
}

// LibraryConfig locates the Immich library on disk.
type LibraryConfig struct {
	Root           string
	IgnoreExisting bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
}

// OllamaConfig describes the inference hosts.
type OllamaConfig struct {
	Hosts               []string
	JWTToken            string
	Model               string
	Prompt              string
	Timeout             time.Duration
	UnavailableDuration time.Duration
}

// DispatchConfig bounds the worker pool.
type DispatchConfig struct {
	MaxConcurrent    int
	RetryDelay       time.Duration
	QueueWaitTimeout time.Duration
}

// MonitorConfig tunes the folder watcher.
type MonitorConfig struct {
	FileWriteTimeout  time.Duration
	FileCheckInterval time.Duration
	EventCooldown     time.Duration
}

var validLangs = map[string]bool{"en": true, "ru": true}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	cfg := FromEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment without validating, so callers can
// layer flag overrides on top before calling Normalize and Validate.
func FromEnv() *Config {
	return &Config{
		Mode: ModeBatch,
		Library: LibraryConfig{
			Root:           envString("IMMICH_ROOT", "/var/lib/immich"),
			IgnoreExisting: envBool("IGNORE_EXISTING", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("POSTGRES_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MinIdleConns:    envInt("DATABASE_MIN_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Ollama: OllamaConfig{
			Hosts:               splitHosts(envString("OLLAMA_HOSTS", "http://localhost:11434")),
			JWTToken:            os.Getenv("OLLAMA_JWT_TOKEN"),
			Model:               envString("MODEL_NAME", "qwen3-vl:4b-thinking-q4_K_M"),
			Prompt:              envString("PROMPT", DefaultPrompt),
			Timeout:             envDurationSecs("TIMEOUT", 3600*time.Second),
			UnavailableDuration: envDurationSecs("UNAVAILABLE_DURATION", 3600*time.Second),
		},
		Dispatch: DispatchConfig{
			MaxConcurrent:    envInt("MAX_CONCURRENT", 4),
			RetryDelay:       envDurationSecs("RETRY_DELAY", 5*time.Second),
			QueueWaitTimeout: envDurationSecs("QUEUE_WAIT_TIMEOUT", 0),
		},
		Monitor: MonitorConfig{
			FileWriteTimeout:  envDurationSecs("FILE_WRITE_TIMEOUT", 30*time.Second),
			FileCheckInterval: envDurationMillis("FILE_CHECK_INTERVAL", 500*time.Millisecond),
			EventCooldown:     envDurationSecs("EVENT_COOLDOWN", 2*time.Second),
		},
		Lang: envString("LANG_OVERRIDE", detectLang()),
	}
}

// Normalize fills derived defaults. It runs after Load and again after
// flag overrides, before Validate.
func (c *Config) Normalize() {
	if c.Dispatch.QueueWaitTimeout == 0 {
		c.Dispatch.QueueWaitTimeout = c.Ollama.UnavailableDuration
	}
	if c.Dispatch.RetryDelay > c.Ollama.UnavailableDuration {
		c.Dispatch.RetryDelay = c.Ollama.UnavailableDuration
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("POSTGRES_URL is required")
	}

	if c.Library.Root == "" {
		return fmt.Errorf("IMMICH_ROOT is required")
	}

	if len(c.Ollama.Hosts) == 0 {
		return fmt.Errorf("OLLAMA_HOSTS must list at least one host")
	}
	for _, h := range c.Ollama.Hosts {
		if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
			return fmt.Errorf("ollama host must start with http:// or https://, got %q", h)
		}
	}

	if c.Ollama.Model == "" {
		return fmt.Errorf("MODEL_NAME is required")
	}

	if c.Dispatch.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT must be a positive integer, got %d", c.Dispatch.MaxConcurrent)
	}

	switch c.Mode {
	case ModeBatch, ModeMonitor, ModeCombined:
	default:
		return fmt.Errorf("mode must be one of batch, monitor, combined; got %q", c.Mode)
	}

	if !validLangs[c.Lang] {
		return fmt.Errorf("lang must be one of en, ru; got %q", c.Lang)
	}

	return nil
}

// splitHosts parses a comma-separated host list, trimming whitespace and
// trailing slashes and dropping empty entries.
func splitHosts(s string) []string {
	var hosts []string
	for _, part := range strings.Split(s, ",") {
		h := strings.TrimRight(strings.TrimSpace(part), "/")
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// SplitHosts parses a comma-separated host list as given on the command
// line.
func SplitHosts(s string) []string { return splitHosts(s) }

// detectLang derives the interface language from the usual locale
// variables, defaulting to English.
func detectLang() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		lang := strings.ToLower(strings.SplitN(strings.SplitN(v, ".", 2)[0], "_", 2)[0])
		if validLangs[lang] {
			return lang
		}
	}
	return "en"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envDurationMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
