// Package config holds the versioned configuration of the prompt pipeline.
//
// Values come from defaults, then an optional YAML file, then TAVERN_*
// environment variables. Validate enforces the documented ranges.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

// CurrentVersion is the only config schema version understood.
const CurrentVersion = 1

type Config struct {
	Version   int             `yaml:"version"`
	Database  DatabaseConfig  `yaml:"database"`
	WorldInfo WorldInfoConfig `yaml:"world_info"`
	Context   ContextConfig   `yaml:"context"`
	Summary   SummaryConfig   `yaml:"summary"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Model     ModelConfig     `yaml:"model"`
	Stream    StreamConfig    `yaml:"stream"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Cache     CacheConfig     `yaml:"cache"`
}

type DatabaseConfig struct {
	// DSN is sqlite://<path> or postgres://...
	DSN string `yaml:"dsn"`
}

type WorldInfoConfig struct {
	EnableRecursive     bool    `yaml:"enable_recursive"`
	EnableVector        bool    `yaml:"enable_vector"`
	MaxRecursionDepth   int     `yaml:"max_recursion_depth"`
	VectorThreshold     float64 `yaml:"vector_threshold"`
	MaxActivatedEntries int     `yaml:"max_activated_entries"`
	MaxTotalTokens      int     `yaml:"max_total_tokens"`
	ScanDepth           int     `yaml:"scan_depth"`
}

type ContextConfig struct {
	MaxContextTokens int    `yaml:"max_context_tokens"`
	ReserveTokens    int    `yaml:"reserve_tokens"`
	SlidingWindow    int    `yaml:"sliding_window"`
	UserName         string `yaml:"user_name"`
}

type SummaryConfig struct {
	Enable   bool `yaml:"enable"`
	Interval int  `yaml:"interval"`
}

type EmbeddingConfig struct {
	Auto     bool   `yaml:"auto"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
}

type ModelConfig struct {
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	APIKey           string   `yaml:"api_key"`
	BaseURL          string   `yaml:"base_url"`
	Temperature      float64  `yaml:"temperature"`
	TopP             float64  `yaml:"top_p"`
	MaxTokens        int      `yaml:"max_tokens"`
	FrequencyPenalty float64  `yaml:"frequency_penalty"`
	PresencePenalty  float64  `yaml:"presence_penalty"`
	Stop             []string `yaml:"stop"`
}

type StreamConfig struct {
	FlushBytes    int           `yaml:"flush_bytes"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type TasksConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Version:  CurrentVersion,
		Database: DatabaseConfig{DSN: "sqlite://" + defaultDBPath()},
		WorldInfo: WorldInfoConfig{
			EnableRecursive:     true,
			EnableVector:        false,
			MaxRecursionDepth:   2,
			VectorThreshold:     0.7,
			MaxActivatedEntries: 10,
			MaxTotalTokens:      2048,
			ScanDepth:           4,
		},
		Context: ContextConfig{
			MaxContextTokens: 8192,
			ReserveTokens:    1024,
			SlidingWindow:    30,
			UserName:         "User",
		},
		Summary: SummaryConfig{Enable: true, Interval: 50},
		Model: ModelConfig{
			Provider:    "genai",
			Model:       "gemini-2.0-flash",
			Temperature: 0.8,
			TopP:        0.95,
			MaxTokens:   512,
		},
		Stream: StreamConfig{FlushBytes: 256, FlushInterval: 100 * time.Millisecond},
		Tasks:  TasksConfig{Concurrency: 4, Timeout: 2 * time.Minute},
		Cache:  CacheConfig{TTL: 5 * time.Minute, MaxEntries: 256},
	}
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tavern", "tavern.db")
}

// Load reads path over the defaults, applies the environment and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every option against its documented range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Version == CurrentVersion, "unsupported version: %d", c.Version)
	check(strings.HasPrefix(c.Database.DSN, "sqlite://") || strings.HasPrefix(c.Database.DSN, "postgres://") || strings.HasPrefix(c.Database.DSN, "postgresql://"),
		"database.dsn must start with sqlite:// or postgres://")

	wi := c.WorldInfo
	check(wi.MaxRecursionDepth >= 0 && wi.MaxRecursionDepth <= 10, "world_info.max_recursion_depth must be within [0, 10], got %d", wi.MaxRecursionDepth)
	check(wi.VectorThreshold >= 0 && wi.VectorThreshold <= 1, "world_info.vector_threshold must be within [0, 1], got %v", wi.VectorThreshold)
	check(wi.MaxActivatedEntries >= 0 && wi.MaxActivatedEntries <= 500, "world_info.max_activated_entries must be within [0, 500], got %d", wi.MaxActivatedEntries)
	check(wi.MaxTotalTokens >= 0, "world_info.max_total_tokens must not be negative")
	check(wi.ScanDepth >= 0 && wi.ScanDepth <= 100, "world_info.scan_depth must be within [0, 100], got %d", wi.ScanDepth)

	cx := c.Context
	check(cx.MaxContextTokens > 0, "context.max_context_tokens must be positive")
	check(cx.ReserveTokens >= 0 && cx.ReserveTokens <= cx.MaxContextTokens, "context.reserve_tokens must be within [0, max_context_tokens], got %d", cx.ReserveTokens)
	check(cx.SlidingWindow >= 1 && cx.SlidingWindow <= 1000, "context.sliding_window must be within [1, 1000], got %d", cx.SlidingWindow)

	check(c.Summary.Interval >= 1 && c.Summary.Interval <= 10000, "summary.interval must be within [1, 10000], got %d", c.Summary.Interval)

	switch c.Embedding.Provider {
	case "", "ollama", "openai", "genai":
	default:
		check(false, "embedding.provider %q is not one of ollama, openai, genai", c.Embedding.Provider)
	}
	switch c.Model.Provider {
	case "genai", "openai":
	default:
		check(false, "model.provider %q is not one of genai, openai", c.Model.Provider)
	}
	check(c.Model.Temperature >= 0 && c.Model.Temperature <= 2, "model.temperature must be within [0, 2]")
	check(c.Model.TopP >= 0 && c.Model.TopP <= 1, "model.top_p must be within [0, 1]")
	check(c.Model.MaxTokens >= 0, "model.max_tokens must not be negative")

	check(c.Stream.FlushBytes > 0, "stream.flush_bytes must be positive")
	check(c.Stream.FlushInterval > 0, "stream.flush_interval must be positive")
	check(c.Tasks.Concurrency >= 1, "tasks.concurrency must be at least 1")
	check(c.Tasks.Timeout > 0, "tasks.timeout must be positive")
	check(c.Cache.TTL >= 0, "cache.ttl must not be negative")
	check(c.Cache.MaxEntries >= 0, "cache.max_entries must not be negative")

	return errors.Join(errs...)
}

// Budget derives the per-call context budget.
func (c *Config) Budget() model.ContextBudget {
	return model.ContextBudget{
		MaxContextTokens:    c.Context.MaxContextTokens,
		ReserveTokens:       c.Context.ReserveTokens,
		MaxActivatedEntries: c.WorldInfo.MaxActivatedEntries,
		MaxTotalTokens:      c.WorldInfo.MaxTotalTokens,
		MaxRecursionDepth:   c.WorldInfo.MaxRecursionDepth,
		VectorThreshold:     c.WorldInfo.VectorThreshold,
	}
}

// ActivationOptions derives the optional-phase toggles.
func (c *Config) ActivationOptions() worldinfo.Options {
	return worldinfo.Options{
		EnableRecursive: c.WorldInfo.EnableRecursive,
		EnableVector:    c.WorldInfo.EnableVector,
		ScanDepth:       c.WorldInfo.ScanDepth,
	}
}
