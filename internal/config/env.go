package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key string
	set func(c *Config, raw string) error
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*dst(c) = raw
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"TAVERN_DB", stringVar(func(c *Config) *string { return &c.Database.DSN })},
	{"TAVERN_ENABLE_RECURSIVE", boolVar(func(c *Config) *bool { return &c.WorldInfo.EnableRecursive })},
	{"TAVERN_ENABLE_VECTOR", boolVar(func(c *Config) *bool { return &c.WorldInfo.EnableVector })},
	{"TAVERN_MAX_RECURSION_DEPTH", intVar(func(c *Config) *int { return &c.WorldInfo.MaxRecursionDepth })},
	{"TAVERN_VECTOR_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.WorldInfo.VectorThreshold })},
	{"TAVERN_MAX_ACTIVATED_ENTRIES", intVar(func(c *Config) *int { return &c.WorldInfo.MaxActivatedEntries })},
	{"TAVERN_MAX_TOTAL_TOKENS", intVar(func(c *Config) *int { return &c.WorldInfo.MaxTotalTokens })},
	{"TAVERN_SCAN_DEPTH", intVar(func(c *Config) *int { return &c.WorldInfo.ScanDepth })},
	{"TAVERN_MAX_CONTEXT_TOKENS", intVar(func(c *Config) *int { return &c.Context.MaxContextTokens })},
	{"TAVERN_RESERVE_TOKENS", intVar(func(c *Config) *int { return &c.Context.ReserveTokens })},
	{"TAVERN_SLIDING_WINDOW", intVar(func(c *Config) *int { return &c.Context.SlidingWindow })},
	{"TAVERN_USER_NAME", stringVar(func(c *Config) *string { return &c.Context.UserName })},
	{"TAVERN_ENABLE_SUMMARY", boolVar(func(c *Config) *bool { return &c.Summary.Enable })},
	{"TAVERN_SUMMARY_INTERVAL", intVar(func(c *Config) *int { return &c.Summary.Interval })},
	{"TAVERN_AUTO_EMBEDDING", boolVar(func(c *Config) *bool { return &c.Embedding.Auto })},
	{"TAVERN_EMBED_PROVIDER", stringVar(func(c *Config) *string { return &c.Embedding.Provider })},
	{"TAVERN_EMBED_MODEL", stringVar(func(c *Config) *string { return &c.Embedding.Model })},
	{"TAVERN_EMBED_URL", stringVar(func(c *Config) *string { return &c.Embedding.URL })},
	{"TAVERN_EMBED_API_KEY", stringVar(func(c *Config) *string { return &c.Embedding.APIKey })},
	{"TAVERN_MODEL_PROVIDER", stringVar(func(c *Config) *string { return &c.Model.Provider })},
	{"TAVERN_MODEL", stringVar(func(c *Config) *string { return &c.Model.Model })},
	{"TAVERN_MODEL_API_KEY", stringVar(func(c *Config) *string { return &c.Model.APIKey })},
	{"TAVERN_MODEL_BASE_URL", stringVar(func(c *Config) *string { return &c.Model.BaseURL })},
	{"TAVERN_TEMPERATURE", floatVar(func(c *Config) *float64 { return &c.Model.Temperature })},
	{"TAVERN_MAX_TOKENS", intVar(func(c *Config) *int { return &c.Model.MaxTokens })},
	{"TAVERN_STREAM_FLUSH_BYTES", intVar(func(c *Config) *int { return &c.Stream.FlushBytes })},
	{"TAVERN_STREAM_FLUSH_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Stream.FlushInterval })},
	{"TAVERN_TASK_CONCURRENCY", intVar(func(c *Config) *int { return &c.Tasks.Concurrency })},
	{"TAVERN_TASK_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Tasks.Timeout })},
	{"TAVERN_CACHE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Cache.TTL })},
}

// ApplyEnv overlays every TAVERN_* variable that lookup reports as set.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		raw, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}
	return nil
}
