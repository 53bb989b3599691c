// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/heartbeat"
	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/ollama"
	"github.com/jeranaias/reviewgen/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete reviewgen configuration.
type Config struct {
	Endpoint   EndpointConfig   `toml:"endpoint" json:"endpoint"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Context    ContextConfig    `toml:"context" json:"context"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat" json:"heartbeat"`
	Review     ReviewConfig     `toml:"review" json:"review"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
	History    HistoryConfig    `toml:"history" json:"history"`
	Server     ServerConfig     `toml:"server" json:"server"`
}

// EndpointConfig describes the Ollama server and model list.
type EndpointConfig struct {
	BaseURL        string   `toml:"base_url" json:"base_url"`
	TimeoutSecs    int      `toml:"timeout_secs" json:"timeout_secs"`
	DefaultModel   string   `toml:"default_model" json:"default_model"`
	FallbackModels []string `toml:"fallback_models" json:"fallback_models"`
	// MinRequestIntervalMs paces requests (0 = unlimited)
	MinRequestIntervalMs int `toml:"min_request_interval_ms" json:"min_request_interval_ms"`
}

// GenerationConfig holds sampling defaults sent with each request.
type GenerationConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	NumPredict  int     `toml:"num_predict" json:"num_predict"`
	NumCtx      int     `toml:"num_ctx" json:"num_ctx"`
}

// ContextConfig sizes the conversation buffer.
type ContextConfig struct {
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
}

// HeartbeatConfig holds stream monitor thresholds.
type HeartbeatConfig struct {
	IntervalSecs        int     `toml:"interval_secs" json:"interval_secs"`
	StallThresholdSecs  int     `toml:"stall_threshold_secs" json:"stall_threshold_secs"`
	EarlyWarningSecs    int     `toml:"early_warning_secs" json:"early_warning_secs"`
	TimeoutWarnFraction float64 `toml:"timeout_warn_fraction" json:"timeout_warn_fraction"`
}

// ReviewConfig controls the orchestrator.
type ReviewConfig struct {
	MaxAttempts int  `toml:"max_attempts" json:"max_attempts"`
	Stream      bool `toml:"stream" json:"stream"`
	// ProfilePath is a YAML validation profile; empty uses the built-in one
	ProfilePath string `toml:"profile_path" json:"profile_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is a logrus level name: "debug", "info", "warn", "error"
	Level string `toml:"level" json:"level"`
	// Format is "text" or "json"
	Format string `toml:"format" json:"format"`
}

// HistoryConfig controls the attempt-history database.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"` // empty = ~/.reviewgen/history.db
}

// ServerConfig controls the HTTP review API started by "reviewgen serve".
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// AuthToken enables bearer authentication when set
	AuthToken          string `toml:"auth_token" json:"-"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	MaxBodyBytes       int    `toml:"max_body_bytes" json:"max_body_bytes"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			// Explicit IPv4 avoids IPv6 localhost resolution issues on Windows
			BaseURL:      "http://127.0.0.1:11434",
			TimeoutSecs:  300,
			DefaultModel: llm.DefaultModel,
		},
		Generation: GenerationConfig{
			Temperature: 0.3,
			TopP:        0.9,
			NumPredict:  2048,
			NumCtx:      8192,
		},
		Context: ContextConfig{
			MaxTokens: conversation.DefaultMaxTokens,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSecs:        10,
			StallThresholdSecs:  30,
			EarlyWarningSecs:    60,
			TimeoutWarnFraction: heartbeat.DefaultTimeoutWarnFraction,
		},
		Review: ReviewConfig{
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8787",
			RateLimitPerMinute: 60,
			MaxBodyBytes:       1 << 20,
		},
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Endpoint.BaseURL == "" {
		c.Endpoint.BaseURL = d.Endpoint.BaseURL
	}
	if c.Endpoint.TimeoutSecs == 0 {
		c.Endpoint.TimeoutSecs = d.Endpoint.TimeoutSecs
	}
	if c.Endpoint.DefaultModel == "" {
		c.Endpoint.DefaultModel = d.Endpoint.DefaultModel
	}
	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = d.Context.MaxTokens
	}
	if c.Heartbeat.IntervalSecs == 0 {
		c.Heartbeat.IntervalSecs = d.Heartbeat.IntervalSecs
	}
	if c.Heartbeat.StallThresholdSecs == 0 {
		c.Heartbeat.StallThresholdSecs = d.Heartbeat.StallThresholdSecs
	}
	if c.Heartbeat.EarlyWarningSecs == 0 {
		c.Heartbeat.EarlyWarningSecs = d.Heartbeat.EarlyWarningSecs
	}
	if c.Heartbeat.TimeoutWarnFraction == 0 {
		c.Heartbeat.TimeoutWarnFraction = d.Heartbeat.TimeoutWarnFraction
	}
	if c.Review.MaxAttempts == 0 {
		c.Review.MaxAttempts = d.Review.MaxAttempts
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.reviewgen.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".reviewgen"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// HistoryPath returns the configured history database path.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.reviewgen/config.toml if present, otherwise uses defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads a TOML file with full validation. Keys absent from
// the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// ReadFile loads a TOML file without environment overrides, for editing
// the file in place.
func ReadFile(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Parse decodes TOML from data with full validation.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as TOML to path.
func Save(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# reviewgen configuration file\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Environment variable names.
const (
	EnvOllamaURL      = "REVIEWGEN_OLLAMA_URL"
	EnvModel          = "REVIEWGEN_MODEL"
	EnvFallbackModels = "REVIEWGEN_FALLBACK_MODELS"
	EnvTimeoutSecs    = "REVIEWGEN_TIMEOUT_SECS"
	EnvLogLevel       = "REVIEWGEN_LOG_LEVEL"
	EnvServerToken    = "REVIEWGEN_SERVER_TOKEN"
)

// ApplyEnvOverrides applies REVIEWGEN_* variables.
func (c *Config) ApplyEnvOverrides() error {
	if u := os.Getenv(EnvOllamaURL); u != "" {
		c.Endpoint.BaseURL = u
	}
	if model := os.Getenv(EnvModel); model != "" {
		c.Endpoint.DefaultModel = model
	}
	if list := os.Getenv(EnvFallbackModels); list != "" {
		c.Endpoint.FallbackModels = splitList(list)
	}
	if secs := os.Getenv(EnvTimeoutSecs); secs != "" {
		n, err := strconv.Atoi(secs)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvTimeoutSecs, secs)
		}
		c.Endpoint.TimeoutSecs = n
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
	if token := os.Getenv(EnvServerToken); token != "" {
		c.Server.AuthToken = token
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Endpoint.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("endpoint.base_url", "must be an http(s) URL, got %q", c.Endpoint.BaseURL)
	}
	if c.Endpoint.TimeoutSecs < 1 || c.Endpoint.TimeoutSecs > 3600 {
		add("endpoint.timeout_secs", "must be between 1 and 3600, got %d", c.Endpoint.TimeoutSecs)
	}
	if strings.TrimSpace(c.Endpoint.DefaultModel) == "" {
		add("endpoint.default_model", "must not be empty")
	}
	for i, m := range c.Endpoint.FallbackModels {
		if strings.TrimSpace(m) == "" {
			add(fmt.Sprintf("endpoint.fallback_models[%d]", i), "must not be empty")
		}
	}
	if c.Endpoint.MinRequestIntervalMs < 0 {
		add("endpoint.min_request_interval_ms", "must be >= 0")
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature", "must be between 0 and 2, got %v", c.Generation.Temperature)
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		add("generation.top_p", "must be between 0 and 1, got %v", c.Generation.TopP)
	}
	if c.Generation.NumPredict < -1 {
		add("generation.num_predict", "must be -1 (unlimited) or >= 0")
	}
	if c.Generation.NumCtx < 0 {
		add("generation.num_ctx", "must be >= 0")
	}

	if c.Context.MaxTokens < 1 {
		add("context.max_tokens", "must be positive")
	}

	if c.Heartbeat.IntervalSecs < 1 {
		add("heartbeat.interval_secs", "must be positive")
	}
	if c.Heartbeat.StallThresholdSecs < 0 {
		add("heartbeat.stall_threshold_secs", "must be >= 0")
	}
	if c.Heartbeat.EarlyWarningSecs < 0 {
		add("heartbeat.early_warning_secs", "must be >= 0")
	}
	if c.Heartbeat.TimeoutWarnFraction <= 0 || c.Heartbeat.TimeoutWarnFraction > 1 {
		add("heartbeat.timeout_warn_fraction", "must be in (0, 1], got %v", c.Heartbeat.TimeoutWarnFraction)
	}

	if c.Review.MaxAttempts < 1 || c.Review.MaxAttempts > 10 {
		add("review.max_attempts", "must be between 1 and 10, got %d", c.Review.MaxAttempts)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "must be >= 0")
	}
	if c.Server.MaxBodyBytes < 1024 {
		add("server.max_body_bytes", "must be at least 1024, got %d", c.Server.MaxBodyBytes)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Timeout returns the per-call timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutSecs) * time.Second
}

// OllamaConfig builds the wire client configuration.
func (c *Config) OllamaConfig() *ollama.ClientConfig {
	return &ollama.ClientConfig{
		BaseURL: c.Endpoint.BaseURL,
		Timeout: c.Timeout(),
	}
}

// LLMConfig builds the completion client configuration.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		DefaultModel:   c.Endpoint.DefaultModel,
		FallbackModels: append([]string(nil), c.Endpoint.FallbackModels...),
		Timeout:        c.Timeout(),
		Options: ollama.Options{
			Temperature: c.Generation.Temperature,
			TopP:        c.Generation.TopP,
			NumPredict:  c.Generation.NumPredict,
			NumCtx:      c.Generation.NumCtx,
		},
		MaxContextTokens:   c.Context.MaxTokens,
		Heartbeat:          c.HeartbeatConfig(),
		MinRequestInterval: time.Duration(c.Endpoint.MinRequestIntervalMs) * time.Millisecond,
	}
}

// HeartbeatConfig builds the stream monitor configuration.
func (c *Config) HeartbeatConfig() heartbeat.Config {
	return heartbeat.Config{
		Interval:            time.Duration(c.Heartbeat.IntervalSecs) * time.Second,
		StallThreshold:      time.Duration(c.Heartbeat.StallThresholdSecs) * time.Second,
		EarlyWarning:        time.Duration(c.Heartbeat.EarlyWarningSecs) * time.Second,
		Timeout:             c.Timeout(),
		TimeoutWarnFraction: c.Heartbeat.TimeoutWarnFraction,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "endpoint.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type; lists are comma separated.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(splitList(strVal)))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every configuration key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, section.Tag.Get("toml")+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// String returns the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
