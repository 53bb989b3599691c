// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvOllamaURL, EnvModel, EnvFallbackModels, EnvTimeoutSecs, EnvLogLevel, EnvServerToken} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(`
[endpoint]
default_model = "llama3:8b"
fallback_models = ["mistral:7b", "phi3"]

[review]
max_attempts = 5
stream = true
`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Endpoint.DefaultModel != "llama3:8b" {
		t.Errorf("DefaultModel = %q", cfg.Endpoint.DefaultModel)
	}
	if len(cfg.Endpoint.FallbackModels) != 2 || cfg.Endpoint.FallbackModels[1] != "phi3" {
		t.Errorf("FallbackModels = %v", cfg.Endpoint.FallbackModels)
	}
	if cfg.Review.MaxAttempts != 5 || !cfg.Review.Stream {
		t.Errorf("Review = %+v", cfg.Review)
	}
	// untouched sections keep defaults
	if cfg.Endpoint.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL = %q", cfg.Endpoint.BaseURL)
	}
	if cfg.Heartbeat.IntervalSecs != 10 {
		t.Errorf("IntervalSecs = %d", cfg.Heartbeat.IntervalSecs)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.BaseURL = "not a url"
	cfg.Review.MaxAttempts = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() = %v, want ValidateErrors", err)
	}
	if len(verrs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(verrs), verrs)
	}
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, f := range []string{"endpoint.base_url", "review.max_attempts", "logging.format"} {
		if !fields[f] {
			t.Errorf("missing error for %s", f)
		}
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("Error() = %q, want joined messages", err.Error())
	}
}

func TestParse_InvalidRejected(t *testing.T) {
	clearEnv(t)
	if _, err := Parse("[generation]\ntemperature = 5.0\n"); err == nil {
		t.Fatal("expected error for temperature 5.0")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvOllamaURL, "http://gpu-box:11434")
	t.Setenv(EnvModel, "llama3:70b")
	t.Setenv(EnvFallbackModels, "a, b,,c")
	t.Setenv(EnvTimeoutSecs, "60")
	t.Setenv(EnvLogLevel, "debug")

	cfg := Default()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		t.Fatalf("ApplyEnvOverrides() error = %v", err)
	}
	if cfg.Endpoint.BaseURL != "http://gpu-box:11434" || cfg.Endpoint.DefaultModel != "llama3:70b" {
		t.Errorf("Endpoint = %+v", cfg.Endpoint)
	}
	if got := strings.Join(cfg.Endpoint.FallbackModels, ","); got != "a,b,c" {
		t.Errorf("FallbackModels = %q", got)
	}
	if cfg.Endpoint.TimeoutSecs != 60 || cfg.Logging.Level != "debug" {
		t.Errorf("timeout=%d level=%q", cfg.Endpoint.TimeoutSecs, cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_BadTimeout(t *testing.T) {
	t.Setenv(EnvTimeoutSecs, "soon")
	if err := Default().ApplyEnvOverrides(); err == nil {
		t.Fatal("expected error for non-integer timeout")
	}
}

func TestSaveAndLoadFromPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Endpoint.FallbackModels = []string{"mistral:7b"}
	cfg.History.Path = "/tmp/h.db"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Endpoint.FallbackModels[0] != "mistral:7b" || loaded.History.Path != "/tmp/h.db" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[endpoint]\nbase_ulr = \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "endpoint.base_ulr") {
		t.Fatalf("LoadFromPath() error = %v, want unknown key", err)
	}
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("endpoint.base_url")
	if err != nil || v != "http://127.0.0.1:11434" {
		t.Fatalf("Get(base_url) = %v, %v", v, err)
	}

	if err := cfg.Set("review.max_attempts", "4"); err != nil {
		t.Fatalf("Set(max_attempts) error = %v", err)
	}
	if cfg.Review.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d", cfg.Review.MaxAttempts)
	}
	if err := cfg.Set("review.stream", "yes"); err != nil || !cfg.Review.Stream {
		t.Errorf("Set(stream) = %v, stream=%v", err, cfg.Review.Stream)
	}
	if err := cfg.Set("generation.temperature", "0.7"); err != nil || cfg.Generation.Temperature != 0.7 {
		t.Errorf("Set(temperature) = %v, temp=%v", err, cfg.Generation.Temperature)
	}
	if err := cfg.Set("endpoint.fallback_models", "x,y"); err != nil || len(cfg.Endpoint.FallbackModels) != 2 {
		t.Errorf("Set(fallback_models) = %v, %v", err, cfg.Endpoint.FallbackModels)
	}

	if _, err := cfg.Get("endpoint.nope"); err == nil {
		t.Error("Get(unknown) should fail")
	}
	if _, err := cfg.Get("review.max_attempts.deeper"); err == nil {
		t.Error("Get(non-struct path) should fail")
	}
	if err := cfg.Set("review.max_attempts", "many"); err == nil {
		t.Error("Set(bad int) should fail")
	}
}

func TestKeysResolve(t *testing.T) {
	cfg := Default()
	keys := Keys()
	if len(keys) == 0 {
		t.Fatal("Keys() empty")
	}
	for _, k := range keys {
		if _, err := cfg.Get(k); err != nil {
			t.Errorf("Get(%q) error = %v", k, err)
		}
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.FallbackModels = []string{"phi3"}
	cfg.Endpoint.MinRequestIntervalMs = 250

	lc := cfg.LLMConfig()
	if lc.DefaultModel != cfg.Endpoint.DefaultModel || lc.FallbackModels[0] != "phi3" {
		t.Errorf("LLMConfig models = %q %v", lc.DefaultModel, lc.FallbackModels)
	}
	if lc.Timeout != 300*time.Second || lc.MinRequestInterval != 250*time.Millisecond {
		t.Errorf("LLMConfig timing = %v %v", lc.Timeout, lc.MinRequestInterval)
	}
	if lc.Options.Temperature != 0.3 {
		t.Errorf("Options.Temperature = %v", lc.Options.Temperature)
	}

	// the slice is copied
	lc.FallbackModels[0] = "changed"
	if cfg.Endpoint.FallbackModels[0] != "phi3" {
		t.Error("LLMConfig aliases FallbackModels")
	}

	hb := cfg.HeartbeatConfig()
	if hb.Interval != 10*time.Second || hb.StallThreshold != 30*time.Second || hb.Timeout != 300*time.Second {
		t.Errorf("HeartbeatConfig = %+v", hb)
	}

	oc := cfg.OllamaConfig()
	if oc.BaseURL != cfg.Endpoint.BaseURL || oc.Timeout != 300*time.Second {
		t.Errorf("OllamaConfig = %+v", oc)
	}
}

func TestHistoryPath(t *testing.T) {
	cfg := Default()
	cfg.History.Path = "/data/h.db"
	if p, _ := cfg.HistoryPath(); p != "/data/h.db" {
		t.Errorf("HistoryPath = %q", p)
	}
	cfg.History.Path = ""
	p, err := cfg.HistoryPath()
	if err == nil && !strings.HasSuffix(p, filepath.Join(".reviewgen", "history.db")) {
		t.Errorf("HistoryPath default = %q", p)
	}
}

func TestReadFile_IgnoresEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[endpoint]\ndefault_model = \"phi3\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvModel, "from-env")

	cfg, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if cfg.Endpoint.DefaultModel != "phi3" {
		t.Errorf("DefaultModel = %q, want file value", cfg.Endpoint.DefaultModel)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Endpoint.DefaultModel != "from-env" {
		t.Errorf("LoadFromPath DefaultModel = %q, want env value", loaded.Endpoint.DefaultModel)
	}
}
