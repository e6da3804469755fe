package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if cfg.Audio.SampleRate != 24000 {
		t.Errorf("sample_rate = %d, want 24000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs != 100 {
		t.Errorf("frame_ms = %d, want 100", cfg.Audio.FrameMs)
	}
	if cfg.Scheduler.Policy != "semantic" {
		t.Errorf("policy = %q, want semantic", cfg.Scheduler.Policy)
	}
	if cfg.Session.FinalizeTimeoutS != 10 {
		t.Errorf("finalize_timeout_s = %d, want 10", cfg.Session.FinalizeTimeoutS)
	}
	if cfg.Transport.KeepaliveSecs != 4 {
		t.Errorf("keepalive_secs = %d, want 4", cfg.Transport.KeepaliveSecs)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxlate.toml")
	content := `
[session]
target_language = "ja"
mode = "continuous"

[scheduler]
policy = "amplitude"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Session.TargetLanguage != "ja" {
		t.Errorf("target_language = %q", cfg.Session.TargetLanguage)
	}
	if cfg.Session.Mode != "continuous" {
		t.Errorf("mode = %q", cfg.Session.Mode)
	}
	if cfg.Scheduler.Policy != "amplitude" {
		t.Errorf("policy = %q", cfg.Scheduler.Policy)
	}
	// Unset sections still get defaults.
	if cfg.Realtime.Model != "gpt-4o-realtime-preview" {
		t.Errorf("model = %q, want default", cfg.Realtime.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config must validate: %v", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stereo audio", func(c *Config) { c.Audio.Channels = 2 }},
		{"unknown policy", func(c *Config) { c.Scheduler.Policy = "hybrid" }},
		{"threshold out of range", func(c *Config) { c.Scheduler.SilenceThreshold = 1.5 }},
		{"unknown mode", func(c *Config) { c.Session.Mode = "batch" }},
		{"unknown encoding", func(c *Config) { c.Session.Encoding = "xml" }},
		{"empty target language", func(c *Config) { c.Session.TargetLanguage = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadWithFallbackDefaults(t *testing.T) {
	// Run from an empty directory so no config file is found.
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)

	cfg, err := LoadWithFallback("")
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("fallback config must validate: %v", err)
	}
}
