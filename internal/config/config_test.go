package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.DropTimeout != 30000*time.Millisecond {
		t.Errorf("expected default drop timeout 30s, got %v", cfg.DropTimeout)
	}
	if cfg.MaxRetries != 15 {
		t.Errorf("expected default max retries 15, got %d", cfg.MaxRetries)
	}
	if len(cfg.Listens) != 1 {
		t.Fatalf("expected exactly 1 default listen, got %d", len(cfg.Listens))
	}
	if cfg.Listens[0].Port != 5000 {
		t.Errorf("expected default port 5000, got %d", cfg.Listens[0].Port)
	}
}

func TestLoadAppliesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := fs.Parse([]string{"--max-retries=7", "--limit-reliable-grouping=true"}); err != nil {
		t.Fatalf("flag parse failed before Load even ran: %v", err)
	}

	cfg, err := Load(fs, "")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("expected max-retries override 7, got %d", cfg.MaxRetries)
	}
	if !cfg.LimitReliableGrouping {
		t.Error("expected limit-reliable-grouping override to be true")
	}
}

func TestLoadAppliesEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env")
	if err := os.WriteFile(path, []byte("CORENET_MAX_RETRIES=3\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse failed: %v", err)
	}

	cfg, err := Load(fs, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected env override max-retries 3, got %d", cfg.MaxRetries)
	}
}

func TestLoadMissingEnvFileIsNotAnError(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse failed: %v", err)
	}
	if _, err := Load(fs, "/nonexistent/path/to/env"); err != nil {
		t.Errorf("expected a missing env file to be ignored, got error: %v", err)
	}
}

func TestFlagToEnvName(t *testing.T) {
	if got := flagToEnvName("max-retries"); got != "MAX_RETRIES" {
		t.Errorf("expected MAX_RETRIES, got %q", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	os.Setenv("ZONED_TEST_INT", "42")
	defer os.Unsetenv("ZONED_TEST_INT")
	if got := ParseIntEnv("ZONED_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := ParseIntEnv("ZONED_TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}
