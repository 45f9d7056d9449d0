package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devicehub.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `{"hostname":"127.0.0.1","port":9000}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimeoutConnectionMS != defaultTimeoutConnectionMS {
		t.Errorf("timeout_connection_ms = %d, want default %d", cfg.TimeoutConnectionMS, defaultTimeoutConnectionMS)
	}
	if cfg.RXBufferCap != defaultRXBufferCap || cfg.TXBufferCap != defaultTXBufferCap {
		t.Errorf("buffer caps not defaulted: rx=%d tx=%d", cfg.RXBufferCap, cfg.TXBufferCap)
	}
	if cfg.DispatchStrategy != DispatchConsistentHash {
		t.Errorf("dispatch_strategy = %q, want %q", cfg.DispatchStrategy, DispatchConsistentHash)
	}
	if cfg.InfiniteObjectTimeout() {
		t.Errorf("expected default object timeout to be finite")
	}
}

func TestLoadInfiniteObjectTimeout(t *testing.T) {
	path := writeTemp(t, `{"port":9000,"timeout_object_s":0}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.InfiniteObjectTimeout() {
		t.Errorf("timeout_object_s=0 should mean infinite")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeTemp(t, `{"port":-1}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected verify error for port -1")
	}
}

func TestLoadRejectsUnknownDispatchStrategy(t *testing.T) {
	path := writeTemp(t, `{"port":9000,"dispatch_strategy":"lottery"}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected verify error for unknown dispatch strategy")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
