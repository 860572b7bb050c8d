package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Server.Addr != ":5000" {
			t.Errorf("Server.Addr = %q, want :5000", cfg.Server.Addr)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		cfg, err := loadConfig(filepath.Join(t.TempDir(), "relay.yaml"))
		if err == nil {
			t.Fatalf("loadConfig() = %+v, want error", cfg)
		}
	})

	t.Run("file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relay.yaml")
		if err := os.WriteFile(path, []byte("server:\n  addr: \":6000\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Server.Addr != ":6000" {
			t.Errorf("Server.Addr = %q, want :6000", cfg.Server.Addr)
		}
	})
}
