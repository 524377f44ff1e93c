package machine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "memory_bytes: 1048576\ndns_upstream: 1.1.1.1:53\nargs:\n  - foo\n  - bar\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MemoryBytes != 1048576 {
		t.Errorf("MemoryBytes = %d, want 1048576", cfg.MemoryBytes)
	}
	if cfg.DNSUpstream != "1.1.1.1:53" {
		t.Errorf("DNSUpstream = %q, want 1.1.1.1:53", cfg.DNSUpstream)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "foo" || cfg.Args[1] != "bar" {
		t.Errorf("Args = %v, want [foo bar]", cfg.Args)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
