package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
cache:
  max_entries: 500
  default_ttl: 90s
  cleanup_interval: 1m
resources:
  docs_dir: /srv/docs/adr
  status:
    url: https://deploy.internal/api/status/{env}
    ttl: 15s
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("max_entries = %d, want 500", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.DefaultTTL != 90*time.Second {
		t.Errorf("default_ttl = %v, want 90s", cfg.Cache.DefaultTTL)
	}
	if cfg.Resources.DocsDir != "/srv/docs/adr" {
		t.Errorf("docs_dir = %q", cfg.Resources.DocsDir)
	}
	if cfg.Resources.Status.TTL != 15*time.Second {
		t.Errorf("status ttl = %v, want 15s", cfg.Resources.Status.TTL)
	}
	// Unset fields keep their defaults.
	if cfg.Server.WriteTimeout != 60*time.Second {
		t.Errorf("write_timeout default = %v, want 60s", cfg.Server.WriteTimeout)
	}
	if cfg.Resources.Status.Timeout != 10*time.Second {
		t.Errorf("status timeout default = %v, want 10s", cfg.Resources.Status.Timeout)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ARCHIVIST_TEST_SECRET", "s3cret")

	in := []byte("client_secret: ${ARCHIVIST_TEST_SECRET}\nother: ${ARCHIVIST_TEST_UNSET}")
	out := string(expandEnv(in))

	if out != "client_secret: s3cret\nother: ${ARCHIVIST_TEST_UNSET}" {
		t.Errorf("expandEnv = %q", out)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.Cache.MaxEntries != 10_000 {
		t.Errorf("max_entries default = %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.CleanupInterval != 5*time.Minute {
		t.Errorf("cleanup_interval default = %v", cfg.Cache.CleanupInterval)
	}
}
