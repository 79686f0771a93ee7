package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ExitOnError)
	os.Args = args
}

func TestParseCommaSeparated(t *testing.T) {
	res := parseCommaSeparated("a,b , c")
	if len(res) != 3 || res[1] != "b" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseCommaSeparated(""); len(res) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestParseHeaders(t *testing.T) {
	res := parseHeaders("Authorization=Bearer x, bad, =nokey,X-Tenant=site")
	if len(res) != 2 || res["Authorization"] != "Bearer x" || res["X-Tenant"] != "site" {
		t.Fatalf("unexpected headers: %v", res)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"inventory_file":"/srv/site.yaml","include_hashes":true,"cron_interval":60000000000}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := Default()
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InventoryFile != "/srv/site.yaml" || !cfg.IncludeHashes || cfg.CronInterval != time.Minute {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := cfg.loadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad mode", func(c *Config) { c.Mode = "explode" }, false},
		{"drift needs two args", func(c *Config) { c.Mode = ModeDrift; c.Args = []string{"a"} }, false},
		{"drift with two args", func(c *Config) { c.Mode = ModeDrift; c.Args = []string{"a", "b"} }, true},
		{"missing inventory", func(c *Config) { c.InventoryFile = " " }, false},
		{"activate without inventory", func(c *Config) { c.Mode = ModeActivate; c.InventoryFile = "" }, true},
		{"bad backend", func(c *Config) { c.StateBackend = "redis" }, false},
		{"bad algorithm", func(c *Config) { c.HashAlgorithm = "crc32" }, false},
		{"negative io", func(c *Config) { c.MaxIOPerSecond = -1 }, false},
		{"zero cron", func(c *Config) { c.CronInterval = 0 }, false},
		{"otel without scheme", func(c *Config) { c.OtelEndpoint = "collector:4318" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestLoadConfigFlags(t *testing.T) {
	withArgs(t, "cmd", "--mode", "Serve", "--hashes", "--exclude", "cache/,\\.git/", "--hash-algorithm", "BLAKE3", "--state-backend", "sqlite", "--cors-origins", "https://panel.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeServe {
		t.Fatalf("expected serve mode, got %s", cfg.Mode)
	}
	if !cfg.IncludeHashes {
		t.Fatal("expected hashes enabled")
	}
	if cfg.HashAlgorithm != "blake3" {
		t.Fatalf("expected normalized algorithm, got %s", cfg.HashAlgorithm)
	}
	if len(cfg.ExcludePatterns) != 2 || cfg.ExcludePatterns[1] != "\\.git/" {
		t.Fatalf("unexpected excludes: %v", cfg.ExcludePatterns)
	}
	if cfg.StateBackend != StateBackendSQLite {
		t.Fatalf("unexpected backend: %s", cfg.StateBackend)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://panel.example.com" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"inventory_file":"from-file.json","log_level":"debug"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	withArgs(t, "cmd", "--config", path, "--inventory", "from-flag.json", "--mode", "drift", "old.txt", "new.txt")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InventoryFile != "from-flag.json" {
		t.Fatalf("flag should win over file, got %s", cfg.InventoryFile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("file value should survive, got %s", cfg.LogLevel)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "old.txt" {
		t.Fatalf("unexpected positional args: %v", cfg.Args)
	}
}
