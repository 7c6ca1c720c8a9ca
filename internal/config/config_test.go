package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CATALOG_CONFIG_FILE", "API_ADDR", "CATALOG_BACKEND", "CATALOG_FETCH_VIA", "CATALOG_BASE_BRANCH", "CATALOG_FILE_PATH",
		"REPO_OWNER", "CATALOG_AUTOSAVE_QUIET_MS", "CATALOG_POLL_MINUTES", "CATALOG_PAGE_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.Backend != BackendGitHub || cfg.BaseBranch != "main" || cfg.FilePath != "augmented.json" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.FetchVia != FetchRaw {
		t.Fatalf("FetchVia = %q, want %q", cfg.FetchVia, FetchRaw)
	}
	if cfg.AutoSaveQuiet != 2*time.Second || cfg.PollMinutes != 5 || cfg.PageSize != 50 {
		t.Fatalf("editor defaults = %v %d %d", cfg.AutoSaveQuiet, cfg.PollMinutes, cfg.PageSize)
	}
}

func TestLoadFileOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	clearEnv(t)
	path := filepath.Join(dir, "catalog.yaml")
	yaml := `
addr: ":9000"
backend: git
repo:
  owner: fabriziosalmi
  name: audiolibri
  base_branch: develop
editor:
  autosave_quiet: 3s
  poll_minutes: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CATALOG_CONFIG_FILE", path)
	t.Setenv("API_ADDR", ":9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("Addr = %q, env should win", cfg.Addr)
	}
	if cfg.Backend != BackendGit || cfg.RepoOwner != "fabriziosalmi" || cfg.BaseBranch != "develop" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.AutoSaveQuiet != 3*time.Second || cfg.PollMinutes != 10 {
		t.Fatalf("editor = %v %d", cfg.AutoSaveQuiet, cfg.PollMinutes)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	clearEnv(t)
	t.Setenv("CATALOG_BACKEND", "svn")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadRejectsUnknownFetchMode(t *testing.T) {
	t.Chdir(t.TempDir())
	clearEnv(t)
	t.Setenv("CATALOG_FETCH_VIA", "ftp")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown fetch mode")
	}
	t.Setenv("CATALOG_FETCH_VIA", FetchAPI)
	cfg, err := Load()
	if err != nil || cfg.FetchVia != FetchAPI {
		t.Fatalf("Load() = %q, %v", cfg.FetchVia, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CATALOG_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "true")
	if getenvInt("X_INT", 7) != 7 {
		t.Fatal("invalid int should fall back")
	}
	if !getenvBool("X_BOOL", false) {
		t.Fatal("expected true")
	}
	if or("", "fallback") != "fallback" || or(3, 5) != 3 {
		t.Fatal("or() mismatch")
	}
}
