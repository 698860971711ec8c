package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
)

func init() {
	// tests point HOME at temp dirs
	homedir.DisableCache = true
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Download.ChapterWorkers != 2 || cfg.Download.SegmentWorkers != 4 {
		t.Errorf("workers = %d/%d, want 2/4", cfg.Download.ChapterWorkers, cfg.Download.SegmentWorkers)
	}
	if cfg.Download.MinFileSize != 1024 || !cfg.Download.SkipExisting {
		t.Errorf("download defaults = %+v", cfg.Download)
	}
	if cfg.HTTP.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.HTTP.Timeout)
	}
	if cfg.Catalog.PageSize != 12 || len(cfg.Catalog.SkipSources) != 1 {
		t.Errorf("catalog defaults = %+v", cfg.Catalog)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
download:
  folder: /tmp/books
  chapter_workers: 3
  segment_workers: 0
http:
  timeout: 15s
  headers:
    Referer: https://example.com/
mirror:
  s3_url: s3://bucket/audio
`)
	t.Setenv("TOKYSNATCHER_DOWNLOAD_CHAPTER_WORKERS", "5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("segment-workers", 4, "")
	flags.String("folder", ".", "")
	if err := flags.Parse([]string{"--segment-workers", "6"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Download.ChapterWorkers != 5 {
		t.Errorf("chapter_workers = %d, want 5 from env", cfg.Download.ChapterWorkers)
	}
	if cfg.Download.SegmentWorkers != 6 {
		t.Errorf("segment_workers = %d, want 6 from flag", cfg.Download.SegmentWorkers)
	}
	if cfg.Download.Folder != "/tmp/books" {
		t.Errorf("folder = %q, an unchanged flag must not override the file", cfg.Download.Folder)
	}
	if cfg.HTTP.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.Headers["referer"] != "https://example.com/" {
		t.Errorf("headers = %v", cfg.HTTP.Headers)
	}
	if cfg.Mirror.S3URL != "s3://bucket/audio" {
		t.Errorf("mirror = %q", cfg.Mirror.S3URL)
	}
	hc := cfg.HTTPClientConfig()
	if hc.Timeout != 15*time.Second || hc.Headers["referer"] == "" {
		t.Errorf("HTTPClientConfig() = %+v", hc)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("an explicit missing config file should be an error")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := map[string]string{
		"chapter workers": "download:\n  chapter_workers: 0\n",
		"segment workers": "download:\n  segment_workers: -1\n",
		"mirror url":      "mirror:\n  s3_url: https://bucket\n",
		"fallback url":    "catalog:\n  fallback_media_url: ftp://files02\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content), nil); err == nil {
				t.Error("Load() should reject invalid config")
			}
		})
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg, err := Load(writeConfig(t, "download:\n  folder: ~/books\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Download.Folder != filepath.Join(home, "books") {
		t.Errorf("folder = %q, want %q", cfg.Download.Folder, filepath.Join(home, "books"))
	}
}
