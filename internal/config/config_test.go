package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/bookintake/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOOKINTAKE_BACKEND_URL",
		"PROJECT_ID",
		"FIRESTORE_DATABASE",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"BOOKINTAKE_OWNER_ID",
		"BOOKINTAKE_ID_TOKEN",
		"BOOKINTAKE_CLOUDEVENTS_TARGET",
		"BOOKINTAKE_LOG_LEVEL",
		"BOOKINTAKE_LOG_FORMAT",
		"BOOKINTAKE_MAX_CONCURRENT_UPLOADS",
		"BOOKINTAKE_PROCESSING_TIMEOUT",
		"BOOKINTAKE_PDF_MODE",
	} {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookintake.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsFileAndAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[backend]
url = "https://books.example.com/"

[firebase]
project_id = "books-prod"
owner_id = "uid-1"

[pipeline]
processing_timeout = 600
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.URL != "https://books.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.URL)
	}
	if cfg.Upload.MaxConcurrent != 8 {
		t.Fatalf("expected default upload concurrency 8, got %d", cfg.Upload.MaxConcurrent)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("unexpected request timeout %s", cfg.RequestTimeout())
	}
	if cfg.ProcessingTimeout() != 10*time.Minute {
		t.Fatalf("unexpected processing timeout %s", cfg.ProcessingTimeout())
	}
	if cfg.Notifications.Source == "" {
		t.Fatal("expected default cloudevents source")
	}
	if cfg.Upload.PDFMode != "images" {
		t.Fatalf("expected default pdf mode images, got %q", cfg.Upload.PDFMode)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[backend]
url = "https://books.example.com"

[firebase]
project_id = "books-prod"
`)
	t.Setenv("BOOKINTAKE_BACKEND_URL", "http://localhost:8080")
	t.Setenv("BOOKINTAKE_MAX_CONCURRENT_UPLOADS", "3")
	t.Setenv("BOOKINTAKE_ID_TOKEN", " token ")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8080" {
		t.Fatalf("expected env backend url, got %q", cfg.Backend.URL)
	}
	if cfg.Upload.MaxConcurrent != 3 {
		t.Fatalf("expected env concurrency 3, got %d", cfg.Upload.MaxConcurrent)
	}
	if cfg.Firebase.IDToken != "token" {
		t.Fatalf("expected trimmed token, got %q", cfg.Firebase.IDToken)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing backend",
			body:    "[firebase]\nproject_id = \"p\"\n",
			wantErr: "backend url",
		},
		{
			name:    "non http backend",
			body:    "[backend]\nurl = \"ftp://x\"\n[firebase]\nproject_id = \"p\"\n",
			wantErr: "must be http or https",
		},
		{
			name:    "missing project",
			body:    "[backend]\nurl = \"https://x\"\n",
			wantErr: "project id",
		},
		{
			name:    "bad log format",
			body:    "[backend]\nurl = \"https://x\"\n[firebase]\nproject_id = \"p\"\n[logging]\nformat = \"xml\"\n",
			wantErr: "logging format",
		},
		{
			name:    "bad pdf mode",
			body:    "[backend]\nurl = \"https://x\"\n[firebase]\nproject_id = \"p\"\n[upload]\npdf_mode = \"ocr\"\n",
			wantErr: "pdf_mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := config.Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
