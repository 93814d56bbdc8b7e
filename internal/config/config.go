// Package config loads bookintake settings from a TOML file and the
// environment. Environment variables win over the file so the CLI can run in
// CI or a container without a config file at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Lllllllleong/bookintake/internal/gcp"
)

// Backend describes the HTTP API that issues write URLs and starts jobs.
type Backend struct {
	URL             string `toml:"url"`
	RequestTimeout  int    `toml:"request_timeout"`
	TransferTimeout int    `toml:"transfer_timeout"`
}

// Firebase holds the project that hosts the status documents and the
// principal used to read them.
type Firebase struct {
	ProjectID       string `toml:"project_id"`
	DatabaseID      string `toml:"database_id"`
	CredentialsFile string `toml:"credentials_file"`
	OwnerID         string `toml:"owner_id"`
	IDToken         string `toml:"id_token"`
}

// Upload tunes the ingestion fan-out.
type Upload struct {
	MaxConcurrent int `toml:"max_concurrent"`
	// PDFMode selects how a PDF scan is turned into uploads: images, pages
	// or whole.
	PDFMode string `toml:"pdf_mode"`
}

// Pipeline tunes the status tracking.
type Pipeline struct {
	// ProcessingTimeout in seconds; zero disables the guard.
	ProcessingTimeout int `toml:"processing_timeout"`
}

// Notifications configures the optional CloudEvents sink.
type Notifications struct {
	CloudEventsTarget string `toml:"cloudevents_target"`
	Source            string `toml:"source"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full bookintake configuration.
type Config struct {
	Backend       Backend       `toml:"backend"`
	Firebase      Firebase      `toml:"firebase"`
	Upload        Upload        `toml:"upload"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

const (
	defaultRequestTimeout  = 30
	defaultTransferTimeout = 300
	defaultMaxConcurrent   = 8
	defaultEventSource     = "bookintake/cli"
	defaultPDFMode         = "images"
)

// Default returns a Config with every optional value populated.
func Default() Config {
	return Config{
		Backend: Backend{
			RequestTimeout:  defaultRequestTimeout,
			TransferTimeout: defaultTransferTimeout,
		},
		Upload: Upload{MaxConcurrent: defaultMaxConcurrent, PDFMode: defaultPDFMode},
		Notifications: Notifications{
			Source: defaultEventSource,
		},
		Logging: Logging{Level: "info", Format: "auto"},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result. A missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.URL = gcp.GetEnv("BOOKINTAKE_BACKEND_URL", c.Backend.URL)
	c.Firebase.ProjectID = gcp.GetEnv("PROJECT_ID", c.Firebase.ProjectID)
	c.Firebase.DatabaseID = gcp.GetEnv("FIRESTORE_DATABASE", c.Firebase.DatabaseID)
	c.Firebase.CredentialsFile = gcp.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Firebase.CredentialsFile)
	c.Firebase.OwnerID = gcp.GetEnv("BOOKINTAKE_OWNER_ID", c.Firebase.OwnerID)
	c.Firebase.IDToken = gcp.GetEnv("BOOKINTAKE_ID_TOKEN", c.Firebase.IDToken)
	c.Notifications.CloudEventsTarget = gcp.GetEnv("BOOKINTAKE_CLOUDEVENTS_TARGET", c.Notifications.CloudEventsTarget)
	c.Logging.Level = gcp.GetEnv("BOOKINTAKE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = gcp.GetEnv("BOOKINTAKE_LOG_FORMAT", c.Logging.Format)
	c.Upload.PDFMode = gcp.GetEnv("BOOKINTAKE_PDF_MODE", c.Upload.PDFMode)
	if v, ok := envInt("BOOKINTAKE_MAX_CONCURRENT_UPLOADS"); ok {
		c.Upload.MaxConcurrent = v
	}
	if v, ok := envInt("BOOKINTAKE_PROCESSING_TIMEOUT"); ok {
		c.Pipeline.ProcessingTimeout = v
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(gcp.GetEnv(key, ""))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Config) normalize() {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	c.Firebase.ProjectID = strings.TrimSpace(c.Firebase.ProjectID)
	c.Firebase.OwnerID = strings.TrimSpace(c.Firebase.OwnerID)
	c.Firebase.IDToken = strings.TrimSpace(c.Firebase.IDToken)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}
	if c.Backend.TransferTimeout <= 0 {
		c.Backend.TransferTimeout = defaultTransferTimeout
	}
	if c.Upload.MaxConcurrent <= 0 {
		c.Upload.MaxConcurrent = defaultMaxConcurrent
	}
	c.Upload.PDFMode = strings.ToLower(strings.TrimSpace(c.Upload.PDFMode))
	if c.Upload.PDFMode == "" {
		c.Upload.PDFMode = defaultPDFMode
	}
	if c.Pipeline.ProcessingTimeout < 0 {
		c.Pipeline.ProcessingTimeout = 0
	}
	if strings.TrimSpace(c.Notifications.Source) == "" {
		c.Notifications.Source = defaultEventSource
	}
}

// Validate checks that the settings needed by every command are present.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend url must be set (backend.url or BOOKINTAKE_BACKEND_URL)")
	}
	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("backend url %q must be http or https", c.Backend.URL)
	}
	if c.Firebase.ProjectID == "" {
		return errors.New("firebase project id must be set (firebase.project_id or PROJECT_ID)")
	}
	switch c.Upload.PDFMode {
	case "images", "pages", "whole":
	default:
		return fmt.Errorf("upload pdf_mode %q must be images, pages or whole", c.Upload.PDFMode)
	}
	switch c.Logging.Format {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("logging format %q must be auto, json or text", c.Logging.Format)
	}
	return nil
}

// RequestTimeout returns the backend API timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}

// TransferTimeout returns the per-file byte transfer timeout.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Backend.TransferTimeout) * time.Second
}

// ProcessingTimeout returns the stuck-processing guard, zero when disabled.
func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Pipeline.ProcessingTimeout) * time.Second
}
