package gcp

import (
	"os"
	"testing"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://books/uploads/uid/cover.jpg", wantBucket: "books", wantObject: "uploads/uid/cover.jpg"},
		{uri: "gs://books/a", wantBucket: "books", wantObject: "a"},
		{uri: "https://storage.googleapis.com/books/a", wantErr: true},
		{uri: "gs://books", wantErr: true},
		{uri: "gs:///object", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGCSURI returned error: %v", err)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Fatalf("got (%q, %q), want (%q, %q)", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	const key = "BOOKINTAKE_GCP_TEST_VALUE"
	os.Unsetenv(key)
	if got := GetEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, "set")
	if got := GetEnv(key, "fallback"); got != "set" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	if opts := ClientOptions("  "); opts != nil {
		t.Fatalf("expected no options without credentials, got %d", len(opts))
	}
	if opts := ClientOptions("/etc/sa.json"); len(opts) != 1 {
		t.Fatalf("expected one option for credentials file, got %d", len(opts))
	}
}
