package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/models"
)

func newClient(t *testing.T, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := backend.NewClient(server.URL,
		backend.WithHTTPClient(server.Client()),
		backend.WithSession(backend.NewSession(backend.NewStaticPrincipal("u1", "tok-1"))),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestStartProcessingSendsBearerTokenAndRequestID(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/books/start-processing" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get(backend.RequestIDHeader); got != "req-1" {
			t.Errorf("request id = %q", got)
		}
		var req models.StartProcessingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.GCSURIs) != 2 {
			t.Errorf("gcs_uris = %v", req.GCSURIs)
		}
		_, _ = io.WriteString(w, `{"message":"started","bookId":"b1"}`)
	})

	ctx := backend.WithRequestID(context.Background(), "req-1")
	bookID, err := client.StartProcessing(ctx, []string{"gs://b/1.jpg", "gs://b/2.jpg"})
	if err != nil {
		t.Fatalf("StartProcessing returned error: %v", err)
	}
	if bookID != "b1" {
		t.Fatalf("bookID = %q", bookID)
	}
}

func TestStartProcessingErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"non-2xx", http.StatusInternalServerError, `{"error":"boom"}`, errors.ErrTransport},
		{"missing bookId", http.StatusOK, `{"message":"started"}`, errors.ErrProtocol},
		{"malformed body", http.StatusOK, `not json`, errors.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.StartProcessing(context.Background(), []string{"gs://b/1.jpg"})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error = %v, want %v", err, tt.sentinel)
			}
			if calls != 1 {
				t.Fatalf("expected exactly one attempt, got %d", calls)
			}
		})
	}
}

func TestRequestUploadURLRequiresBothFields(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"url":"https://storage.example/put"}`)
	})
	_, err := client.RequestUploadURL(context.Background(), "a.jpg", "image/jpeg")
	var perr *errors.ProtocolError
	if !errors.As(err, &perr) || perr.Field != "gcs_uri" {
		t.Fatalf("expected missing gcs_uri protocol error, got %v", err)
	}
}

func TestMissingPrincipalIsValidationError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer server.Close()
	client, err := backend.NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.StartProcessing(context.Background(), []string{"gs://b/1.jpg"})
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("no request should be sent, got %d", calls)
	}
}

func TestTransferPutsRawBytesWithoutAuth(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("transfer must not carry the bearer token")
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "pixels" {
			t.Errorf("body = %q", body)
		}
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusForbidden)
		}
	})

	base := client.BaseURL()
	if err := client.Transfer(context.Background(), base+"/signed", "image/png", strings.NewReader("pixels"), 6); err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	err := client.Transfer(context.Background(), base+"/denied", "image/png", strings.NewReader("pixels"), 6)
	var terr *errors.TransportError
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 transport error, got %v", err)
	}
}

func TestOverrideConditionDecodesAssessment(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.OverrideConditionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.OverrideGrade != "Fair" || req.Reason != "spine cracked" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = io.WriteString(w, `{"condition_assessment":{"grade":"Fair","price_factor":0.45,"manual_override":true}}`)
	})
	resp, err := client.OverrideCondition(context.Background(), models.OverrideConditionRequest{
		BookID: "b1", OverrideGrade: "Fair", Reason: "spine cracked", Timestamp: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("OverrideCondition returned error: %v", err)
	}
	if resp.ConditionAssessment == nil || resp.ConditionAssessment.PriceFactor != 0.45 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := backend.NewClient("ftp://example.com"); err == nil {
		t.Fatal("expected error for non-http base url")
	}
}
