package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/bookintake/internal/backend"
	"github.com/Lllllllleong/bookintake/internal/models"
)

// FakeBackend is an httptest server speaking the books API. Signed URLs
// point back at the same server under /signed/.
type FakeBackend struct {
	Server *httptest.Server

	mu              sync.Mutex
	bookID          string
	failTransfer    map[string]int
	startStatus     int
	startBody       string
	assessStatus    int
	assessBody      string
	overrideStatus  int
	overrideBody    string
	overrideGate    chan struct{}
	uploadRequests  int
	transfers       map[string][]byte
	startRequests   []models.StartProcessingRequest
	assessRequests  []models.AssessConditionRequest
	overrideRequest []models.OverrideConditionRequest
	requestIDs      []string
}

// NewFakeBackend starts a fake API and stops it when the test ends.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{
		bookID:       "b1",
		failTransfer: make(map[string]int),
		transfers:    make(map[string][]byte),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books/upload", fb.handleUpload)
	mux.HandleFunc("/api/books/start-processing", fb.handleStart)
	mux.HandleFunc("/api/books/assess-condition", fb.handleAssess)
	mux.HandleFunc("/api/books/override-condition", fb.handleOverride)
	mux.HandleFunc("/signed/", fb.handleTransfer)
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Server.Close)
	return fb
}

// Client returns a backend client signed in as owner.
func (fb *FakeBackend) Client(t testing.TB, owner string) *backend.Client {
	t.Helper()
	client, err := backend.NewClient(fb.Server.URL,
		backend.WithHTTPClient(fb.Server.Client()),
		backend.WithSession(backend.NewSession(backend.NewStaticPrincipal(owner, "token-"+owner))),
	)
	if err != nil {
		t.Fatalf("backend.NewClient: %v", err)
	}
	return client
}

// SetBookID sets the tracking id returned by start-processing.
func (fb *FakeBackend) SetBookID(id string) {
	fb.mu.Lock()
	fb.bookID = id
	fb.mu.Unlock()
}

// FailTransferOf makes the signed-URL PUT for filename answer status.
func (fb *FakeBackend) FailTransferOf(filename string, status int) {
	fb.mu.Lock()
	fb.failTransfer[filename] = status
	fb.mu.Unlock()
}

// RespondToStart overrides the start-processing response.
func (fb *FakeBackend) RespondToStart(status int, body string) {
	fb.mu.Lock()
	fb.startStatus, fb.startBody = status, body
	fb.mu.Unlock()
}

// RespondToAssess overrides the assess-condition response.
func (fb *FakeBackend) RespondToAssess(status int, body string) {
	fb.mu.Lock()
	fb.assessStatus, fb.assessBody = status, body
	fb.mu.Unlock()
}

// RespondToOverride overrides the override-condition response.
func (fb *FakeBackend) RespondToOverride(status int, body string) {
	fb.mu.Lock()
	fb.overrideStatus, fb.overrideBody = status, body
	fb.mu.Unlock()
}

// HoldOverrides makes override-condition block until release is called.
func (fb *FakeBackend) HoldOverrides() (release func()) {
	gate := make(chan struct{})
	fb.mu.Lock()
	fb.overrideGate = gate
	fb.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Requests returns the number of calls made to each API endpoint.
func (fb *FakeBackend) Requests() (upload, start, assess, override int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.uploadRequests, len(fb.startRequests), len(fb.assessRequests), len(fb.overrideRequest)
}

// Transferred returns the bytes PUT for filename.
func (fb *FakeBackend) Transferred(filename string) ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	body, ok := fb.transfers[filename]
	return body, ok
}

// StartRequests returns the start-processing payloads received.
func (fb *FakeBackend) StartRequests() []models.StartProcessingRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]models.StartProcessingRequest(nil), fb.startRequests...)
}

// AssessRequests returns the assess-condition payloads received.
func (fb *FakeBackend) AssessRequests() []models.AssessConditionRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]models.AssessConditionRequest(nil), fb.assessRequests...)
}

// OverrideRequests returns the override-condition payloads received.
func (fb *FakeBackend) OverrideRequests() []models.OverrideConditionRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]models.OverrideConditionRequest(nil), fb.overrideRequest...)
}

// RequestIDs returns the X-Request-ID values seen on API calls.
func (fb *FakeBackend) RequestIDs() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.requestIDs...)
}

func (fb *FakeBackend) authorized(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	fb.mu.Lock()
	fb.requestIDs = append(fb.requestIDs, r.Header.Get(backend.RequestIDHeader))
	fb.mu.Unlock()
	return true
}

func (fb *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !fb.authorized(w, r) {
		return
	}
	var req models.UploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.uploadRequests++
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, models.UploadURLResponse{
		URL:    fb.Server.URL + "/signed/" + req.Filename,
		GCSURI: "gs://fake-bucket/uploads/" + req.Filename,
	})
}

func (fb *FakeBackend) handleTransfer(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/signed/")
	body, _ := io.ReadAll(r.Body)
	fb.mu.Lock()
	status := fb.failTransfer[name]
	if status == 0 {
		fb.transfers[name] = body
	}
	fb.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (fb *FakeBackend) handleStart(w http.ResponseWriter, r *http.Request) {
	if !fb.authorized(w, r) {
		return
	}
	var req models.StartProcessingRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	fb.mu.Lock()
	fb.startRequests = append(fb.startRequests, req)
	status, body, bookID := fb.startStatus, fb.startBody, fb.bookID
	fb.mu.Unlock()

	if status != 0 || body != "" {
		writeRaw(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, models.StartProcessingResponse{Message: "Processing started", BookID: bookID})
}

func (fb *FakeBackend) handleAssess(w http.ResponseWriter, r *http.Request) {
	if !fb.authorized(w, r) {
		return
	}
	var req models.AssessConditionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	fb.mu.Lock()
	fb.assessRequests = append(fb.assessRequests, req)
	status, body := fb.assessStatus, fb.assessBody
	fb.mu.Unlock()

	if status != 0 || body != "" {
		writeRaw(w, status, body)
		return
	}
	writeJSON(w, http.StatusAccepted, models.AssessConditionResponse{Message: "Assessment started", BookID: req.BookID})
}

func (fb *FakeBackend) handleOverride(w http.ResponseWriter, r *http.Request) {
	if !fb.authorized(w, r) {
		return
	}
	var req models.OverrideConditionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	fb.mu.Lock()
	fb.overrideRequest = append(fb.overrideRequest, req)
	status, body, gate := fb.overrideStatus, fb.overrideBody, fb.overrideGate
	fb.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if status != 0 || body != "" {
		writeRaw(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, models.OverrideConditionResponse{ConditionAssessment: &models.AssessmentDocument{
		Grade:          req.OverrideGrade,
		PriceFactor:    models.PriceFactorForGrade(req.OverrideGrade),
		ManualOverride: true,
		OverrideReason: req.Reason,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}
