// Package backend is the HTTP client for the books API: write URL issuance,
// pipeline start, condition assessment and manual override, plus the
// unauthenticated byte transfer to a signed URL.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/bookintake/internal/errors"
	"github.com/Lllllllleong/bookintake/internal/models"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4 << 10

	uploadPath            = "/api/books/upload"
	startProcessingPath   = "/api/books/start-processing"
	assessConditionPath   = "/api/books/assess-condition"
	overrideConditionPath = "/api/books/override-condition"
)

// Client calls the books API with the session's bearer token.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	transferClient *http.Client
	session        *Session
	logger         *slog.Logger
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTransferClient overrides the client used for signed-URL transfers,
// which usually need a longer timeout than API calls.
func WithTransferClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.transferClient = client
		}
	}
}

// WithSession sets the principal source.
func WithSession(session *Session) Option {
	return func(c *Client) {
		if session != nil {
			c.session = session
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a books API client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", baseURL)
	}
	client := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		session:    NewSession(nil),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.transferClient == nil {
		client.transferClient = client.httpClient
	}
	return client, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the session the client authenticates with.
func (c *Client) Session() *Session { return c.session }

// RequestUploadURL asks for a signed write URL for one file.
func (c *Client) RequestUploadURL(ctx context.Context, filename, contentType string) (models.UploadURLResponse, error) {
	const op = "request upload url"
	var resp models.UploadURLResponse
	req := models.UploadURLRequest{Filename: filename, ContentType: contentType}
	if err := c.postJSON(ctx, op, uploadPath, req, &resp); err != nil {
		return models.UploadURLResponse{}, err
	}
	if strings.TrimSpace(resp.URL) == "" {
		return models.UploadURLResponse{}, errors.NewProtocolError(op, "url")
	}
	if strings.TrimSpace(resp.GCSURI) == "" {
		return models.UploadURLResponse{}, errors.NewProtocolError(op, "gcs_uri")
	}
	return resp, nil
}

// StartProcessing begins ingestion of the uploaded objects and returns the
// tracking id. It makes exactly one attempt.
func (c *Client) StartProcessing(ctx context.Context, gcsURIs []string) (string, error) {
	const op = "start processing"
	var resp models.StartProcessingResponse
	if err := c.postJSON(ctx, op, startProcessingPath, models.StartProcessingRequest{GCSURIs: gcsURIs}, &resp); err != nil {
		return "", err
	}
	bookID := strings.TrimSpace(resp.BookID)
	if bookID == "" {
		return "", errors.NewProtocolError(op, "bookId")
	}
	return bookID, nil
}

// AssessCondition submits slot images for grading.
func (c *Client) AssessCondition(ctx context.Context, req models.AssessConditionRequest) (models.AssessConditionResponse, error) {
	var resp models.AssessConditionResponse
	if err := c.postJSON(ctx, "assess condition", assessConditionPath, req, &resp); err != nil {
		return models.AssessConditionResponse{}, err
	}
	return resp, nil
}

// OverrideCondition records a reviewer's grade.
func (c *Client) OverrideCondition(ctx context.Context, req models.OverrideConditionRequest) (models.OverrideConditionResponse, error) {
	var resp models.OverrideConditionResponse
	if err := c.postJSON(ctx, "override condition", overrideConditionPath, req, &resp); err != nil {
		return models.OverrideConditionResponse{}, err
	}
	return resp, nil
}

// Transfer PUTs body to a pre-signed URL. No bearer token is sent.
func (c *Client) Transfer(ctx context.Context, signedURL, contentType string, body io.Reader, size int64) error {
	const op = "transfer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return errors.WrapTransportError(op, err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.transferClient.Do(req)
	if err != nil {
		return errors.WrapTransportError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewTransportError(op, resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload, out any) error {
	principal := c.session.Principal()
	if principal == nil {
		return errors.NewValidationError("principal", "no authenticated principal")
	}
	token, err := principal.Token(ctx)
	if err != nil {
		return errors.WrapTransportError(op, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return errors.WrapTransportError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", "op", op, "error", err)
		return errors.WrapTransportError(op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("Backend request completed.", "op", op, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewTransportError(op, resp.StatusCode, readErrorBody(resp.Body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapTransportError(op, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapProtocolError(op, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(body)
}
