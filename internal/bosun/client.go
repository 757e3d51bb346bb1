// Package bosun implements the client for the Bosun alerting backend: metric
// datums, metric metadata, and the silence store used by the decision engine.
package bosun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/retry"
)

const (
	pathPut         = "/api/put"
	pathMetadataPut = "/api/metadata/put"
	pathSilenceSet  = "/api/silence/set"
	pathSilenceGet  = "/api/silence/get"
)

// Bosun is the boundary contract for the alerting backend.
type Bosun interface {
	EmitMetadata(ctx context.Context, metadata *Metadata) error
	EmitDatum(ctx context.Context, datum *Datum) error
	SetSilence(ctx context.Context, silence *Silence) error
	// ActiveSilence returns the currently active window whose tag string
	// matches the given tag set (global tags merged in), or nil.
	ActiveSilence(ctx context.Context, tags Tags) (*Window, error)
}

// APIError is a non-2xx response from Bosun. 5xx responses are transient;
// everything else (auth failures, bad requests) is permanent.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bosun API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Transient marks server-side failures as retryable.
func (e *APIError) Transient() bool { return e.StatusCode >= 500 }

// Client talks to a single Bosun instance over HTTP with basic auth.
type Client struct {
	baseURL    string
	user       string
	password   string
	tags       Tags
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Bosun client. host may omit the scheme; http is
// assumed then. tags are merged into every datum and silence written.
func NewClient(host, user, password string, timeout time.Duration, tags Tags, logger *zap.Logger) *Client {
	baseURL := host
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		tags:     tags,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("bosun"),
	}
}

// EmitMetadata registers metric metadata.
func (c *Client) EmitMetadata(ctx context.Context, metadata *Metadata) error {
	err := c.post(ctx, pathMetadataPut, metadata.wire(), http.StatusNoContent)
	if err != nil {
		return fmt.Errorf("failed to emit metadata for %s: %w", metadata.Metric, err)
	}

	c.logger.Debug("Metadata sent", zap.String("metric", metadata.Metric))
	return nil
}

// EmitDatum sends a single metric value, with the client's global tags
// merged in.
func (c *Client) EmitDatum(ctx context.Context, datum *Datum) error {
	d := *datum
	d.Tags = Merge(c.tags, datum.Tags)

	if err := c.post(ctx, pathPut, &d, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to emit datum for %s: %w", d.Metric, err)
	}

	c.logger.Debug("Datum sent",
		zap.String("metric", d.Metric),
		zap.String("value", d.Value))
	return nil
}

// SetSilence creates or replaces the silence window for the silence's tag
// set. Bosun keys silences by tag string, so a second write with the same
// tags replaces the previous window rather than appending.
func (c *Client) SetSilence(ctx context.Context, silence *Silence) error {
	if !silence.End.After(silence.Start) {
		return fmt.Errorf("silence window end %s is not after start %s",
			silence.End.Format(time.RFC3339), silence.Start.Format(time.RFC3339))
	}

	tagString := TagString(Merge(c.tags, silence.Tags))
	wire := wireSilence{
		Duration: silence.End.Sub(silence.Start).String(),
		Tags:     tagString,
		Forget:   "true",
		User:     silence.User,
		Message:  silence.Message,
		Confirm:  "true",
	}

	if err := c.post(ctx, pathSilenceSet, &wire, http.StatusOK); err != nil {
		return fmt.Errorf("failed to set silence for %q: %w", tagString, err)
	}

	c.logger.Info("Silence set",
		zap.String("tags", tagString),
		zap.String("duration", wire.Duration))
	return nil
}

// ActiveSilence queries the currently stored silences and returns the
// active window matching the given tag set, or nil when none exists. When
// multiple windows match, the one ending last wins.
func (c *Client) ActiveSilence(ctx context.Context, tags Tags) (*Window, error) {
	tagString := TagString(Merge(c.tags, tags))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathSilenceGet, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to query silences: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var stored map[string]wireWindow
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode silence response: %w", err)
	}

	now := time.Now()
	var best *Window
	for _, w := range stored {
		if w.TagString != tagString {
			continue
		}
		window := Window{Start: w.Start, End: w.End, TagString: w.TagString}
		if !window.Active(now) {
			continue
		}
		if best == nil || window.End.After(best.End) {
			best = &window
		}
	}

	c.logger.Debug("Queried active silence",
		zap.String("tags", tagString),
		zap.Bool("found", best != nil))
	return best, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, expected int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		return c.apiError(resp)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
