// Package doppler is a thin typed client for the Doppler REST API.
// One authenticated HTTP channel, one method per remote operation; every
// method funnels through the same request primitive so parameter encoding,
// retries, and error wrapping live in exactly one place.
package doppler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultBaseURL is the Doppler API v3 endpoint.
const DefaultBaseURL = "https://api.doppler.com/v3"

const maxResponseBytes = 4 << 20 // 4 MB

// APIError is any non-2xx response or transport failure from the Doppler API.
// The HTTP status and response body are logged by the client; callers get
// the operation name and a short summary.
type APIError struct {
	Op         string   // Logical operation, e.g. "list projects".
	StatusCode int      // 0 for transport failures.
	Messages   []string // Error messages from the Doppler response body, if any.
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("doppler: %s: request failed", e.Op)
	case len(e.Messages) > 0:
		return fmt.Sprintf("doppler: %s: status %d: %s", e.Op, e.StatusCode, strings.Join(e.Messages, "; "))
	default:
		return fmt.Sprintf("doppler: %s: status %d", e.Op, e.StatusCode)
	}
}

// retryable reports whether the failure is worth another attempt.
// Rate limits and server-side errors are transient; other 4xx are not.
func (e *APIError) retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Token      string        // Required. Doppler service or personal token.
	BaseURL    string        // Default: DefaultBaseURL.
	Timeout    time.Duration // Per-request ceiling. Default: 30s.
	MaxRetries int           // Additional attempts on 429/5xx/transport errors. Default: 2, negative disables.
}

// RequestObserver receives one callback per HTTP attempt against the
// Doppler API. Used to feed metrics without coupling this package to a
// metrics library. A status of 0 means the request never got a response.
type RequestObserver interface {
	ObserveRequest(op string, status int, duration time.Duration)
}

// Client talks to one Doppler workplace with one bearer token.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	observer   RequestObserver // nil = no instrumentation
}

// WithObserver attaches a per-request observer. Returns the client for chaining.
func (c *Client) WithObserver(o RequestObserver) *Client {
	c.observer = o
	return c
}

// NewClient creates a Doppler API client. The token is required; everything
// else has working defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("doppler token is required (set DOPPLER_TOKEN)")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: maxRetries,
	}, nil
}

// call performs one logical operation: build the request, send it (with
// bounded retries on transient failures), decode the JSON envelope into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	attempt := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%s: building request: %w", op, err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if c.observer != nil {
			status := 0
			if err == nil {
				status = resp.StatusCode
			}
			c.observer.ObserveRequest(op, status, time.Since(start))
		}
		if err != nil {
			c.logger.Debug("doppler request failed",
				slog.String("operation", op),
				slog.String("error", err.Error()),
			)
			return nil, &APIError{Op: op}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &APIError{Op: op, StatusCode: resp.StatusCode}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Messages: errorMessages(data)}
			// Full body stays in the log, never in the error returned upstream.
			c.logger.Warn("doppler api error",
				slog.String("operation", op),
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(data)),
			)
			if !apiErr.retryable() {
				return nil, backoff.Permanent(apiErr)
			}
			return nil, apiErr
		}
		return data, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	data, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxRetries)+1),
	)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return nil
}

// errorMessages extracts the "messages" array Doppler puts in error bodies.
func errorMessages(body []byte) []string {
	var envelope struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Messages
}

// ListProjects returns all projects in the workplace, in the order the API
// returns them.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	q := url.Values{"per_page": {"100"}}
	var out struct {
		Projects []Project `json:"projects"`
	}
	if err := c.call(ctx, "list projects", http.MethodGet, "/projects", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// ListConfigs returns the configs of one project.
func (c *Client) ListConfigs(ctx context.Context, project string) ([]Config, error) {
	q := url.Values{"project": {project}, "per_page": {"100"}}
	var out struct {
		Configs []Config `json:"configs"`
	}
	if err := c.call(ctx, "list configs", http.MethodGet, "/configs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Configs, nil
}

// ListSecretNames returns secret names only — no values. This is the
// minimal-privilege listing used by default.
func (c *Client) ListSecretNames(ctx context.Context, project, config string) ([]string, error) {
	q := url.Values{"project": {project}, "config": {config}}
	var out struct {
		Names []string `json:"names"`
	}
	if err := c.call(ctx, "list secret names", http.MethodGet, "/configs/config/secrets/names", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

// GetSecret fetches one secret. A name absent from a successful response is
// NOT an error: the returned Secret has a nil Value. Missing projects or
// configs still fail with an APIError from the remote side.
func (c *Client) GetSecret(ctx context.Context, project, config, name string) (*Secret, error) {
	q := url.Values{"project": {project}, "config": {config}, "name": {name}}
	var out struct {
		Secrets map[string]*SecretValue `json:"secrets"`
	}
	if err := c.call(ctx, "get secret", http.MethodGet, "/configs/config/secrets", q, nil, &out); err != nil {
		return nil, err
	}
	return &Secret{Name: name, Value: out.Secrets[name]}, nil
}

// SetSecret upserts one secret and reports whether the key was created
// (true) or updated (false), as signaled by the remote API.
func (c *Client) SetSecret(ctx context.Context, project, config, name, value string) (bool, error) {
	body := map[string]any{
		"project": project,
		"config":  config,
		"secrets": map[string]string{name: value},
	}
	var out struct {
		Created bool `json:"created"`
	}
	if err := c.call(ctx, "set secret", http.MethodPost, "/configs/config/secrets", nil, body, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

// DeleteSecrets removes the named secrets in one atomic remote call.
// There is no partial-success reporting: the whole call fails on any error.
func (c *Client) DeleteSecrets(ctx context.Context, project, config string, names []string) error {
	body := map[string]any{
		"project": project,
		"config":  config,
		"secrets": names,
	}
	return c.call(ctx, "delete secrets", http.MethodDelete, "/configs/config/secrets", nil, body, nil)
}

// DownloadSecrets fetches the full computed secret set of a config as a
// flat name→value map.
func (c *Client) DownloadSecrets(ctx context.Context, project, config string) (map[string]string, error) {
	q := url.Values{"project": {project}, "config": {config}, "format": {"json"}}
	var out map[string]string
	if err := c.call(ctx, "download secrets", http.MethodGet, "/configs/config/secrets/download", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PromoteSecrets copies the secret set of sourceConfig to targetConfig,
// skipping any key listed in exclude (exact match only). The read and the
// write are two separate remote calls: the write itself is all-or-nothing,
// but the promotion as a whole is not atomic against concurrent mutation
// of the source. An empty filtered set skips the write entirely.
func (c *Client) PromoteSecrets(ctx context.Context, project, sourceConfig, targetConfig string, exclude []string) (*PromotionResult, error) {
	secrets, err := c.DownloadSecrets(ctx, project, sourceConfig)
	if err != nil {
		return nil, fmt.Errorf("reading source config %q: %w", sourceConfig, err)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		excluded[k] = true
	}

	filtered := make(map[string]string, len(secrets))
	written := make([]string, 0, len(secrets))
	for name, value := range secrets {
		if excluded[name] {
			continue
		}
		filtered[name] = value
		written = append(written, name)
	}

	result := &PromotionResult{
		Project:  project,
		Source:   sourceConfig,
		Target:   targetConfig,
		Count:    len(filtered),
		Written:  written,
		Excluded: exclude,
	}
	if len(filtered) == 0 {
		return result, nil
	}

	body := map[string]any{
		"project": project,
		"config":  targetConfig,
		"secrets": filtered,
	}
	if err := c.call(ctx, "promote secrets", http.MethodPost, "/configs/config/secrets", nil, body, nil); err != nil {
		return nil, fmt.Errorf("writing target config %q: %w", targetConfig, err)
	}
	return result, nil
}

// CreateServiceToken issues a new config-scoped token. Access defaults to
// read-only when empty — the safe default.
func (c *Client) CreateServiceToken(ctx context.Context, project, config, name string, access Access) (*ServiceToken, error) {
	if access == "" {
		access = AccessRead
	}
	if !access.Valid() {
		return nil, fmt.Errorf("invalid access level %q (use %q or %q)", access, AccessRead, AccessReadWrite)
	}
	body := map[string]any{
		"project": project,
		"config":  config,
		"name":    name,
		"access":  string(access),
	}
	var out struct {
		Token ServiceToken `json:"token"`
	}
	if err := c.call(ctx, "create service token", http.MethodPost, "/configs/config/tokens", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Token, nil
}

// ActivityLogs returns one page of workplace activity, optionally filtered
// to a project. Page and perPage are passed through as-is.
func (c *Client) ActivityLogs(ctx context.Context, project string, page, perPage int) ([]ActivityLog, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if project != "" {
		q.Set("project", project)
	}
	var out struct {
		Logs []ActivityLog `json:"logs"`
	}
	if err := c.call(ctx, "get activity logs", http.MethodGet, "/logs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// ValidateConnection probes the identity endpoint. It never returns an
// error: any failure means the token or connection is bad.
func (c *Client) ValidateConnection(ctx context.Context) bool {
	if err := c.call(ctx, "validate connection", http.MethodGet, "/me", nil, nil, nil); err != nil {
		c.logger.Debug("connection validation failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
