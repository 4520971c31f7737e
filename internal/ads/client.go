// Package ads is a small client for the Google Ads REST interface, covering
// the conversion adjustment and offline user data job endpoints.
package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
)

// Scope is the OAuth2 scope required by the Ads API.
const Scope = "https://www.googleapis.com/auth/adwords"

const (
	DefaultBaseURL    = "https://googleads.googleapis.com"
	DefaultAPIVersion = "v17"
	DefaultMaxRetries = 5
)

// ErrMissingDeveloperToken is returned by NewClient without a developer token.
var ErrMissingDeveloperToken = errors.New("ads developer token is required")

// Config holds client settings.
type Config struct {
	DeveloperToken  string        `yaml:"developer_token"`
	LoginCustomerID string        `yaml:"login_customer_id"` // default manager account
	APIVersion      string        `yaml:"api_version"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// Client sends requests to the Ads API.
type Client struct {
	http            *http.Client
	baseURL         string
	version         string
	developerToken  string
	loginCustomerID string
	maxRetries      uint64
	newBackOff      func() backoff.BackOff
	log             *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default ADC-authenticated client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithBackOff sets the retry policy factory. One policy is created per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// NewClient creates a client. Unless WithHTTPClient is given, credentials come
// from Application Default Credentials.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.DeveloperToken == "" {
		return nil, ErrMissingDeveloperToken
	}

	c := &Client{
		baseURL:         DefaultBaseURL,
		version:         cfg.APIVersion,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: normalizeCustomerID(cfg.LoginCustomerID),
		maxRetries:      DefaultMaxRetries,
		log:             slog.With("component", "ads"),
	}
	if c.version == "" {
		c.version = DefaultAPIVersion
	}
	if cfg.MaxRetries > 0 {
		c.maxRetries = uint64(cfg.MaxRetries)
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 2 * time.Minute
		return b
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		hc, err := google.DefaultClient(ctx, Scope)
		if err != nil {
			return nil, fmt.Errorf("create ads http client: %w", err)
		}
		c.http = hc
	}
	if cfg.Timeout > 0 {
		hc := *c.http
		hc.Timeout = cfg.Timeout
		c.http = &hc
	}

	return c, nil
}

// post sends body to path and decodes the response into out when it is not nil.
// Rate limiting and server errors are retried; everything else is final.
func (c *Client) post(ctx context.Context, operation string, target Target, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimLeft(path, "/"))

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		c.setHeaders(req, target)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		if m := metrics.Get(); m != nil {
			m.IncAPIRequests(operation, strconv.Itoa(resp.StatusCode))
		}

		if err := googleapi.CheckResponse(resp); err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying ads request", "operation", operation, "error", err, "wait", wait.String())
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(metrics.Labels{Operation: operation})
		}
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, target Target) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.developerToken)

	login := target.LoginCustomerID
	if login == "" {
		login = c.loginCustomerID
	}
	if login != "" {
		req.Header.Set("login-customer-id", login)
	}
}
