package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/observability"
)

// ProcessMessagePath is the digital certificate app endpoint that receives certificate tokens.
const ProcessMessagePath = "/api/cartier/process-message"

// maxErrorBodyBytes bounds how much of a non-2xx response body is kept for logs.
const maxErrorBodyBytes = 512

// StatusError is returned when the digital certificate app answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("digital certificate app returned non-2xx status: %d: %s", e.StatusCode, e.Body)
	}

	return fmt.Sprintf("digital certificate app returned non-2xx status: %d", e.StatusCode)
}

// Retryable reports whether repeating the call could succeed (5xx, 408 and 429).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// ProcessMessageSender delivers one certificate token to the digital certificate app.
type ProcessMessageSender interface {
	ProcessMessage(ctx context.Context, req models.ProcessMessageRequest) error
}

// DigitalCertClientOptions configures the digital certificate app client.
type DigitalCertClientOptions struct {
	// BaseURL is DIGITAL_CERT_APP_URL; ProcessMessagePath is appended to it.
	BaseURL string
	// Timeout bounds each HTTP attempt (default: 15 seconds).
	Timeout time.Duration
	// RetryMax is the number of retries on transport errors, 5xx and 429 (default: 0, no retry).
	RetryMax int
	// RateLimit caps requests per second; 0 disables limiting.
	RateLimit float64
	// Metrics may be nil.
	Metrics observability.RelayMetrics
}

// DigitalCertClient POSTs certificate tokens to the digital certificate app.
type DigitalCertClient struct {
	endpoint   string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	metrics    observability.RelayMetrics
}

// NewDigitalCertClient creates a client for the digital certificate app.
func NewDigitalCertClient(opts DigitalCertClientOptions) *DigitalCertClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // disable retryablehttp's default logger; we log at the relay layer
	// Hand the final response back so non-2xx statuses are reported with their code.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(retryClient.HTTPClient.Transport)

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &DigitalCertClient{
		endpoint:   strings.TrimSuffix(opts.BaseURL, "/") + ProcessMessagePath,
		httpClient: retryClient,
		limiter:    limiter,
		metrics:    opts.Metrics,
	}
}

// Endpoint returns the full process-message URL.
func (c *DigitalCertClient) Endpoint() string {
	return c.endpoint
}

// ProcessMessage POSTs {transactionHash, ct}. Any non-2xx response is a *StatusError.
func (c *DigitalCertClient) ProcessMessage(ctx context.Context, body models.ProcessMessageRequest) error {
	start := time.Now()

	err := c.send(ctx, body)

	if c.metrics != nil {
		c.metrics.RecordForward(ctx, forwardResult(err), time.Since(start))
	}

	return err
}

func (c *DigitalCertClient) send(ctx context.Context, body models.ProcessMessageRequest) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", errRateLimited, err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal process message request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send process message request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.WarnContext(ctx, "failed to close digital certificate app response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if readErr != nil {
			slog.WarnContext(ctx, "failed to read digital certificate app error body", "error", readErr)
		}

		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return nil
}

var errRateLimited = errors.New("rate limiter wait failed")

// forwardResult maps a ProcessMessage error to a bounded metric label.
func forwardResult(err error) string {
	if err == nil {
		return "success"
	}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return "non_2xx"
	case errors.Is(err, errRateLimited):
		return "rate_limit"
	default:
		return "transport"
	}
}
