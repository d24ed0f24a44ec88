package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// bearerTransport stamps every outbound request with the agent's API key.
type bearerTransport struct {
	token string
	next  http.RoundTripper
}

// WithAuth wraps a RoundTripper with bearer-token authorization.
func WithAuth(token string, next http.RoundTripper) http.RoundTripper {
	return &bearerTransport{token: token, next: next}
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}

// loggingTransport logs request method/URL and response status.
type loggingTransport struct {
	logger *slog.Logger
	next   http.RoundTripper
}

// WithLogging wraps a RoundTripper with request/response logging.
func WithLogging(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return &loggingTransport{logger: logger, next: next}
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.next.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Error("backend request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	l.logger.Info("backend request completed",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// retryTransport retries transient failures with exponential backoff. A 401
// or 403 is never retried: a bad API key does not heal on its own.
type retryTransport struct {
	maxRetries int
	next       http.RoundTripper
}

// WithRetry wraps a RoundTripper with retry logic for transient errors.
func WithRetry(maxRetries int, next http.RoundTripper) http.RoundTripper {
	return &retryTransport{maxRetries: maxRetries, next: next}
}

func (r *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err = r.next.RoundTrip(req)
		lastAttempt := attempt == r.maxRetries

		switch {
		case err != nil:
			if lastAttempt {
				return nil, err
			}
			sleepWithBackoff(attempt)

		case resp.StatusCode == http.StatusTooManyRequests:
			// The backend names its own pause via Retry-After.
			if lastAttempt {
				return resp, nil
			}
			delay := retryAfterDelay(resp)
			drainAndClose(resp.Body)
			time.Sleep(delay)

		case resp.StatusCode >= 500:
			if lastAttempt {
				return resp, nil
			}
			drainAndClose(resp.Body)
			sleepWithBackoff(attempt)

		default:
			// Success, or a client error retrying cannot fix.
			return resp, nil
		}
	}

	return resp, err
}

// sleepWithBackoff sleeps 1s, 2s, 4s, ... by attempt number.
func sleepWithBackoff(attempt int) {
	time.Sleep(time.Duration(1<<attempt) * time.Second)
}

// retryAfterDelay extracts the delay from a 429 response: the Retry-After
// header first, then the body's retry_after_seconds field.
func retryAfterDelay(resp *http.Response) time.Duration {
	const defaultDelay = 5 * time.Second

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	if resp.Body != nil {
		var errResp model.SnapshotErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if errResp.RetryAfterSeconds != nil && *errResp.RetryAfterSeconds > 0 {
				return time.Duration(*errResp.RetryAfterSeconds) * time.Second
			}
		}
	}

	return defaultDelay
}

// drainAndClose reads remaining body bytes and closes, preventing connection leaks.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

// ParseResponse turns a snapshot-ingest response into the decoded body or a
// status-specific error.
func ParseResponse(resp *http.Response) (*model.SnapshotResponse, error) {
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		var result model.SnapshotResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("transport: failed to decode 200 response: %w", err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("transport: authentication failed (HTTP %d)", resp.StatusCode)

	case resp.StatusCode == http.StatusPaymentRequired:
		var errResp model.SnapshotErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			msg := errResp.Message
			if errResp.RetryAfterSeconds != nil {
				msg = fmt.Sprintf("%s (retry after %ds)", msg, *errResp.RetryAfterSeconds)
			}
			return nil, fmt.Errorf("transport: quota exceeded: %s", msg)
		}
		return nil, fmt.Errorf("transport: quota exceeded (HTTP 402)")

	case resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("transport: agent deprecated (HTTP 410)")

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("transport: rate limited (HTTP 429)")

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("transport: server error (HTTP %d)", resp.StatusCode)

	default:
		return nil, fmt.Errorf("transport: unexpected status (HTTP %d)", resp.StatusCode)
	}
}
