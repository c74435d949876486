package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/brokerage-tools/chronos/internal/ratelimit"
)

// DefaultMaxRetries is the retry budget against 429 responses. Each retry
// re-enters admission, so a retried call still respects the ceilings.
const DefaultMaxRetries = 3

// Governor is the admission interface the executor depends on.
type Governor interface {
	Admit(ctx context.Context, class ratelimit.EndpointClass) error
	Reconcile(class ratelimit.EndpointClass, header http.Header)
}

// Executor wraps a RequestIssuer with admission control, quota
// reconciliation, bounded 429 retry, and error classification. All provider
// traffic flows through Execute.
type Executor struct {
	issuer     RequestIssuer
	governor   Governor
	maxRetries int
	logger     *slog.Logger
}

// NewExecutor creates an executor. maxRetries < 0 selects DefaultMaxRetries;
// zero disables retrying.
func NewExecutor(issuer RequestIssuer, governor Governor, maxRetries int, logger *slog.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		issuer:     issuer,
		governor:   governor,
		maxRetries: maxRetries,
		logger:     logger.With("component", "request_executor"),
	}
}

// errorBody is the provider's JSON error shape. Order rejections add orderId
// and the order records involved.
type errorBody struct {
	Code    json.Number   `json:"code"`
	Message string        `json:"message"`
	OrderID int64         `json:"orderId"`
	Orders  []OrderRecord `json:"orders"`
}

// Execute admits, issues, and classifies one call. On 429 it waits the
// server-advertised Retry-After (or a backoff fallback) and retries up to the
// configured budget; sustained throttling surfaces as RateLimitError.
func (e *Executor) Execute(ctx context.Context, method, path string, query url.Values) (*Response, error) {
	class := ratelimit.ClassifyEndpoint(path)
	requestID := uuid.NewString()
	log := e.logger.With("request_id", requestID, "method", method, "path", path, "class", string(class))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Reset()

	var lastRetryAfter time.Duration
	for attempt := 0; ; attempt++ {
		if err := e.governor.Admit(ctx, class); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := e.issuer.Issue(ctx, method, path, query)
		if err != nil {
			return nil, err
		}
		e.governor.Reconcile(class, resp.Header)

		if resp.StatusCode != http.StatusTooManyRequests {
			log.Debug("request completed",
				"status", resp.StatusCode,
				"attempt", attempt,
				"duration", time.Since(start))
			return e.classify(resp)
		}

		lastRetryAfter = retryDelay(resp.Header, bo)
		if attempt >= e.maxRetries {
			log.Warn("retry budget exhausted", "attempts", attempt+1)
			return nil, NewRateLimitError(rateLimitMessage(resp.Body), lastRetryAfter)
		}

		log.Debug("throttled, backing off",
			"attempt", attempt,
			"retry_after", lastRetryAfter)

		timer := time.NewTimer(lastRetryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// classify maps a non-429 response to the error taxonomy, or passes a clean
// response through. A 2xx body that carries an order rejection shape is still
// an error: the provider reports some order failures with a success status.
func (e *Executor) classify(resp *Response) (*Response, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		var eb errorBody
		code := CodeInvalidToken
		message := "access token rejected"
		if json.Unmarshal(resp.Body, &eb) == nil && eb.Message != "" {
			message = eb.Message
			if c, err := eb.Code.Int64(); err == nil && c != 0 {
				code = int(c)
			}
		}
		return nil, NewAuthError(code, message, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if json.Unmarshal(resp.Body, &eb) == nil && eb.Message != "" {
			code := fallbackCode(resp.StatusCode)
			if c, err := eb.Code.Int64(); err == nil && c != 0 {
				code = int(c)
			}
			if eb.OrderID != 0 || len(eb.Orders) > 0 {
				return nil, NewOrderError(code, eb.Message, resp.StatusCode, eb.OrderID, eb.Orders)
			}
			return nil, NewGeneralError(code, eb.Message, resp.StatusCode)
		}
		return nil, NewGeneralError(fallbackCode(resp.StatusCode), http.StatusText(resp.StatusCode), resp.StatusCode)
	}

	var eb errorBody
	if json.Unmarshal(resp.Body, &eb) == nil && eb.OrderID != 0 {
		if c, err := eb.Code.Int64(); err == nil && c != 0 {
			return nil, NewOrderError(int(c), eb.Message, resp.StatusCode, eb.OrderID, eb.Orders)
		}
	}

	return resp, nil
}

// fallbackCode picks a provider code for error bodies that carry none.
func fallbackCode(statusCode int) int {
	switch statusCode {
	case http.StatusNotFound:
		return CodeInvalidEndpoint
	case http.StatusBadRequest:
		return CodeMalformedArgument
	default:
		return CodeUnexpected
	}
}

// retryDelay prefers the server's Retry-After header, falling back to the
// exponential schedule when the header is absent or unparseable.
func retryDelay(header http.Header, bo backoff.BackOff) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return bo.NextBackOff()
}

// rateLimitMessage extracts the provider's message from a 429 body, when one
// is present.
func rateLimitMessage(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
		return eb.Message
	}
	return "rate limit exceeded"
}
