package signing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/shared"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxAttempts is the maximum number of attempts (1 original + 4 retries)
	// per spec §4.1's retry policy.
	MaxAttempts = 5

	// DefaultAttemptTimeout is the per-attempt HTTP timeout (spec §5).
	DefaultAttemptTimeout = 30 * time.Second

	maxResponseBody = 1 << 20 // 1 MiB cap on bodies we buffer for error mapping
)

var idempotentMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// Client issues signed requests against one back-end host family, sharing a
// connection pool and an optional per-host circuit breaker across tenants.
// Retry/backoff and typed error mapping are adapted from the teacher's
// internal/mcpserver/client.HTTPClient.doWithRetry state machine; the
// signing step itself is new (spec §4.1).
type Client struct {
	httpClient *http.Client
	breakers   *shared.BreakerRegistry
	scheme     string // "https" in production; overridable in tests
}

// NewClient creates a Client with keep-alive pooling and TLS >= 1.2, bounded
// per-attempt timeout. One Client may be shared by many tenants; signing
// inputs (the Bundle) are supplied per-call, not baked into the Client.
func NewClient(breakers *shared.BreakerRegistry) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultAttemptTimeout},
		breakers:   breakers,
		scheme:     "https",
	}
}

// NewClientWithScheme is NewClient with an overridable scheme, used by tests
// to point the client at a plaintext httptest server.
func NewClientWithScheme(breakers *shared.BreakerRegistry, scheme string) *Client {
	c := NewClient(breakers)
	c.scheme = scheme
	return c
}

// Request describes one call to make through the signed client.
type Request struct {
	Method       string
	Path         string // path + query, WITHOUT accountSwitchKey (added automatically)
	Body         []byte
	ContentType  string
	Idempotent   bool // for POST: explicitly marked safe to retry
	ExtraHeaders map[string]string
}

// Response is the decoded result of a signed call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RateLimit  RateLimitInfo
}

// Do signs and sends req against bundle, retrying per spec §4.1, and wraps
// failures into gwerrors.Error. ctx supplies the deadline; each attempt gets
// its own sub-timeout bounded by DefaultAttemptTimeout.
func (c *Client) Do(ctx context.Context, bundle *Bundle, req Request) (*Response, error) {
	if err := bundle.Validate(); err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, err.Error(), nil)
	}

	path := req.Path
	if bundle.AccountSwitchKey != "" {
		path = appendAccountSwitchKey(path, bundle.AccountSwitchKey)
	}

	retryable := idempotentMethods[req.Method] || (req.Method == http.MethodPost && req.Idempotent)

	logger := log.With().Str("host", bundle.Host).Str("method", req.Method).Str("path", path).Logger()

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, bundle, req, path, &logger)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		gwErr, ok := err.(*gwerrors.Error)
		if !ok || !gwErr.Kind.Retryable() || !retryable || attempt == MaxAttempts-1 {
			return nil, err
		}

		wait := c.waitFor(gwErr, attempt)
		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying signed request")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, gwerrors.New(gwerrors.KindTimeout, "context cancelled during retry backoff", nil)
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, bundle *Bundle, req Request, path string, logger *zerolog.Logger) (*Response, error) {
	exec := func() (any, error) {
		return c.doOnce(ctx, bundle, req, path)
	}

	if c.breakers != nil {
		key := bundle.Host
		result, err := c.breakers.Execute(key, exec)
		if err != nil {
			if err.Error() == "circuit breaker is open" {
				return nil, gwerrors.New(gwerrors.KindTransient, "circuit breaker open for "+key, nil)
			}
			return nil, err
		}
		return result.(*Response), nil
	}

	result, err := exec()
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Client) doOnce(ctx context.Context, bundle *Bundle, req Request, path string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, DefaultAttemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s://%s%s", c.scheme, bundle.Host, path)
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, url, bodyReader)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "building request: "+err.Error(), nil)
	}
	for k, v := range req.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	authHeader, _, err := AuthHeader(bundle, SigningInputs{
		Method:      req.Method,
		Scheme:      c.scheme,
		Host:        bundle.Host,
		RelativeURL: path,
		Body:        req.Body,
	})
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "signing request: "+err.Error(), nil)
	}
	httpReq.Header.Set("Authorization", authHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isConnReset(err) {
			return nil, gwerrors.New(gwerrors.KindTransient, "connection error: "+err.Error(), nil)
		}
		if attemptCtx.Err() != nil {
			return nil, gwerrors.New(gwerrors.KindTimeout, "request deadline exceeded", nil)
		}
		return nil, gwerrors.New(gwerrors.KindTransient, err.Error(), nil)
	}

	body, readErr := ReadBodyLimited(resp, maxResponseBody)
	if readErr != nil {
		return nil, gwerrors.New(gwerrors.KindTransient, "reading response body: "+readErr.Error(), nil)
	}

	rl := ParseRateLimitHeaders(resp.Header)
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, RateLimit: rl}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return out, nil
	}

	kind := MapStatus(resp.StatusCode)
	gwErr := gwerrors.New(kind, fmt.Sprintf("back end returned HTTP %d", resp.StatusCode), map[string]any{
		"status": resp.StatusCode,
	})
	if resp.StatusCode == http.StatusTooManyRequests {
		gwErr.Data["retryAfter"] = retryAfterSeconds(resp.Header)
		gwErr.Data["rateLimit"] = rl
	}
	if problem := DecodeProblem(resp, body); problem != nil {
		gwErr = gwErr.WithProblem(problem)
	}
	return nil, gwErr
}

// waitFor computes the backoff delay for the given failed attempt, honoring
// Retry-After / rate-limit reset for 429s per spec §4.1.
func (c *Client) waitFor(err *gwerrors.Error, attempt int) time.Duration {
	if err.Kind == gwerrors.KindRateLimited {
		if ra, ok := err.Data["retryAfter"].(int); ok && ra > 0 {
			return time.Duration(ra) * time.Second
		}
		if rl, ok := err.Data["rateLimit"].(RateLimitInfo); ok && rl.Present && rl.Remaining == 0 {
			if rl.Reset > 0 {
				until := time.Until(time.Unix(rl.Reset, 0))
				if until > 0 {
					return until + time.Second
				}
			}
			return 60 * time.Second
		}
	}
	return shared.NextDelay(attempt, 1*time.Second, 16*time.Second)
}

func retryAfterSeconds(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}

func isConnReset(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return true
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// appendAccountSwitchKey adds accountSwitchKey=<id> as a query parameter
// before canonicalization, per spec §4.1 step 8 (it must not be added to
// headers).
func appendAccountSwitchKey(path, key string) string {
	sep := "?"
	if len(path) > 0 {
		for _, c := range path {
			if c == '?' {
				sep = "&"
				break
			}
		}
	}
	return path + sep + "accountSwitchKey=" + key
}
