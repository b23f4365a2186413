// Package httpapi is the outbound HTTP adapter: it executes resolved
// upstream requests and runs OAuth2 password-grant token refreshes.
package httpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/actionbridge/actionbridge/internal/domain/action"
	"github.com/actionbridge/actionbridge/internal/port/outbound"
)

// maxResponseBodySize caps upstream response bodies to prevent OOM from a
// misbehaving remote.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// CallObserver receives one sample per upstream round-trip, for metrics.
// status is the HTTP status code as text, or "timeout"/"transport".
type CallObserver func(system, status string, seconds float64)

// Caller executes upstream HTTP calls. It folds every failure mode into
// the action.CallResult union so the executor never sees a Go error.
type Caller struct {
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
	observe CallObserver
}

// CallerOption is a functional option for configuring Caller.
type CallerOption func(*Caller)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) CallerOption {
	return func(c *Caller) {
		c.client = client
	}
}

// WithLogger sets the caller's logger.
func WithLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) {
		c.logger = logger
	}
}

// WithCallObserver registers a per-call metrics callback.
func WithCallObserver(fn CallObserver) CallerOption {
	return func(c *Caller) {
		c.observe = fn
	}
}

// NewCaller creates an upstream caller with a TLS 1.2+ pooled transport.
// Per-call deadlines come from the request, not the client, so paginated
// calls can carry a longer budget per page.
func NewCaller(opts ...CallerOption) *Caller {
	c := &Caller{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
		tracer: otel.Tracer("actionbridge/upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one upstream round-trip. The request URL and headers arrive
// fully resolved; Call only encodes the query/body, applies the deadline,
// and maps the response into a CallResult.
func (c *Caller) Call(ctx context.Context, req outbound.Request) action.CallResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = outbound.SingleCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "upstream.call", trace.WithAttributes(
		attribute.String("upstream.system", req.System),
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	start := time.Now()
	sample := func(status string) {
		if c.observe != nil {
			c.observe(req.System, status, time.Since(start).Seconds())
		}
		span.SetAttributes(attribute.String("upstream.status", status))
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		sample("transport")
		return action.TransportErr(err.Error())
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("upstream call timed out",
				"method", req.Method, "url", req.URL, "timeout", timeout)
			sample("timeout")
			return action.TimeoutErr()
		}
		c.logger.Warn("upstream call failed",
			"method", req.Method, "url", req.URL, "error", err)
		sample("transport")
		return action.TransportErr(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		if isTimeout(err) {
			sample("timeout")
			return action.TimeoutErr()
		}
		sample("transport")
		return action.TransportErr(fmt.Sprintf("read response: %v", err))
	}

	sample(strconv.Itoa(resp.StatusCode))

	data := parseBody(body)

	c.logger.Debug("upstream call",
		"method", req.Method, "url", req.URL,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("upstream status %d", resp.StatusCode))
		return action.UpstreamErr(resp.StatusCode, data,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}
	return action.Ok(resp.StatusCode, data)
}

// buildRequest encodes the query and body onto an *http.Request.
func (c *Caller) buildRequest(ctx context.Context, req outbound.Request) (*http.Request, error) {
	target := req.URL
	if len(req.Query) > 0 {
		values := url.Values{}
		for k, v := range req.Query {
			values.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + values.Encode()
	}

	var body io.Reader
	contentType := ""
	if req.Body != nil {
		if action.IsJSONContent(req.ContentType) {
			raw, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			body = bytes.NewReader(raw)
			contentType = "application/json"
			if req.ContentType != "" {
				contentType = req.ContentType
			}
		} else {
			values := url.Values{}
			for k, v := range req.Body {
				values.Set(k, action.Stringify(v))
			}
			body = strings.NewReader(values.Encode())
			contentType = req.ContentType
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// parseBody JSON-decodes a response body, falling back to a text wrapper
// when the upstream sent something that is not JSON.
func parseBody(body []byte) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]interface{}{"text": ""}
	}
	var data interface{}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return map[string]interface{}{"text": string(body)}
	}
	return data
}

// isTimeout reports whether err is a deadline expiry rather than a
// connection-level failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Compile-time check that Caller implements the outbound port.
var _ outbound.Caller = (*Caller)(nil)
