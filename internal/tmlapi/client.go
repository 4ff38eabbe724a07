package tmlapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/tracing"
)

// Header names of the TML wire protocol.
const (
	HeaderProvider  = "X-Provider"
	HeaderClientID  = "X-ClientId"
	HeaderEventType = "X-EventType"
	HeaderEventID   = "X-EventId"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Hmac-Sha256"
	HeaderTraceID   = "X-Trace-Id"
)

const (
	DefaultProvider = "MAGENTO"
	DefaultTimeout  = 8 * time.Second

	maxResponseBody = 64 << 10
)

// Doer is the subset of *http.Client the API client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a completed 2xx exchange.
type Response struct {
	Status int
	Body   []byte
}

// Client posts JSON to the TML API. Calls go through an optional circuit
// breaker; only transport faults and 5xx responses count against it.
type Client struct {
	doer    Doer
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

type ClientOption func(*Client)

func WithDoer(d Doer) ClientOption {
	return func(c *Client) { c.doer = d }
}

func WithBreaker(cb *gobreaker.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{doer: &http.Client{}, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewBreaker opens after maxFailures consecutive failures and half-opens
// after openTimeout.
func NewBreaker(name string, maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: breakerSuccess,
	})
}

func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status < 500
}

// Post sends body to url with the given headers. A non-2xx status returns
// *HTTPError; a request that got no response returns *TransportError.
func (c *Client) Post(ctx context.Context, url string, body []byte, header http.Header) (Response, error) {
	ctx, span := tracing.StartSpan(ctx, "tmlapi.post", attribute.String("http.url", url))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	call := func() (interface{}, error) { return c.do(ctx, url, body, header) }

	var (
		out interface{}
		err error
	)
	if c.breaker != nil {
		out, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &TransportError{Err: err}
		}
	} else {
		out, err = call()
	}

	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			span.SetAttributes(attribute.Int("http.status_code", httpErr.Status))
		}
		tracing.SetSpanError(ctx, err)
		return Response{}, err
	}
	resp := out.(Response)
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	return resp, nil
}

func (c *Client) do(ctx context.Context, url string, body []byte, header http.Header) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHTTP(ctx, req.Header)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set(HeaderTraceID, traceID)
	}

	res, err := c.doer.Do(req)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Response{}, &HTTPError{Status: res.StatusCode, Body: string(b)}
	}
	return Response{Status: res.StatusCode, Body: b}, nil
}
