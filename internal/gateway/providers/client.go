package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 64 * 1024

// Client sends calls to one provider. A Client is immutable; the registry
// swaps in a new one on reconfiguration.
type Client struct {
	cfg     Config
	family  Family
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func newClient(cfg Config, family Family) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg:     cfg,
		family:  family,
		http:    &http.Client{Transport: transport},
		limiter: newLimiter(cfg),
		now:     time.Now,
	}
}

// withConfig returns a client sharing the connection pool of c.
func (c *Client) withConfig(cfg Config) *Client {
	next := *c
	next.cfg = cfg
	if cfg.RequestsPerSecond != c.cfg.RequestsPerSecond || cfg.Burst != c.cfg.Burst {
		next.limiter = newLimiter(cfg)
	}
	return &next
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Config returns the normalized provider configuration.
func (c *Client) Config() Config { return c.cfg }

// Name returns the provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Family returns the wire convention used by this provider.
func (c *Client) Family() Family { return c.family }

// Prepare transforms a canonical request for this provider.
func (c *Client) Prepare(op Operation, endpoint string, req Request) (*Call, error) {
	return c.family.Transform(op, endpoint, req, c.cfg)
}

// Do performs one unary attempt bounded by the provider timeout and
// normalizes the result.
func (c *Client) Do(ctx context.Context, op Operation, call *Call, headers map[string]string) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.send(ctx, call, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderRequestError{Provider: c.cfg.Name, Err: fmt.Errorf("read body: %w", err)}
	}

	out := c.family.Normalize(op, body, c.cfg.Name, c.now())
	if out.Model == "" {
		out.Model = call.Model
	}
	return out, nil
}

// Stream opens a streaming attempt. Only the wait for the response headers
// is bound by the provider timeout; the body is read by the caller and the
// request is released when the stream is closed.
func (c *Client) Stream(ctx context.Context, call *Call, headers map[string]string) (StreamReader, error) {
	ctx, cancel := context.WithCancel(ctx)

	var timer *time.Timer
	if c.cfg.Timeout > 0 {
		timer = time.AfterFunc(c.cfg.Timeout, cancel)
	}

	resp, err := c.send(ctx, call, headers)
	if timer != nil && !timer.Stop() && err == nil {
		resp.Body.Close()
		err = &ProviderRequestError{Provider: c.cfg.Name, Err: context.DeadlineExceeded}
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{StreamReader: c.family.NewStream(resp.Body, call.Model), cancel: cancel}, nil
}

type cancelOnClose struct {
	StreamReader
	cancel context.CancelFunc
}

func (s *cancelOnClose) Close() error {
	err := s.StreamReader.Close()
	s.cancel()
	return err
}

func (c *Client) send(ctx context.Context, call *Call, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ProviderRequestError{Provider: c.cfg.Name, Err: err}
		}
	}

	reqBody, err := json.Marshal(call.Payload)
	if err != nil {
		return nil, &ProviderRequestError{Provider: c.cfg.Name, Err: fmt.Errorf("encode payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+call.Path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderRequestError{Provider: c.cfg.Name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if call.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	// credentials always win over caller headers
	c.family.Authorize(httpReq.Header, c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ProviderRequestError{Provider: c.cfg.Name, Err: err}
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &ProviderRequestError{
			Provider:   c.cfg.Name,
			StatusCode: httpResp.StatusCode,
			Body:       string(respBody),
		}
	}
	return httpResp, nil
}

func (c *Client) closeIdle() {
	c.http.CloseIdleConnections()
}
