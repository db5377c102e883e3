// Package http builds pre-configured http.Client instances for the
// orchestrator's external collaborators (probe targets, Prometheus,
// the audit sink's remote backend) so timeout and transport tuning
// lives in one place instead of being repeated at each call site.
package http

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ClientConfig tunes the transport behind a collaborator's HTTP client.
type ClientConfig struct {
	Timeout                time.Duration
	MaxRetries             int
	DisableSSLVerification bool
	MaxIdleConns           int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
}

// DefaultClientConfig is a general-purpose baseline: moderate timeout,
// a handful of retries, TLS verification on.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// NewClient builds an *http.Client from config. When MaxRetries > 0,
// the client's RoundTripper retries a request that fails to reach the
// server at all (dial/TLS/timeout errors) with exponential backoff, up
// to MaxRetries attempts; non-2xx responses are returned as-is since
// only the caller knows whether a given status is retryable.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for self-signed probe targets
	}

	var rt http.RoundTripper = transport
	if config.MaxRetries > 0 {
		rt = &retryingRoundTripper{next: transport, maxRetries: config.MaxRetries}
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: rt,
	}
}

// retryingRoundTripper retries RoundTrip's transport-level errors
// (never a returned non-nil response) with exponential backoff. A
// request whose body cannot be replayed (no GetBody) is attempted
// once, since resending would otherwise silently send an empty body.
type retryingRoundTripper struct {
	next       http.RoundTripper
	maxRetries int
}

func (rt *retryingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	maxTries := uint(rt.maxRetries + 1)
	if req.Body != nil && req.GetBody == nil {
		maxTries = 1
	}

	return backoff.Retry(req.Context(), func() (*http.Response, error) {
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Body = body
		}
		resp, err := rt.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}, backoff.WithMaxTries(maxTries))
}

// NewClientWithTimeout builds a client from DefaultClientConfig with
// only the timeout overridden.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	return NewClient(config)
}

// NewDefaultClient builds a client from DefaultClientConfig as-is.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// AuditSinkClientConfig tunes the client used by the audit sink's
// remote backend: short timeout, few retries, so a wedged audit
// endpoint never backs up the flush worker for long.
func AuditSinkClientConfig() ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = 10 * time.Second
	config.MaxRetries = 2
	return config
}

// PrometheusClientConfig tunes the client used by the production
// ObservabilityCollector backend. ResponseHeaderTimeout is half the
// overall timeout so a slow query server fails fast enough to retry
// within the caller's deadline.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 2
	return config
}

// ProbeClientConfig tunes a client for HTTP probe targets.
// ResponseHeaderTimeout is a third of the overall timeout. The probe
// executor in pkg/probe does not use this config; it sends through
// http.DefaultClient and does not retry.
func ProbeClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 3
	return config
}
