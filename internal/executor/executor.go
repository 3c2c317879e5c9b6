package executor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/studiowebux/taskload/internal/types"
)

const (
	// HTTP client configuration timeouts
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second

	// DefaultRequestTimeout applies when Options.Timeout is zero
	DefaultRequestTimeout = 10 * time.Second

	// RequestIDHeader carries a fresh identifier on every request
	RequestIDHeader = "X-Request-ID"
)

// Options configures the shared client
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	MaxConns  int // sizes the connection pool, usually the number of virtual users
	TLS       *types.TLSConfig
	UserAgent string
}

// Response is what a single request produced
type Response struct {
	Method       string
	URL          string
	RequestID    string
	Status       int // zero when no response was received
	StatusText   string
	Body         []byte
	Duration     time.Duration
	RequestSize  int
	ResponseSize int
}

// Client issues requests against the target service. It is safe for
// concurrent use by every virtual user.
type Client struct {
	rc      *resty.Client
	baseURL string
}

// NewClient builds a client with connection pooling sized for the load
func NewClient(opts Options) (*Client, error) {
	httpClient, err := buildHTTPClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	rc := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetRetryCount(0)
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{rc: rc, baseURL: baseURL}, nil
}

// Do sends one request. A non-nil body is sent as JSON. The error is non-nil
// only when no response was received (connection failure, timeout,
// cancellation); any HTTP status is a valid Response. A request that was
// sent but got no response still returns a Response with a zero Status and
// the time spent waiting.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	requestID := uuid.NewString()
	req := c.rc.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, requestID).
		SetHeader("Accept", "application/json")

	requestSize := 0
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		requestSize = len(payload)
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	out := &Response{
		Method:      method,
		URL:         c.baseURL + path,
		RequestID:   requestID,
		Duration:    time.Since(start),
		RequestSize: requestSize,
	}
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}

	out.Status = resp.StatusCode()
	out.StatusText = resp.Status()
	out.Body = resp.Body()
	out.ResponseSize = len(out.Body)
	return out, nil
}

// buildHTTPClient creates an HTTP client tuned for load generation with
// optional TLS/mTLS configuration
func buildHTTPClient(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	conns := opts.MaxConns
	if conns <= 0 {
		conns = 1
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		MaxConnsPerHost:     conns * 2,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}

	if !opts.TLS.IsZero() {
		tlsCfg, err := buildTLSConfig(opts.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

func buildTLSConfig(cfg *types.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	// Client certificate for mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = caCertPool
	}

	return tlsCfg, nil
}

// FormatSize formats byte size to human-readable string
func FormatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	if bytes < 1024*1024 {
		return fmt.Sprintf("%.2fKB", float64(bytes)/1024.0)
	}
	return fmt.Sprintf("%.2fMB", float64(bytes)/(1024.0*1024.0))
}

// IsSuccessStatus returns true if status code is 2xx
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// IsClientErrorStatus returns true if status code is 4xx
func IsClientErrorStatus(status int) bool {
	return status >= 400 && status < 500
}

// IsServerErrorStatus returns true if status code is 5xx
func IsServerErrorStatus(status int) bool {
	return status >= 500 && status < 600
}
