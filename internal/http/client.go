package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// Client is a shared, keep-alive HTTP client that records a timing
// breakdown for every request.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	headers    map[string]string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options
func NewClient(options ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false,
	}
	client := &Client{
		transport: transport,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		headers: make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.headers["User-Agent"] = ua
		}
	}
}

// WithConnLimits bounds the keep-alive pool. Zero leaves a limit unchanged.
func WithConnLimits(maxIdlePerHost, maxPerHost int) ClientOption {
	return func(c *Client) {
		if maxIdlePerHost > 0 {
			c.transport.MaxIdleConnsPerHost = maxIdlePerHost
		}
		if maxPerHost > 0 {
			c.transport.MaxConnsPerHost = maxPerHost
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		if skip {
			c.transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
	}
}

// Get issues a GET request with no query and no body.
//
// A transport error is returned together with a Response carrying whatever
// timings were observed before the failure.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Response{}, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

// Do executes req and returns the response with detailed timing information.
// The body is read fully and closed.
func (c *Client) Do(req *http.Request) (*Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	tr := &tracer{start: time.Now()}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), tr.clientTrace()))

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return &Response{Timings: tr.timings(time.Now())}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	end := time.Now()

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Timings:    tr.timings(end),
	}
	if err != nil {
		return resp, fmt.Errorf("read body: %w", err)
	}
	return resp, nil
}

// CloseIdleConnections closes keep-alive connections not in use.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// tracer collects httptrace timestamps. Dial callbacks may fire on a
// different goroutine than the caller, hence the mutex.
type tracer struct {
	mu sync.Mutex

	start        time.Time
	gotConn      time.Time
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	firstByte    time.Time
}

func (t *tracer) mark(dst *time.Time) func() {
	return func() {
		t.mu.Lock()
		if dst.IsZero() {
			*dst = time.Now()
		}
		t.mu.Unlock()
	}
}

func (t *tracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { t.mark(&t.dnsStart)() },
		DNSDone:  func(httptrace.DNSDoneInfo) { t.mark(&t.dnsDone)() },
		ConnectStart: func(string, string) {
			t.mark(&t.connectStart)()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				t.mark(&t.connectDone)()
			}
		},
		TLSHandshakeStart: func() { t.mark(&t.tlsStart)() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				t.mark(&t.tlsDone)()
			}
		},
		GotConn:              func(httptrace.GotConnInfo) { t.mark(&t.gotConn)() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.mark(&t.wroteRequest)() },
		GotFirstResponseByte: t.mark(&t.firstByte),
	}
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

// timings derives the breakdown. Duration is sending + waiting + receiving;
// time spent acquiring a connection is reported separately.
func (t *tracer) timings(end time.Time) Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm := Timings{
		Blocked:        span(t.start, t.gotConn),
		LookingUp:      span(t.dnsStart, t.dnsDone),
		Connecting:     span(t.connectStart, t.connectDone),
		TLSHandshaking: span(t.tlsStart, t.tlsDone),
		Sending:        span(t.gotConn, t.wroteRequest),
		Waiting:        span(t.wroteRequest, t.firstByte),
		Receiving:      span(t.firstByte, end),
	}

	switch {
	case !t.firstByte.IsZero():
		tm.Duration = tm.Sending + tm.Waiting + tm.Receiving
	case !t.gotConn.IsZero():
		tm.Duration = span(t.gotConn, end)
	default:
		tm.Duration = span(t.start, end)
	}
	return tm
}
