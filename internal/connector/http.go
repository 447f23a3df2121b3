package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gogama/httpx"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/timeout"
	"github.com/gogama/reconnx"
)

// ClientOptions configures the httpx client shared by HTTP connectors.
type ClientOptions struct {
	Timeout time.Duration
	// Retry enables the httpx default retry policy. Retries stay inside
	// the connector; the caller still sees one verdict per Get.
	Retry   bool
	Latency reconnx.MachineConfig
	Logger  *slog.Logger
	Doer    httpx.HTTPDoer
}

// HTTPConnector issues GET requests against a single base URL.
type HTTPConnector struct {
	url    *url.URL
	client *httpx.Client
}

// HTTPResponse is the Response produced by an HTTPConnector.
type HTTPResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

// NewClient builds the httpx client with reconnx installed so connections to
// hosts with anomalous latency get recycled.
func NewClient(opts ClientOptions) *httpx.Client {
	retryPolicy := retry.Never
	if opts.Retry {
		retryPolicy = retry.DefaultPolicy
	}

	timeoutPolicy := timeout.DefaultPolicy
	if opts.Timeout > 0 {
		timeoutPolicy = timeout.Fixed(opts.Timeout)
	}

	client := &httpx.Client{
		HTTPDoer:      opts.Doer,
		TimeoutPolicy: timeoutPolicy,
		RetryPolicy:   retryPolicy,
	}

	var logger reconnx.Logger = reconnx.NopLogger{}
	if opts.Logger != nil {
		logger = printfLogger{logger: opts.Logger}
	}

	return reconnx.OnClient(client, reconnx.Config{
		Logger:  logger,
		Latency: opts.Latency,
	})
}

// NewHTTP creates a connector for base. A nil client falls back to one built
// from zero ClientOptions.
func NewHTTP(base *url.URL, client *httpx.Client) *HTTPConnector {
	if client == nil {
		client = NewClient(ClientOptions{})
	}
	return &HTTPConnector{
		url:    base,
		client: client,
	}
}

// ID returns the backend base URL.
func (c *HTTPConnector) ID() string {
	return c.url.String()
}

// URL returns the backend base URL.
func (c *HTTPConnector) URL() *url.URL {
	return c.url
}

// Get performs a GET on path relative to the base URL. A transport failure is
// returned as an error; any HTTP status is returned as a response.
func (c *HTTPConnector) Get(ctx context.Context, path string) (Response, error) {
	target := c.resolve(path)

	plan, err := request.NewPlanWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", target, err)
	}

	e, err := c.client.Do(plan)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}

	res := &HTTPResponse{
		statusCode: e.StatusCode(),
		body:       e.Body,
	}
	if e.Response != nil {
		res.header = e.Response.Header
	}

	return res, nil
}

func (c *HTTPConnector) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.url.String(), "/") + path
	}
	if c.url.Path != "" && c.url.Path != "/" && strings.HasPrefix(ref.Path, "/") {
		ref.Path = strings.TrimRight(c.url.Path, "/") + ref.Path
	}
	return c.url.ResolveReference(ref).String()
}

// Successful reports a 2xx status.
func (r *HTTPResponse) Successful() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// StatusCode returns the upstream HTTP status.
func (r *HTTPResponse) StatusCode() int {
	return r.statusCode
}

// Header returns the upstream response headers, possibly nil.
func (r *HTTPResponse) Header() http.Header {
	return r.header
}

// Body returns the fully read upstream body.
func (r *HTTPResponse) Body() []byte {
	return r.body
}

type printfLogger struct {
	logger *slog.Logger
}

func (l printfLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "reconnx"))
}
