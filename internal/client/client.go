package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Options configures a Client
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to transport failures and 502/503 answers of reads
	Retries int
	// RequestsPerSecond limits outgoing calls; zero is unlimited
	RequestsPerSecond float64
	UserAgent         string
}

// DefaultOptions returns settings for a local server
func DefaultOptions() Options {
	return Options{
		BaseURL:   "http://localhost:8000",
		Timeout:   60 * time.Second,
		Retries:   2,
		UserAgent: "fsbridgectl/1.0",
	}
}

// Client talks to the bridge HTTP API
type Client struct {
	baseURL string
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// APIError is a non-2xx answer of the server
type APIError struct {
	Status int
	// Code is the wire code; Name keeps codes outside the provider set
	// such as TOO_MANY_REQUESTS
	Code    types.ProviderError
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Name, e.Message)
}

// Unwrap exposes the wire code so errors.Is(err, types.CodeNotFound) works
func (e *APIError) Unwrap() error {
	return e.Code
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New creates a client
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	// pooled transport; resty does the retrying
	transport := retryablehttp.NewClient().HTTPClient.Transport

	r := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetTransport(transport).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", opts.UserAgent).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		AddRetryCondition(retryableRead)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}

	breaker := resilience.New("fsbridge-api", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// the server answered; only unreachable or failing servers count
			var apiErr *APIError
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
		},
	})

	return &Client{baseURL: strings.TrimRight(opts.BaseURL, "/"), resty: r, limiter: limiter, breaker: breaker}
}

func retryableRead(resp *resty.Response, err error) bool {
	if err != nil || resp == nil || resp.Request == nil {
		return false
	}
	if resp.Request.Method != http.MethodGet {
		return false
	}
	return resp.StatusCode() == http.StatusBadGateway || resp.StatusCode() == http.StatusServiceUnavailable
}

// SetHeader adds a default header
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// BreakerState reports whether calls are currently let through
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// call runs one request. out receives the JSON body of a 2xx answer.
func (c *Client) call(ctx context.Context, method, url string, build func(*resty.Request), out any) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *resty.Response
	err := c.breaker.Execute(func() error {
		c.mu.RLock()
		req := c.resty.R().SetContext(ctx).SetError(&errorBody{})
		c.mu.RUnlock()

		if out != nil {
			req.SetResult(out)
		}
		tracing.Inject(ctx, req.Header)
		if build != nil {
			build(req)
		}

		var err error
		resp, err = req.Execute(method, url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return apiError(resp)
		}
		return nil
	})
	return resp, err
}

func apiError(resp *resty.Response) error {
	e := &APIError{Status: resp.StatusCode(), Code: types.CodeFailed}
	if body, ok := resp.Error().(*errorBody); ok && body.Code != "" {
		e.Name = body.Code
		e.Message = body.Error
		if code, err := types.ParseProviderError(body.Code); err == nil {
			e.Code = code
		}
	}
	if e.Name == "" {
		e.Name = e.Code.String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(resp.String())
	}
	return e
}
