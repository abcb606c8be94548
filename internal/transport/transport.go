// Package transport is the HTTP layer shared by the login providers. It maps
// connection failures and malformed bodies onto the mcauth error taxonomy.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/metrics"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "mcauth"
)

var (
	log = logrus.WithField("module", "transport")
)

type Client struct {
	r *resty.Client
}

type Option func(*Client)

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.r.SetHeader("User-Agent", userAgent)
	}
}

// New wraps httpClient. A nil client gets a fresh one with DefaultTimeout.
func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	r := resty.NewWithClient(httpClient).
		SetLogger(log).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", DefaultUserAgent)
	c := &Client{r: r}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get sends query as URL parameters.
func (c *Client) Get(ctx context.Context, op, url string, query map[string]string) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetQueryParams(query)
	return c.send(op, url, http.MethodGet, req)
}

// PostForm sends form as an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, op, url string, form map[string]string) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetFormData(form)
	return c.send(op, url, http.MethodPost, req)
}

// PostJSON marshals body as JSON.
func (c *Client) PostJSON(ctx context.Context, op, url string, body any, headers map[string]string) (*Response, error) {
	req := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body)
	return c.send(op, url, http.MethodPost, req)
}

func (c *Client) send(op, url, method string, req *resty.Request) (*Response, error) {
	start := time.Now()
	resp, err := req.Execute(method, url)
	metrics.ExchangeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeRequests.WithLabelValues(op, metrics.StatusError).Inc()
		log.WithError(err).WithField("op", op).Debug("error sending request")
		return nil, &mcauth.TransportError{Op: op, Err: err}
	}
	metrics.ExchangeRequests.WithLabelValues(op, statusClass(resp.StatusCode())).Inc()
	log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode()}).Debug("response received")
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// DecodeJSON unmarshals data into out, reporting failures as *mcauth.DecodeError.
func DecodeJSON(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		log.WithError(err).WithField("op", op).Debug("error unmarshaling response")
		return &mcauth.DecodeError{Op: op, Err: err}
	}
	return nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
