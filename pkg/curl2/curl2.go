// Package curl2 provides the public API for using curl2 as a library.
// It wraps the internal client with a stable, minimal API surface.
package curl2

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/request"
)

// Client executes requests through the curl binary.
type Client = fetch.Client

// Request describes one fetch.
type Request = request.Request

// Response is a fully buffered reply.
type Response = fetch.Response

// StreamResponse is a reply whose body is read as it arrives.
type StreamResponse = fetch.StreamResponse

// Config is the application configuration.
type Config = config.Config

// Form is a multipart/form-data body.
type Form = body.Form

// Error is the error type returned by every failed fetch.
type Error = fetcherr.Error

// Option customises a request built by the per-verb helpers.
type Option func(*Request)

// NewConfig creates a new default configuration.
func NewConfig() *Config {
	return config.NewDefaultConfig()
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// New creates a client for cfg, opening its cache store. Close releases it.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	return fetch.New(ctx, cfg)
}

// NewForm starts an empty multipart body.
func NewForm() *Form {
	return body.NewForm()
}

var defaultClient = sync.OnceValues(func() (*Client, error) {
	return fetch.New(context.Background(), config.NewDefaultConfig())
})

// Default returns the shared client built from the default configuration.
func Default() (*Client, error) {
	return defaultClient()
}

// NewRequest builds a request with opts applied.
func NewRequest(method, url string, payload any, opts ...Option) *Request {
	req := request.New(method, url)
	req.Body = payload
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Send builds a request and runs it on c.
func Send(ctx context.Context, c *Client, method, url string, payload any, opts ...Option) (*Response, error) {
	return c.Do(ctx, NewRequest(method, url, payload, opts...))
}

func send(ctx context.Context, method, url string, payload any, opts []Option) (*Response, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return Send(ctx, c, method, url, payload, opts...)
}

// Get issues a GET on the default client.
func Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodGet, url, nil, opts)
}

// Head issues a HEAD on the default client.
func Head(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodHead, url, nil, opts)
}

// Delete issues a DELETE on the default client.
func Delete(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodDelete, url, nil, opts)
}

// Options issues an OPTIONS on the default client.
func Options(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodOptions, url, nil, opts)
}

// Post issues a POST on the default client. payload follows the Request.Body rules.
func Post(ctx context.Context, url string, payload any, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodPost, url, payload, opts)
}

// Put issues a PUT on the default client.
func Put(ctx context.Context, url string, payload any, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodPut, url, payload, opts)
}

// Patch issues a PATCH on the default client.
func Patch(ctx context.Context, url string, payload any, opts ...Option) (*Response, error) {
	return send(ctx, http.MethodPatch, url, payload, opts)
}

// WithHeader appends a header, keeping any with the same name.
func WithHeader(name, value string) Option {
	return func(r *Request) { r.AddHeader(name, value) }
}

// WithProxy routes the request through proxy, in any accepted notation.
func WithProxy(proxy string) Option {
	return func(r *Request) { r.Proxy = proxy }
}

// WithTimeout bounds the whole transfer.
func WithTimeout(d time.Duration) Option {
	return func(r *Request) { r.Timeout = d }
}

// WithConnectTimeout bounds connection setup.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Request) { r.ConnectTimeout = d }
}

// WithHTTPVersion pins the protocol version, e.g. "2" or "3-only".
// An unknown name is ignored.
func WithHTTPVersion(version string) Option {
	return func(r *Request) {
		if v, err := request.ParseHTTPVersion(version); err == nil {
			r.HTTPVersion = v
		}
	}
}

// WithInsecure skips certificate verification.
func WithInsecure() Option {
	return func(r *Request) { r.TLS.Insecure = true }
}

// WithRedirects follows up to n redirects. Zero disables following.
func WithRedirects(n int) Option {
	return func(r *Request) {
		follow := n > 0
		r.Redirect = request.Redirect{Follow: &follow, Max: n}
	}
}

// WithRedirectResponses keeps every intermediate hop as a Response.
func WithRedirectResponses() Option {
	return func(r *Request) { r.RedirectObjects = true }
}

// WithCompression overrides the configured compression default.
func WithCompression(enabled bool) Option {
	return func(r *Request) { r.Compress = &enabled }
}

// WithHeaderOrder sends headers in the conventional browser order.
func WithHeaderOrder() Option {
	return func(r *Request) { r.HeaderOrder = true }
}

// WithDNSPin resolves the host ahead of time and pins the connection to it.
func WithDNSPin() Option {
	return func(r *Request) { r.DNS.Pin = true }
}

// WithCache enables caching for the request. A positive ttl overrides the
// store default.
func WithCache(ttl time.Duration) Option {
	return func(r *Request) {
		enabled := true
		r.Cache.Enabled = &enabled
		r.Cache.TTL = ttl
	}
}

// WithoutCache disables caching for the request.
func WithoutCache() Option {
	return func(r *Request) {
		enabled := false
		r.Cache.Enabled = &enabled
	}
}

// WithCacheKey replaces cache key derivation.
func WithCacheKey(fn func(ctx context.Context, req *Request) (string, error)) Option {
	return func(r *Request) { r.Cache.KeyFunc = fn }
}

// WithCacheValidator decides whether a fresh response may be cached.
func WithCacheValidator(fn func(resp request.ResponseView) bool) Option {
	return func(r *Request) { r.Cache.Validate = fn }
}
