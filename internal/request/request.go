// Package request defines the typed request descriptor consumed by the command
// builder and the fetch orchestrator.
package request

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aslarex/go-curl2/internal/proxyurl"
)

// Header is one ordered request header pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPVersion is the caller's protocol preference.
type HTTPVersion int

const (
	// Auto lets the builder pick HTTP/2 when the transport supports it, else HTTP/1.1.
	Auto HTTPVersion = iota
	HTTP1_0
	HTTP1_1
	HTTP2
	HTTP2PriorKnowledge
	HTTP3
	HTTP3Only
)

func (v HTTPVersion) String() string {
	switch v {
	case HTTP1_0:
		return "1.0"
	case HTTP1_1:
		return "1.1"
	case HTTP2:
		return "2"
	case HTTP2PriorKnowledge:
		return "2-prior-knowledge"
	case HTTP3:
		return "3"
	case HTTP3Only:
		return "3-only"
	default:
		return "auto"
	}
}

// ParseHTTPVersion parses the textual forms produced by HTTPVersion.String,
// also accepting "http/1.1"-style prefixes.
func ParseHTTPVersion(s string) (HTTPVersion, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "http/")
	switch v {
	case "", "auto":
		return Auto, nil
	case "1.0", "1":
		return HTTP1_0, nil
	case "1.1":
		return HTTP1_1, nil
	case "2", "2.0":
		return HTTP2, nil
	case "2-prior-knowledge", "h2c":
		return HTTP2PriorKnowledge, nil
	case "3", "3.0":
		return HTTP3, nil
	case "3-only":
		return HTTP3Only, nil
	}
	return Auto, fmt.Errorf("unknown http version %q", s)
}

// TLSPolicy selects protocol versions and cipher suites. Versions hold crypto/tls
// constants (tls.VersionTLS12, ...).
type TLSPolicy struct {
	Versions     []uint16
	Ciphers      []string
	TLS13Ciphers []string
	Insecure     bool
}

// HasVersion reports whether v is in the policy's version set.
func (p TLSPolicy) HasVersion(v uint16) bool {
	for _, have := range p.Versions {
		if have == v {
			return true
		}
	}
	return false
}

// ParseTLSVersion maps "1.2" or "tls1.2" to its crypto/tls constant.
func ParseTLSVersion(s string) (uint16, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(strings.TrimPrefix(v, "tlsv"), "tls")
	switch v {
	case "1.0", "1":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unknown tls version %q", s)
}

// Redirect controls redirect following. A nil Follow means "follow".
type Redirect struct {
	Follow *bool
	Max    int
}

// Following reports whether redirects are followed.
func (r Redirect) Following() bool {
	return r.Follow == nil || *r.Follow
}

// KeepAlive tunes TCP keep-alive. Only honoured for HTTP/1.1.
type KeepAlive struct {
	Disable bool
	Time    time.Duration
	Probes  int
}

// DNSPolicy controls name resolution performed for the transport.
type DNSPolicy struct {
	// Servers are handed to the transport's alternate resolver and used for pin lookups.
	Servers []string
	// Pin resolves the host up front and pins the transport to that address.
	Pin bool
	// PinIP pins to an explicit address without a lookup.
	PinIP string
	// TTL overrides how long a pin lookup stays cached.
	TTL time.Duration
	// NoCache skips the pin cache for this call.
	NoCache bool
}

// KeyField names a request field contributing to the cache key.
type KeyField string

const (
	FieldURL         KeyField = "url"
	FieldHeaders     KeyField = "headers"
	FieldBody        KeyField = "body"
	FieldProxy       KeyField = "proxy"
	FieldMethod      KeyField = "method"
	FieldHTTPVersion KeyField = "http_version"
	FieldTLS         KeyField = "tls"
)

// DefaultKeyFields is the field subset used when a call names none.
var DefaultKeyFields = []KeyField{FieldURL, FieldHeaders, FieldBody, FieldProxy, FieldMethod}

// ResponseView is what a cache validator sees of a built response.
type ResponseView interface {
	StatusCode() int
	HeaderValue(name string) string
	RawBody() []byte
}

// CachePolicy holds per-call caching directives.
type CachePolicy struct {
	// Enabled overrides the configured default when non-nil.
	Enabled *bool
	// TTL overrides the store's default TTL when positive.
	TTL time.Duration
	// KeyFields selects the fields hashed into the key. Empty means DefaultKeyFields.
	KeyFields []KeyField
	// KeyFunc replaces key derivation entirely.
	KeyFunc func(ctx context.Context, req *Request) (string, error)
	// Validate decides whether a fresh response may be written to the cache.
	Validate func(resp ResponseView) bool
}

// Request describes one fetch.
type Request struct {
	Method  string
	URL     string
	Headers []Header

	// Body is one of: string, []byte, url.Values, *body.Form, io.Reader, or any
	// JSON-serializable value.
	Body any

	Proxy       string
	TLS         TLSPolicy
	HTTPVersion HTTPVersion
	Redirect    Redirect
	KeepAlive   KeepAlive
	DNS         DNSPolicy

	ConnectTimeout time.Duration
	Timeout        time.Duration

	// Compress overrides the configured default when non-nil.
	Compress    *bool
	TCPFastOpen bool
	TCPNoDelay  bool

	// HeaderOrder sorts headers into the conventional browser order.
	HeaderOrder bool

	Cache CachePolicy

	// Stream requests an incrementally consumed body.
	Stream bool

	// RedirectObjects exposes intermediate hops as responses instead of URLs.
	RedirectObjects bool
}

// New returns a request for method and rawURL.
func New(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL}
}

// AddHeader appends a header pair, keeping existing ones.
func (r *Request) AddHeader(name, value string) *Request {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
	return r
}

// SetHeader replaces every header named name (case-insensitive) with one pair.
func (r *Request) SetHeader(name, value string) *Request {
	out := r.Headers[:0]
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	r.Headers = append(out, Header{Name: name, Value: value})
	return r
}

// Header returns the first value of the named header.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Clone returns a copy whose slices can be mutated independently.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = append([]Header(nil), r.Headers...)
	c.TLS.Versions = append([]uint16(nil), r.TLS.Versions...)
	c.TLS.Ciphers = append([]string(nil), r.TLS.Ciphers...)
	c.TLS.TLS13Ciphers = append([]string(nil), r.TLS.TLS13Ciphers...)
	c.DNS.Servers = append([]string(nil), r.DNS.Servers...)
	c.Cache.KeyFields = append([]KeyField(nil), r.Cache.KeyFields...)
	return &c
}

// Normalize upper-cases the method, validates URL and headers and rewrites the
// proxy into URL form. It is idempotent.
func (r *Request) Normalize() error {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if !validToken(r.Method) {
		return fmt.Errorf("invalid method %q", r.Method)
	}

	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", r.URL)
	}
	r.URL = u.String()

	for i, h := range r.Headers {
		name := strings.TrimSpace(h.Name)
		if !validToken(name) {
			return fmt.Errorf("invalid header name %q", h.Name)
		}
		if strings.ContainsAny(h.Value, "\r\n\x00") {
			return fmt.Errorf("invalid value for header %q", name)
		}
		r.Headers[i].Name = name
	}

	if r.Proxy != "" {
		normalized, errProxy := proxyurl.Parse(r.Proxy)
		if errProxy != nil {
			return fmt.Errorf("invalid proxy: %w", errProxy)
		}
		r.Proxy = normalized
	}
	return nil
}

// validToken reports whether s is an RFC 7230 token.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
