package fetch

import (
	"fmt"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/request"
)

// settings is the immutable view of a Config the client works from. It is
// swapped atomically on reconfiguration.
type settings struct {
	binary  string
	maxBody int64

	tlsVersions    []uint16
	ciphers        []string
	tls13Ciphers   []string
	compress       *bool
	connectTimeout time.Duration
	timeout        time.Duration
	maxRedirects   int
	follow         *bool
	httpVersion    request.HTTPVersion
	proxy          string
	userAgent      string
	headerOrder    bool

	cacheEnabled bool
	cacheTTL     time.Duration
	keyFields    []request.KeyField
}

func compileSettings(cfg *config.Config) (*settings, error) {
	d := cfg.Defaults
	s := &settings{
		binary:         cfg.CurlBinary,
		maxBody:        cfg.MaxBodySize,
		ciphers:        d.Ciphers,
		tls13Ciphers:   d.TLS13Ciphers,
		compress:       d.Compress,
		connectTimeout: d.ConnectTimeout,
		timeout:        d.Timeout,
		maxRedirects:   d.MaxRedirects,
		follow:         d.FollowRedirects,
		proxy:          d.ProxyURL,
		userAgent:      d.UserAgent,
		headerOrder:    d.HeaderOrder,
		cacheEnabled:   cfg.Cache.Enabled,
		cacheTTL:       cfg.Cache.TTL,
	}
	for _, v := range d.TLSVersions {
		version, err := request.ParseTLSVersion(v)
		if err != nil {
			return nil, fmt.Errorf("defaults: %w", err)
		}
		s.tlsVersions = append(s.tlsVersions, version)
	}
	version, err := request.ParseHTTPVersion(d.HTTPVersion)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	s.httpVersion = version
	if s.keyFields, err = ParseKeyFields(cfg.Cache.KeyFields); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return s, nil
}

// apply fills every field req leaves unset from s. req must be a private copy.
func (s *settings) apply(req *request.Request) {
	if len(req.TLS.Versions) == 0 {
		req.TLS.Versions = append([]uint16(nil), s.tlsVersions...)
	}
	if len(req.TLS.Ciphers) == 0 {
		req.TLS.Ciphers = append([]string(nil), s.ciphers...)
	}
	if len(req.TLS.TLS13Ciphers) == 0 {
		req.TLS.TLS13Ciphers = append([]string(nil), s.tls13Ciphers...)
	}
	if req.Compress == nil && s.compress != nil {
		v := *s.compress
		req.Compress = &v
	}
	if req.ConnectTimeout <= 0 {
		req.ConnectTimeout = s.connectTimeout
	}
	if req.Timeout <= 0 {
		req.Timeout = s.timeout
	}
	if req.Redirect.Follow == nil && s.follow != nil {
		v := *s.follow
		req.Redirect.Follow = &v
	}
	if req.Redirect.Max <= 0 {
		req.Redirect.Max = s.maxRedirects
	}
	if req.HTTPVersion == request.Auto {
		req.HTTPVersion = s.httpVersion
	}
	if req.Proxy == "" {
		req.Proxy = s.proxy
	}
	if s.userAgent != "" {
		if _, ok := req.Header("User-Agent"); !ok {
			req.AddHeader("User-Agent", s.userAgent)
		}
	}
	if s.headerOrder {
		req.HeaderOrder = true
	}
	if req.Cache.TTL <= 0 {
		req.Cache.TTL = s.cacheTTL
	}
}
