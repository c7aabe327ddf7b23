package request

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Aslarex/go-curl2/internal/json"
)

// Document is the serializable form of a Request, read from batch files and
// from the HTTP service. Durations are Go duration strings ("1.5s").
type Document struct {
	Method         string          `json:"method,omitempty"`
	URL            string          `json:"url"`
	Headers        HeaderList      `json:"headers,omitempty"`
	Body           string          `json:"body,omitempty"`
	BodyBase64     string          `json:"body_base64,omitempty"`
	JSON           json.RawMessage `json:"json,omitempty"`
	Form           url.Values      `json:"form,omitempty"`
	Proxy          string          `json:"proxy,omitempty"`
	HTTPVersion    string          `json:"http_version,omitempty"`
	Insecure       bool            `json:"insecure,omitempty"`
	TLSVersions    []string        `json:"tls_versions,omitempty"`
	Ciphers        []string        `json:"ciphers,omitempty"`
	TLS13Ciphers   []string        `json:"tls13_ciphers,omitempty"`
	FollowRedirect *bool           `json:"follow_redirects,omitempty"`
	MaxRedirects   int             `json:"max_redirects,omitempty"`
	Timeout        string          `json:"timeout,omitempty"`
	ConnectTimeout string          `json:"connect_timeout,omitempty"`
	Compress       *bool           `json:"compress,omitempty"`
	TCPFastOpen    bool            `json:"tcp_fastopen,omitempty"`
	TCPNoDelay     bool            `json:"tcp_nodelay,omitempty"`
	HeaderOrder    bool            `json:"header_order,omitempty"`
	KeepAlive      *KeepAliveDoc   `json:"keepalive,omitempty"`
	DNS            *DNSDoc         `json:"dns,omitempty"`
	Cache          *CacheDoc       `json:"cache,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	RedirectObjs   bool            `json:"redirect_objects,omitempty"`
}

// KeepAliveDoc is the serializable KeepAlive.
type KeepAliveDoc struct {
	Disable bool   `json:"disable,omitempty"`
	Time    string `json:"time,omitempty"`
	Probes  int    `json:"probes,omitempty"`
}

// DNSDoc is the serializable DNSPolicy.
type DNSDoc struct {
	Servers []string `json:"servers,omitempty"`
	Pin     bool     `json:"pin,omitempty"`
	PinIP   string   `json:"pin_ip,omitempty"`
	TTL     string   `json:"ttl,omitempty"`
	NoCache bool     `json:"no_cache,omitempty"`
}

// CacheDoc is the serializable subset of CachePolicy.
type CacheDoc struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	TTL       string   `json:"ttl,omitempty"`
	KeyFields []string `json:"key_fields,omitempty"`
}

// HeaderList decodes from either an array of [name, value] pairs, an array of
// {"name","value"} objects, or an object (sorted by name, since object order is
// not preserved by the decoder).
type HeaderList []Header

// UnmarshalJSON implements json.Unmarshaler.
func (l *HeaderList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		out := make(HeaderList, 0, len(names))
		for _, k := range names {
			out = append(out, Header{Name: k, Value: m[k]})
		}
		*l = out
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(HeaderList, 0, len(raw))
	for _, item := range raw {
		s := strings.TrimSpace(string(item))
		if strings.HasPrefix(s, "[") {
			var pair []string
			if err := json.Unmarshal(item, &pair); err != nil {
				return err
			}
			if len(pair) != 2 {
				return fmt.Errorf("header pair must have 2 elements, got %d", len(pair))
			}
			out = append(out, Header{Name: pair[0], Value: pair[1]})
			continue
		}
		var h Header
		if err := json.Unmarshal(item, &h); err != nil {
			return err
		}
		out = append(out, h)
	}
	*l = out
	return nil
}

// Request converts the document to a Request. The result is not normalized.
func (d *Document) Request() (*Request, error) {
	r := &Request{
		Method:          d.Method,
		URL:             d.URL,
		Headers:         append([]Header(nil), d.Headers...),
		Proxy:           d.Proxy,
		Compress:        d.Compress,
		TCPFastOpen:     d.TCPFastOpen,
		TCPNoDelay:      d.TCPNoDelay,
		HeaderOrder:     d.HeaderOrder,
		Stream:          d.Stream,
		RedirectObjects: d.RedirectObjs,
		Redirect:        Redirect{Follow: d.FollowRedirect, Max: d.MaxRedirects},
	}

	switch {
	case len(d.JSON) > 0:
		r.Body = d.JSON
	case d.BodyBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(d.BodyBase64)
		if err != nil {
			return nil, fmt.Errorf("body_base64: %w", err)
		}
		r.Body = raw
	case len(d.Form) > 0:
		r.Body = d.Form
	case d.Body != "":
		r.Body = d.Body
	}

	var err error
	if r.HTTPVersion, err = ParseHTTPVersion(d.HTTPVersion); err != nil {
		return nil, err
	}
	r.TLS = TLSPolicy{
		Insecure:     d.Insecure,
		Ciphers:      d.Ciphers,
		TLS13Ciphers: d.TLS13Ciphers,
	}
	for _, v := range d.TLSVersions {
		parsed, errVersion := ParseTLSVersion(v)
		if errVersion != nil {
			return nil, errVersion
		}
		r.TLS.Versions = append(r.TLS.Versions, parsed)
	}
	if r.Timeout, err = parseDuration("timeout", d.Timeout); err != nil {
		return nil, err
	}
	if r.ConnectTimeout, err = parseDuration("connect_timeout", d.ConnectTimeout); err != nil {
		return nil, err
	}
	if d.KeepAlive != nil {
		r.KeepAlive = KeepAlive{Disable: d.KeepAlive.Disable, Probes: d.KeepAlive.Probes}
		if r.KeepAlive.Time, err = parseDuration("keepalive.time", d.KeepAlive.Time); err != nil {
			return nil, err
		}
	}
	if d.DNS != nil {
		r.DNS = DNSPolicy{Servers: d.DNS.Servers, Pin: d.DNS.Pin, PinIP: d.DNS.PinIP, NoCache: d.DNS.NoCache}
		if r.DNS.TTL, err = parseDuration("dns.ttl", d.DNS.TTL); err != nil {
			return nil, err
		}
	}
	if d.Cache != nil {
		r.Cache.Enabled = d.Cache.Enabled
		if r.Cache.TTL, err = parseDuration("cache.ttl", d.Cache.TTL); err != nil {
			return nil, err
		}
		for _, f := range d.Cache.KeyFields {
			r.Cache.KeyFields = append(r.Cache.KeyFields, KeyField(strings.ToLower(strings.TrimSpace(f))))
		}
	}
	return r, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
