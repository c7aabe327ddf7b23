// Package resolve looks up the IPv4 address a request host is pinned to before
// the transport runs, caching answers for a bounded time.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long a lookup is reused when neither the call nor the
// configuration sets one.
const DefaultTTL = 60 * time.Second

// lookupTimeout bounds a shared lookup once it no longer follows a caller.
const lookupTimeout = 10 * time.Second

// LookupFunc returns candidate addresses for host, querying servers when given.
type LookupFunc func(ctx context.Context, host string, servers []string) ([]string, error)

type entry struct {
	ip       string
	expireAt time.Time
}

// Resolver resolves and caches host pins. It is safe for concurrent use.
type Resolver struct {
	ttl     time.Duration
	servers []string
	lookup  LookupFunc
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLookup replaces the network lookup, mainly for tests.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New returns a Resolver. servers are used when a request names none.
func New(ttl time.Duration, servers []string, opts ...Option) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Resolver{
		ttl:     ttl,
		servers: append([]string(nil), servers...),
		lookup:  Lookup,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pin returns the host pin for req, or nil when the request does not ask for
// one or its host is already an address literal.
func (r *Resolver) Pin(ctx context.Context, req *request.Request) (*command.Pin, error) {
	if !req.DNS.Pin && req.DNS.PinIP == "" {
		return nil, nil
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	if !isNameHost(host) {
		return nil, nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}

	if req.DNS.PinIP != "" {
		if !isIPv4(req.DNS.PinIP) {
			return nil, fmt.Errorf("pin address %q is not IPv4", req.DNS.PinIP)
		}
		return &command.Pin{Host: ascii, Port: port, IP: req.DNS.PinIP}, nil
	}

	servers := req.DNS.Servers
	if len(servers) == 0 {
		servers = r.servers
	}
	key := ascii + "|" + strings.Join(servers, ",")

	if !req.DNS.NoCache {
		if ip, ok := r.cached(key); ok {
			return &command.Pin{Host: ascii, Port: port, IP: ip}, nil
		}
	}

	// The shared lookup outlives any one caller; each caller waits on its own ctx.
	ch := r.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		addrs, errLookup := r.lookup(lctx, ascii, servers)
		if errLookup != nil {
			return "", errLookup
		}
		for _, a := range addrs {
			if isIPv4(a) {
				return a, nil
			}
		}
		return "", fmt.Errorf("no IPv4 address for %s", ascii)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("resolve %q: %w", ascii, context.Cause(ctx))
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ascii, res.Err)
	}
	ip := res.Val.(string)

	if !req.DNS.NoCache {
		ttl := r.ttl
		if req.DNS.TTL > 0 {
			ttl = req.DNS.TTL
		}
		r.mu.Lock()
		r.entries[key] = entry{ip: ip, expireAt: r.now().Add(ttl)}
		r.mu.Unlock()
	}
	return &command.Pin{Host: ascii, Port: port, IP: ip}, nil
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !r.now().Before(e.expireAt) {
		r.mu.Lock()
		if cur, still := r.entries[key]; still && cur == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		return "", false
	}
	return e.ip, true
}

// Purge drops every cached pin.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.entries = make(map[string]entry)
	r.mu.Unlock()
}

// isNameHost reports whether host is a DNS name rather than an IP literal.
func isNameHost(host string) bool {
	if host == "" {
		return false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return false
	}
	for _, c := range host {
		if c > 0x7f || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			return true
		}
	}
	return false
}

func isIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

var dnsClient = &dns.Client{Timeout: 3 * time.Second}

// Lookup queries servers for A records in order, falling back to the system
// resolver when no servers are given.
func Lookup(ctx context.Context, host string, servers []string) ([]string, error) {
	if len(servers) == 0 {
		addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Unmap().String())
		}
		return out, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		resp, _, err := dnsClient.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		var out []string
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				out = append(out, a.A.String())
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		lastErr = fmt.Errorf("%s returned no A records", server)
	}
	return nil, lastErr
}
