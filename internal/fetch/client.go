// Package fetch is the request orchestrator: it applies defaults, enforces the
// in-flight ceiling, consults the response cache, drives the transport process
// and turns its output into responses.
package fetch

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/cache"
	"github.com/Aslarex/go-curl2/internal/capability"
	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/Aslarex/go-curl2/internal/resolve"
	"github.com/Aslarex/go-curl2/internal/transport"
)

// Client executes requests. It is safe for concurrent use.
type Client struct {
	invoker   transport.Invoker
	store     cache.Store
	ownsStore bool

	resolver     atomic.Pointer[resolve.Resolver]
	ownsResolver bool
	fixedCaps    *capability.Set
	capsWarnOnce sync.Once
	settings     atomic.Pointer[settings]
	inflight     atomic.Int64
	limit        atomic.Int64
	dnsConfig    atomic.Pointer[config.DNSConfig]
	cacheBackend string
	closeOnce    sync.Once
	closeErr     error
}

// Builder constructs a Client with customizable collaborators.
type Builder struct {
	cfg      *config.Config
	invoker  transport.Invoker
	store    cache.Store
	owned    bool
	resolver *resolve.Resolver
	caps     *capability.Set
}

// NewBuilder creates a Builder with default dependencies left unset.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration the client starts from.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithInvoker replaces the transport process runner.
func (b *Builder) WithInvoker(invoker transport.Invoker) *Builder {
	b.invoker = invoker
	return b
}

// WithStore sets the response cache. The client does not close it.
func (b *Builder) WithStore(store cache.Store) *Builder {
	b.store = store
	b.owned = false
	return b
}

// withOwnedStore sets a store the client closes on Close.
func (b *Builder) withOwnedStore(store cache.Store) *Builder {
	b.store = store
	b.owned = store != nil
	return b
}

// WithResolver replaces the host pin resolver.
func (b *Builder) WithResolver(r *resolve.Resolver) *Builder {
	b.resolver = r
	return b
}

// WithCapabilities fixes the transport capability set instead of probing the binary.
func (b *Builder) WithCapabilities(caps capability.Set) *Builder {
	b.caps = &caps
	return b
}

// Build creates the Client.
func (b *Builder) Build() (*Client, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	s, err := compileSettings(b.cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		invoker:      b.invoker,
		store:        b.store,
		ownsStore:    b.owned,
		fixedCaps:    b.caps,
		cacheBackend: b.cfg.Cache.Backend,
	}
	if c.invoker == nil {
		c.invoker = transport.NewExec(s.binary)
	}
	if b.resolver != nil {
		c.resolver.Store(b.resolver)
	} else {
		c.ownsResolver = true
		c.resolver.Store(resolve.New(b.cfg.DNS.TTL, b.cfg.DNS.Servers))
	}
	dns := b.cfg.DNS
	c.dnsConfig.Store(&dns)
	c.settings.Store(s)
	c.SetLimit(b.cfg.MaxConcurrency)
	return c, nil
}

// New builds a Client from cfg and opens the configured cache store.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	store, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	c, err := NewBuilder().WithConfig(cfg).withOwnedStore(store).Build()
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return c, nil
}

// SetLimit changes the in-flight ceiling. Values below one restore the default.
func (c *Client) SetLimit(n int) {
	if n <= 0 {
		n = config.DefaultMaxConcurrency
	}
	c.limit.Store(int64(n))
}

// Limit returns the in-flight ceiling.
func (c *Client) Limit() int { return int(c.limit.Load()) }

// Inflight returns the number of running transport invocations.
func (c *Client) Inflight() int { return int(c.inflight.Load()) }

// Store returns the response cache, or nil when caching is off.
func (c *Client) Store() cache.Store { return c.store }

// Reconfigure applies cfg to subsequent requests. Requests already running
// keep the settings they started with. The transport binary and cache backend
// are fixed at construction.
func (c *Client) Reconfigure(cfg *config.Config) error {
	s, err := compileSettings(cfg)
	if err != nil {
		return err
	}
	if prev := c.settings.Load(); prev != nil && prev.binary != s.binary {
		log.Warnf("curl binary changed to %s; restart to apply", s.binary)
	}
	if cfg.Cache.Backend != c.cacheBackend {
		log.Warnf("cache backend changed to %s; restart to apply", cfg.Cache.Backend)
	}
	if c.ownsResolver {
		dns := cfg.DNS
		if prev := c.dnsConfig.Load(); prev == nil || !reflect.DeepEqual(*prev, dns) {
			c.resolver.Store(resolve.New(dns.TTL, dns.Servers))
			c.dnsConfig.Store(&dns)
		}
	}
	c.settings.Store(s)
	c.SetLimit(cfg.MaxConcurrency)
	return nil
}

// Close releases the cache store when the client opened it.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.ownsStore && c.store != nil {
			c.closeErr = c.store.Close()
		}
	})
	return c.closeErr
}

// Capabilities returns the transport feature set. A failed probe yields the
// zero set, which disables every optional flag.
func (c *Client) Capabilities(ctx context.Context) capability.Set {
	if c.fixedCaps != nil {
		return *c.fixedCaps
	}
	binary := c.settings.Load().binary
	set, err := capability.Load(context.WithoutCancel(ctx), binary)
	if err != nil {
		c.capsWarnOnce.Do(func() {
			log.WithError(err).Warnf("could not probe %s; optional transport flags disabled", binary)
		})
	}
	return set
}

// admissible is the early check made before any other work.
func (c *Client) admissible() bool {
	return c.inflight.Load() < c.limit.Load()
}

// acquire takes an in-flight slot unless the ceiling is reached.
func (c *Client) acquire() bool {
	for {
		cur := c.inflight.Load()
		if cur >= c.limit.Load() {
			return false
		}
		if c.inflight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *Client) release() {
	c.inflight.Add(-1)
}

func (c *Client) admissionError(req *request.Request) error {
	err := fetcherr.New(fetcherr.KindAdmission, "in-flight limit of %d reached", c.limit.Load())
	err.Request = req
	return err
}

// prepare copies req, applies defaults, validates it and encodes the body.
func (c *Client) prepare(ctx context.Context, req *request.Request, s *settings) (*request.Request, body.Payload, error) {
	if req == nil {
		return nil, body.Payload{}, fetcherr.New(fetcherr.KindConstruction, "request is nil")
	}
	r := req.Clone()
	s.apply(r)
	if err := r.Normalize(); err != nil {
		e := fetcherr.Wrap(fetcherr.KindConstruction, err, "")
		e.Request = r
		return nil, body.Payload{}, e
	}
	if ctx.Err() != nil {
		return nil, body.Payload{}, fetcherr.WithRequest(fetcherr.Aborted(ctx), r)
	}
	payload, err := body.Encode(ctx, r.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, body.Payload{}, fetcherr.WithRequest(fetcherr.Aborted(ctx), r)
		}
		e := fetcherr.Wrap(fetcherr.KindConstruction, err, "")
		e.Request = r
		return nil, body.Payload{}, e
	}
	return r, payload, nil
}

// buildCommand resolves the host pin and renders the argument vector.
func (c *Client) buildCommand(ctx context.Context, r *request.Request, payload body.Payload) (command.Command, error) {
	pin, err := c.resolver.Load().Pin(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return command.Command{}, fetcherr.WithRequest(fetcherr.Aborted(ctx), r)
		}
		log.WithRequest(r.Method, r.URL).WithError(err).Warn("host pin failed; using transport resolution")
		pin = nil
	}
	cmd := command.Build(command.Input{
		Request: r,
		Payload: payload,
		Caps:    c.Capabilities(ctx),
		Pin:     pin,
	})
	log.Debugf("curl %s", strings.Join(log.MaskArgs(cmd.Args), " "))
	return cmd, nil
}

func (c *Client) cacheEnabled(r *request.Request, s *settings) bool {
	if c.store == nil {
		return false
	}
	if r.Cache.Enabled != nil {
		return *r.Cache.Enabled
	}
	return s.cacheEnabled
}

// Do executes req and buffers the whole response.
//
// Cancellation of ctx outranks every other outcome. When the in-flight ceiling
// is reached the call fails immediately with an admission error; cache hits
// bypass the ceiling and never start a process.
func (c *Client) Do(ctx context.Context, req *request.Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, fetcherr.WithRequest(fetcherr.Aborted(ctx), req)
	}
	if !c.admissible() {
		return nil, c.admissionError(req)
	}

	s := c.settings.Load()
	r, payload, err := c.prepare(ctx, req, s)
	if err != nil {
		return nil, err
	}

	var key string
	useCache := c.cacheEnabled(r, s)
	if useCache {
		key, err = Key(ctx, r, payload, s.keyFields)
		if err != nil {
			log.WithError(err).Warn("cache key derivation failed; bypassing cache")
			useCache = false
		} else if resp := c.lookup(ctx, key, r); resp != nil {
			return resp, nil
		}
	}

	if !c.acquire() {
		return nil, c.admissionError(r)
	}
	defer c.release()

	cmd, err := c.buildCommand(ctx, r, payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.invoker.Run(ctx, cmd)
	if err != nil {
		return nil, fetcherr.WithRequest(err, r)
	}
	if ctx.Err() != nil {
		return nil, fetcherr.WithRequest(fetcherr.Aborted(ctx), r)
	}
	if s.maxBody > 0 && int64(len(result.Stdout)) > s.maxBody {
		e := fetcherr.New(fetcherr.KindBodyTooLarge, "response of %d bytes exceeds limit of %d", len(result.Stdout), s.maxBody)
		e.Request = r
		return nil, e
	}

	resp, err := buildResponse(result.Stdout, r)
	if err != nil {
		return nil, fetcherr.WithRequest(err, r)
	}
	resp.Elapsed = time.Since(start)

	if useCache {
		c.save(ctx, key, r, resp, result.Stdout)
	}
	return resp, nil
}

// lookup returns the cached response for key, or nil on a miss. Store and
// decode failures are logged and treated as misses.
func (c *Client) lookup(ctx context.Context, key string, r *request.Request) *Response {
	start := time.Now()
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.WithError(fetcherr.Wrap(fetcherr.KindCache, err, "get")).Warn("cache lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	resp, err := buildResponse([]byte(raw), r)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("discarding unreadable cache entry")
		return nil
	}
	resp.Cached = true
	resp.Elapsed = time.Since(start)
	return resp
}

// save writes raw under key unless the request's validator rejects resp or a
// live entry already exists.
func (c *Client) save(ctx context.Context, key string, r *request.Request, resp *Response, raw []byte) {
	if r.Cache.Validate != nil && !r.Cache.Validate(resp) {
		log.WithField("status", resp.Status).Debug("cache validator rejected response")
		return
	}
	stored, err := c.store.Set(ctx, key, string(raw), cache.SetOptions{OnlyIfAbsent: true, TTL: r.Cache.TTL})
	if err != nil {
		log.WithError(fetcherr.Wrap(fetcherr.KindCache, err, "set")).Warn("cache write failed")
		return
	}
	if !stored {
		log.WithField("key", key).Debug("cache entry already present")
	}
}
