package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/cache"
	"github.com/Aslarex/go-curl2/internal/capability"
	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/Aslarex/go-curl2/internal/transport"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []command.Command

	run   func(ctx context.Context, cmd command.Command) (*transport.Result, error)
	start func(ctx context.Context, cmd command.Command) (transport.Stream, error)
}

func (f *fakeInvoker) record(cmd command.Command) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
}

func (f *fakeInvoker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvoker) Last() command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeInvoker) Run(ctx context.Context, cmd command.Command) (*transport.Result, error) {
	f.record(cmd)
	return f.run(ctx, cmd)
}

func (f *fakeInvoker) Start(ctx context.Context, cmd command.Command) (transport.Stream, error) {
	f.record(cmd)
	return f.start(ctx, cmd)
}

func replying(out string) *fakeInvoker {
	return &fakeInvoker{run: func(context.Context, command.Command) (*transport.Result, error) {
		return &transport.Result{Stdout: []byte(out)}, nil
	}}
}

type fakeStream struct {
	r      *bytes.Reader
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *fakeStream) Stderr() []byte             { return nil }
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, cfg *config.Config, inv transport.Invoker, store cache.Store) *Client {
	t.Helper()
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	b := NewBuilder().WithConfig(cfg).WithInvoker(inv).WithCapabilities(capability.Set{})
	if store != nil {
		b.WithStore(store)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

const okReply = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nhello"

func TestBuilder_RequiresConfig(t *testing.T) {
	if _, err := NewBuilder().Build(); err == nil {
		t.Fatal("expected error without configuration")
	}
	cfg := config.NewDefaultConfig()
	cfg.Defaults.TLSVersions = []string{"9.9"}
	if _, err := NewBuilder().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error for an unknown TLS version")
	}
}

func TestDo_FollowsRedirectChain(t *testing.T) {
	out := "HTTP/1.1 302 Found\r\nLocation: /b\r\n\r\n" +
		"HTTP/1.1 301 Moved Permanently\r\nLocation: /c\r\n\r\n" +
		"HTTP/2 200\r\ncontent-type: application/json\r\n\r\n" + `{"ok":true,"n":[1,2]}`
	inv := replying(out)
	c := newTestClient(t, nil, inv, nil)

	req := request.New("get", "https://h/a")
	req.RedirectObjects = true
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.URL != "https://h/c" || resp.Status != 200 || resp.StatusText != "OK" {
		t.Errorf("final = %s %d %q", resp.URL, resp.Status, resp.StatusText)
	}
	if !resp.Redirected || !slices.Equal(resp.Redirects, []string{"https://h/b", "https://h/c"}) {
		t.Errorf("redirects = %v", resp.Redirects)
	}
	if len(resp.RedirectResponses) != 2 || resp.RedirectResponses[0].Status != 302 || resp.RedirectResponses[1].URL != "https://h/b" {
		t.Errorf("redirect responses = %+v", resp.RedirectResponses)
	}
	if resp.Get("n.1").Int() != 2 || resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("body/header = %q %q", resp.Text(), resp.Header.Get("Content-Type"))
	}
	var decoded struct{ OK bool }
	if err = resp.JSON(&decoded); err != nil || !decoded.OK {
		t.Errorf("JSON = %+v, %v", decoded, err)
	}

	args := inv.Last().Args
	if !slices.Contains(args, "-L") || args[len(args)-1] != "https://h/a" || !slices.Contains(args, "GET") {
		t.Errorf("args = %v", args)
	}
}

func TestDo_AppliesDefaults(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Defaults.UserAgent = "curl2-test"
	cfg.Defaults.Timeout = 5 * time.Second
	no := false
	cfg.Defaults.FollowRedirects = &no
	inv := replying(okReply)
	c := newTestClient(t, cfg, inv, nil)

	if _, err := c.Do(context.Background(), request.New("GET", "https://h/")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	joined := strings.Join(inv.Last().Args, " ")
	for _, want := range []string{"-m 5", "-A curl2-test"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if strings.Contains(joined, "-L") {
		t.Errorf("args %q follow redirects although disabled", joined)
	}

	req := request.New("GET", "https://h/").AddHeader("User-Agent", "mine")
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if joined = strings.Join(inv.Last().Args, " "); !strings.Contains(joined, "-A mine") {
		t.Errorf("explicit user agent overridden: %q", joined)
	}
}

func TestDo_AdmissionCeiling(t *testing.T) {
	started := make(chan struct{}, 6)
	release := make(chan struct{})
	inv := &fakeInvoker{run: func(context.Context, command.Command) (*transport.Result, error) {
		started <- struct{}{}
		<-release
		return &transport.Result{Stdout: []byte(okReply)}, nil
	}}
	cfg := config.NewDefaultConfig()
	cfg.MaxConcurrency = 5
	c := newTestClient(t, cfg, inv, nil)

	errs := make(chan error, 6)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), request.New("GET", "https://slow.example/"))
			errs <- err
		}()
	}

	for i := 0; i < 5; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d invocations started", i)
		}
	}
	select {
	case err := <-errs:
		if !fetcherr.IsAdmission(err) {
			t.Fatalf("sixth call = %v, want admission error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sixth call was not rejected")
	}
	if c.Inflight() != 5 {
		t.Errorf("Inflight = %d, want 5", c.Inflight())
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("admitted call failed: %v", err)
		}
	}
	if c.Inflight() != 0 {
		t.Errorf("Inflight after completion = %d", c.Inflight())
	}
	if inv.Calls() != 5 {
		t.Errorf("invocations = %d, want 5", inv.Calls())
	}
}

func TestDo_CancellationWins(t *testing.T) {
	inv := replying(okReply)
	cfg := config.NewDefaultConfig()
	cfg.MaxConcurrency = 1
	c := newTestClient(t, cfg, inv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, request.New("GET", "https://h/"))
	if !fetcherr.IsAborted(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %v, want aborted", err)
	}

	c.inflight.Store(1)
	if _, err = c.Do(ctx, request.New("GET", "https://h/")); !fetcherr.IsAborted(err) {
		t.Errorf("Do at ceiling with cancelled ctx = %v, want aborted", err)
	}
	if _, err = c.Stream(ctx, request.New("GET", "https://h/")); !fetcherr.IsAborted(err) {
		t.Errorf("Stream = %v, want aborted", err)
	}
	if inv.Calls() != 0 {
		t.Errorf("transport invoked %d times", inv.Calls())
	}
}

func TestDo_UnparseableOutput(t *testing.T) {
	c := newTestClient(t, nil, replying("garbage without a status line"), nil)
	resp, err := c.Do(context.Background(), request.New("GET", "https://h/"))
	if resp != nil {
		t.Fatalf("resp = %+v, want nil", resp)
	}
	var fe *fetcherr.Error
	if !errors.As(err, &fe) || fe.Kind != fetcherr.KindParse {
		t.Fatalf("err = %v, want parse error", err)
	}
	if fe.Raw != "garbage without a status line" || fe.Request == nil || fe.Request.URL != "https://h/" {
		t.Errorf("error context = %q %+v", fe.Raw, fe.Request)
	}
}

func TestDo_TransportFailure(t *testing.T) {
	inv := &fakeInvoker{run: func(context.Context, command.Command) (*transport.Result, error) {
		return nil, &fetcherr.Error{Kind: fetcherr.KindTransport, Message: "Could not resolve host: nope", ExitCode: 6}
	}}
	c := newTestClient(t, nil, inv, nil)
	_, err := c.Do(context.Background(), request.New("GET", "https://nope/"))
	var fe *fetcherr.Error
	if !errors.As(err, &fe) || fe.ExitCode != 6 || fe.Request == nil {
		t.Fatalf("err = %v", err)
	}
	if c.Inflight() != 0 {
		t.Errorf("slot leaked: %d", c.Inflight())
	}
}

func TestDo_ConstructionErrors(t *testing.T) {
	inv := replying(okReply)
	c := newTestClient(t, nil, inv, nil)

	tests := []struct {
		name string
		req  *request.Request
	}{
		{"nil request", nil},
		{"bad header name", request.New("GET", "https://h/").AddHeader("Bad Name", "x")},
		{"header injection", request.New("GET", "https://h/").AddHeader("X", "a\r\nb")},
		{"bad proxy", &request.Request{Method: "GET", URL: "https://h/", Proxy: "host:notaport"}},
		{"bad scheme", request.New("GET", "ftp://h/")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Do(context.Background(), tt.req); fetcherr.KindOf(err) != fetcherr.KindConstruction {
				t.Errorf("err = %v, want construction error", err)
			}
		})
	}
	if inv.Calls() != 0 {
		t.Errorf("transport invoked %d times", inv.Calls())
	}
}

func TestDo_BodyTooLarge(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.MaxBodySize = 16
	c := newTestClient(t, cfg, replying(okReply+strings.Repeat("x", 64)), nil)
	_, err := c.Do(context.Background(), request.New("GET", "https://h/"))
	if fetcherr.KindOf(err) != fetcherr.KindBodyTooLarge {
		t.Fatalf("err = %v", err)
	}
}

func TestDo_BinaryBodyOnStdin(t *testing.T) {
	inv := replying(okReply)
	c := newTestClient(t, nil, inv, nil)
	payload := []byte{0x00, 0xff, 0x10}
	req := request.New("POST", "https://h/upload")
	req.Body = payload
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatalf("Do: %v", err)
	}
	cmd := inv.Last()
	if !bytes.Equal(cmd.Stdin, payload) || !slices.Contains(cmd.Args, "@-") {
		t.Errorf("stdin = %v args = %v", cmd.Stdin, cmd.Args)
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func cachingClient(t *testing.T, inv transport.Invoker) (*Client, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	store := cache.NewMemory(time.Second, cache.WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })
	cfg := config.NewDefaultConfig()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Cache.Enabled = true
	cfg.Cache.TTL = time.Second
	return newTestClient(t, cfg, inv, store), clock
}

func TestDo_CacheExpiry(t *testing.T) {
	inv := replying(okReply)
	c, clock := cachingClient(t, inv)
	ctx := context.Background()

	first, err := c.Do(ctx, request.New("GET", "https://h/cached"))
	if err != nil || first.Cached {
		t.Fatalf("first = %+v, %v", first, err)
	}

	clock.Advance(900 * time.Millisecond)
	hit, err := c.Do(ctx, request.New("GET", "https://h/cached"))
	if err != nil || !hit.Cached || hit.Text() != "hello" || hit.Status != 200 {
		t.Fatalf("at +0.9s = %+v, %v; want cache hit", hit, err)
	}
	if inv.Calls() != 1 {
		t.Fatalf("invocations at +0.9s = %d", inv.Calls())
	}

	clock.Advance(200 * time.Millisecond)
	miss, err := c.Do(ctx, request.New("GET", "https://h/cached"))
	if err != nil || miss.Cached {
		t.Fatalf("at +1.1s = %+v, %v; want fresh", miss, err)
	}
	if inv.Calls() != 2 {
		t.Errorf("invocations at +1.1s = %d, want 2", inv.Calls())
	}
}

func TestDo_CacheHitBypassesCeiling(t *testing.T) {
	inv := replying(okReply)
	c, _ := cachingClient(t, inv)
	ctx := context.Background()
	if _, err := c.Do(ctx, request.New("GET", "https://h/")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	c.SetLimit(1)
	if !c.acquire() {
		t.Fatal("acquire failed")
	}
	defer c.release()

	// The early check still rejects at the ceiling.
	if _, err := c.Do(ctx, request.New("GET", "https://h/")); !fetcherr.IsAdmission(err) {
		t.Fatalf("Do at ceiling = %v", err)
	}
	c.SetLimit(2)
	resp, err := c.Do(ctx, request.New("GET", "https://h/"))
	if err != nil || !resp.Cached {
		t.Fatalf("Do = %+v, %v", resp, err)
	}
	if c.Inflight() != 1 {
		t.Errorf("cache hit changed Inflight to %d", c.Inflight())
	}
}

func TestDo_CachePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("validator rejects", func(t *testing.T) {
		inv := replying(okReply)
		c, _ := cachingClient(t, inv)
		for i := 0; i < 2; i++ {
			req := request.New("GET", "https://h/")
			req.Cache.Validate = func(resp request.ResponseView) bool { return resp.StatusCode() != 200 }
			if _, err := c.Do(ctx, req); err != nil {
				t.Fatalf("Do: %v", err)
			}
		}
		if inv.Calls() != 2 {
			t.Errorf("invocations = %d, want 2", inv.Calls())
		}
	})

	t.Run("key function error bypasses cache", func(t *testing.T) {
		inv := replying(okReply)
		c, _ := cachingClient(t, inv)
		for i := 0; i < 2; i++ {
			req := request.New("GET", "https://h/")
			req.Cache.KeyFunc = func(context.Context, *request.Request) (string, error) {
				return "", errors.New("no key")
			}
			if _, err := c.Do(ctx, req); err != nil {
				t.Fatalf("Do: %v", err)
			}
		}
		if inv.Calls() != 2 {
			t.Errorf("invocations = %d, want 2", inv.Calls())
		}
	})

	t.Run("per request opt out", func(t *testing.T) {
		inv := replying(okReply)
		c, _ := cachingClient(t, inv)
		off := false
		for i := 0; i < 2; i++ {
			req := request.New("GET", "https://h/")
			req.Cache.Enabled = &off
			if _, err := c.Do(ctx, req); err != nil {
				t.Fatalf("Do: %v", err)
			}
		}
		if inv.Calls() != 2 {
			t.Errorf("invocations = %d, want 2", inv.Calls())
		}
	})

	t.Run("unreadable entry is a miss", func(t *testing.T) {
		inv := replying(okReply)
		c, _ := cachingClient(t, inv)
		req := request.New("GET", "https://h/")
		r := req.Clone()
		if err := r.Normalize(); err != nil {
			t.Fatal(err)
		}
		key, err := Key(ctx, r, payloadOf(t, r), nil)
		if err != nil {
			t.Fatal(err)
		}
		c.Store().Set(ctx, key, "not a response", cache.SetOptions{})
		resp, err := c.Do(ctx, req)
		if err != nil || resp.Cached || inv.Calls() != 1 {
			t.Errorf("Do = %+v, %v, calls %d", resp, err, inv.Calls())
		}
	})
}

func TestDo_FormUploadsCachedByContent(t *testing.T) {
	inv := replying(okReply)
	c, _ := cachingClient(t, inv)
	ctx := context.Background()
	upload := func(content string) *Response {
		req := request.New("POST", "https://h/upload")
		req.Body = body.NewForm().FileReader("f", "a.txt", "text/plain", strings.NewReader(content))
		resp, err := c.Do(ctx, req)
		if err != nil {
			t.Fatalf("Do(%q): %v", content, err)
		}
		return resp
	}
	upload("AAAA")
	if resp := upload("BBBB"); resp.Cached {
		t.Error("upload with different content served from cache")
	}
	if resp := upload("AAAA"); !resp.Cached {
		t.Error("repeated upload not served from cache")
	}
	if inv.Calls() != 2 {
		t.Errorf("invocations = %d, want 2", inv.Calls())
	}
}

type failingStore struct {
	mu         sync.Mutex
	gets, sets int
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return "", false, errors.New("store unavailable")
}

func (s *failingStore) Set(context.Context, string, string, cache.SetOptions) (bool, error) {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return false, errors.New("store unavailable")
}

func (s *failingStore) Connect(context.Context) error { return nil }
func (s *failingStore) Close() error                  { return nil }
func (s *failingStore) DefaultTTL() time.Duration     { return time.Minute }

func TestDo_StoreErrorsFallThrough(t *testing.T) {
	inv := replying(okReply)
	store := &failingStore{}
	cfg := config.NewDefaultConfig()
	cfg.Cache.Enabled = true
	c := newTestClient(t, cfg, inv, store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := c.Do(ctx, request.New("GET", "https://h/"))
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		if resp.Cached || resp.Status != 200 || resp.Text() != "hello" {
			t.Fatalf("Do #%d = %+v", i, resp)
		}
	}
	if inv.Calls() != 2 {
		t.Errorf("invocations = %d, want 2", inv.Calls())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.gets != 2 || store.sets != 2 {
		t.Errorf("store calls: gets %d, sets %d", store.gets, store.sets)
	}
	if c.Inflight() != 0 {
		t.Errorf("Inflight = %d after store errors", c.Inflight())
	}
}

func TestStream_ReleasesSlotOnce(t *testing.T) {
	var streams []*fakeStream
	inv := &fakeInvoker{start: func(context.Context, command.Command) (transport.Stream, error) {
		s := &fakeStream{r: bytes.NewReader([]byte("HTTP/1.1 200 Connection established\r\n\r\n" + okReply))}
		streams = append(streams, s)
		return s, nil
	}}
	c := newTestClient(t, nil, inv, nil)

	resp, err := c.Stream(context.Background(), request.New("GET", "https://h/"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.Status != 200 || resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("head = %d %v", resp.Status, resp.Header)
	}
	if c.Inflight() != 1 {
		t.Errorf("Inflight while streaming = %d", c.Inflight())
	}
	buf := new(bytes.Buffer)
	if _, err = buf.ReadFrom(resp.Body); err != nil || buf.String() != "hello" {
		t.Errorf("body = %q, %v", buf.String(), err)
	}
	if c.Inflight() != 0 {
		t.Errorf("Inflight after EOF = %d", c.Inflight())
	}
	resp.Body.Close()
	if c.Inflight() != 0 {
		t.Errorf("Inflight after Close = %d", c.Inflight())
	}
	if !streams[0].closed {
		t.Error("process not closed")
	}

	resp, err = c.Stream(context.Background(), request.New("GET", "https://h/"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	resp.Body.Close()
	if c.Inflight() != 0 {
		t.Errorf("Inflight after early Close = %d", c.Inflight())
	}
}

func TestStream_Failures(t *testing.T) {
	t.Run("no head", func(t *testing.T) {
		inv := &fakeInvoker{start: func(context.Context, command.Command) (transport.Stream, error) {
			return &fakeStream{r: bytes.NewReader([]byte("junk"))}, nil
		}}
		c := newTestClient(t, nil, inv, nil)
		if _, err := c.Stream(context.Background(), request.New("GET", "https://h/")); !fetcherr.IsParse(err) {
			t.Errorf("err = %v", err)
		}
		if c.Inflight() != 0 {
			t.Errorf("slot leaked: %d", c.Inflight())
		}
	})

	t.Run("start fails", func(t *testing.T) {
		inv := &fakeInvoker{start: func(context.Context, command.Command) (transport.Stream, error) {
			return nil, fetcherr.New(fetcherr.KindTransport, "start transport: no such file")
		}}
		c := newTestClient(t, nil, inv, nil)
		if _, err := c.Stream(context.Background(), request.New("GET", "https://h/")); !fetcherr.IsTransport(err) {
			t.Errorf("err = %v", err)
		}
		if c.Inflight() != 0 {
			t.Errorf("slot leaked: %d", c.Inflight())
		}
	})

	t.Run("body limit", func(t *testing.T) {
		inv := &fakeInvoker{start: func(context.Context, command.Command) (transport.Stream, error) {
			return &fakeStream{r: bytes.NewReader([]byte(okReply + strings.Repeat("x", 100)))}, nil
		}}
		cfg := config.NewDefaultConfig()
		cfg.MaxBodySize = 10
		c := newTestClient(t, cfg, inv, nil)
		resp, err := c.Stream(context.Background(), request.New("GET", "https://h/"))
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		_, err = buf.ReadFrom(resp.Body)
		if fetcherr.KindOf(err) != fetcherr.KindBodyTooLarge || buf.Len() != 10 {
			t.Errorf("read %d bytes, err %v", buf.Len(), err)
		}
		if c.Inflight() != 0 {
			t.Errorf("slot leaked: %d", c.Inflight())
		}
	})
}

func TestReconfigure(t *testing.T) {
	inv := replying(okReply)
	c := newTestClient(t, nil, inv, nil)

	cfg := config.NewDefaultConfig()
	cfg.MaxConcurrency = 3
	cfg.Defaults.UserAgent = "reloaded"
	cfg.DNS.Servers = []string{"1.1.1.1"}
	before := c.resolver.Load()
	if err := c.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if c.Limit() != 3 {
		t.Errorf("Limit = %d", c.Limit())
	}
	if c.resolver.Load() == before {
		t.Error("resolver not rebuilt after DNS change")
	}
	if _, err := c.Do(context.Background(), request.New("GET", "https://h/")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !slices.Contains(inv.Last().Args, "reloaded") {
		t.Errorf("args = %v", inv.Last().Args)
	}

	bad := config.NewDefaultConfig()
	bad.Cache.KeyFields = []string{"cookies"}
	if err := c.Reconfigure(bad); err == nil {
		t.Error("expected error for unknown key field")
	}
	if c.Limit() != 3 {
		t.Error("failed reconfigure must not change settings")
	}
}

func TestNew_OpensAndClosesStore(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Cache.Backend = config.BackendMemory
	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Store().(*cache.Memory); !ok {
		t.Fatalf("store = %T", c.Store())
	}
	if err = c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err = c.Store().Get(context.Background(), "k"); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("store still open: %v", err)
	}
}

func ExampleClient_Do() {
	inv := replying("HTTP/1.1 200 OK\r\n\r\n{\"name\":\"curl2\"}")
	c, _ := NewBuilder().
		WithConfig(config.NewDefaultConfig()).
		WithInvoker(inv).
		WithCapabilities(capability.Set{}).
		Build()
	resp, err := c.Do(context.Background(), request.New("GET", "https://example.com/"))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp.Status, resp.Get("name").String())
	// Output: 200 curl2
}
