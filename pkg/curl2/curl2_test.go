package curl2

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/Aslarex/go-curl2/internal/capability"
	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/Aslarex/go-curl2/internal/transport"
)

type recordingInvoker struct{ last command.Command }

func (r *recordingInvoker) Run(_ context.Context, cmd command.Command) (*transport.Result, error) {
	r.last = cmd
	return &transport.Result{Stdout: []byte("HTTP/1.1 200 OK\r\n\r\n{\"name\":\"curl2\"}")}, nil
}

func (r *recordingInvoker) Start(context.Context, command.Command) (transport.Stream, error) {
	panic("not used")
}

func TestNewRequest_Options(t *testing.T) {
	req := NewRequest("POST", "https://h/", map[string]int{"a": 1},
		WithHeader("X-A", "1"),
		WithHeader("X-A", "2"),
		WithProxy("p:8080"),
		WithTimeout(3*time.Second),
		WithConnectTimeout(time.Second),
		WithHTTPVersion("2"),
		WithHTTPVersion("bogus"),
		WithInsecure(),
		WithRedirects(0),
		WithCompression(false),
		WithCache(time.Minute),
	)

	if len(req.Headers) != 2 || req.Headers[1].Value != "2" {
		t.Errorf("headers = %v", req.Headers)
	}
	if req.Proxy != "p:8080" || req.Timeout != 3*time.Second || req.ConnectTimeout != time.Second {
		t.Errorf("proxy/timeouts = %q %v %v", req.Proxy, req.Timeout, req.ConnectTimeout)
	}
	if req.HTTPVersion != request.HTTP2 {
		t.Errorf("HTTPVersion = %v", req.HTTPVersion)
	}
	if !req.TLS.Insecure || req.Redirect.Following() || *req.Compress {
		t.Errorf("flags = %+v %+v %v", req.TLS, req.Redirect, *req.Compress)
	}
	if req.Cache.Enabled == nil || !*req.Cache.Enabled || req.Cache.TTL != time.Minute {
		t.Errorf("cache = %+v", req.Cache)
	}

	WithoutCache()(req)
	if *req.Cache.Enabled {
		t.Error("WithoutCache must disable caching")
	}
}

func TestSend(t *testing.T) {
	inv := &recordingInvoker{}
	c, err := fetch.NewBuilder().WithConfig(NewConfig()).WithInvoker(inv).WithCapabilities(capability.Set{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	resp, err := Send(context.Background(), c, "PUT", "https://h/x", "a=1", WithHeaderOrder(), WithRedirects(3))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := resp.Get("name").String(); got != "curl2" {
		t.Errorf("name = %q", got)
	}
	if !slices.Contains(inv.last.Args, "PUT") || !slices.Contains(inv.last.Args, "-L") {
		t.Errorf("args = %q", inv.last.Args)
	}
}
