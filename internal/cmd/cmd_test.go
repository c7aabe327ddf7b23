package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/capability"
	"github.com/Aslarex/go-curl2/internal/command"
	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/json"
	"github.com/Aslarex/go-curl2/internal/transport"
	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

type funcInvoker func(cmd command.Command) (*transport.Result, error)

func (f funcInvoker) Run(_ context.Context, cmd command.Command) (*transport.Result, error) {
	return f(cmd)
}

func (f funcInvoker) Start(_ context.Context, cmd command.Command) (transport.Stream, error) {
	res, err := f(cmd)
	if err != nil {
		return nil, err
	}
	return &bufferStream{Reader: bytes.NewReader(res.Stdout)}, nil
}

type bufferStream struct{ *bytes.Reader }

func (*bufferStream) Close() error   { return nil }
func (*bufferStream) Stderr() []byte { return nil }

func newClient(t *testing.T, inv transport.Invoker) *fetch.Client {
	t.Helper()
	c, err := fetch.NewBuilder().WithConfig(config.NewDefaultConfig()).WithInvoker(inv).WithCapabilities(capability.Set{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func reply(out string) funcInvoker {
	return func(command.Command) (*transport.Result, error) {
		return &transport.Result{Stdout: []byte(out)}, nil
	}
}

func TestBuildRequest(t *testing.T) {
	dir := t.TempDir()
	upload := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(upload, []byte("file body"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("get by default", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{URL: "https://h/", Headers: []string{"X-A: 1", "Accept:text/html"}})
		if err != nil {
			t.Fatalf("BuildRequest: %v", err)
		}
		if req.Method != "GET" || len(req.Headers) != 2 || req.Headers[1].Value != "text/html" {
			t.Errorf("req = %+v", req)
		}
	})

	t.Run("data implies post", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{URL: "https://h/", Data: "a=1"})
		if err != nil || req.Method != "POST" || req.Body != "a=1" {
			t.Fatalf("req = %+v, %v", req, err)
		}
	})

	t.Run("data from stdin", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{URL: "https://h/", Method: "PUT", Data: "@-", Stdin: strings.NewReader("piped")})
		if err != nil || req.Method != "PUT" || req.Body != "piped" {
			t.Fatalf("req = %+v, %v", req, err)
		}
	})

	t.Run("json fields", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{URL: "https://h/", JSONFields: []string{"name=curl2", "n=3", "tags=[1,2]", "user.id=7"}})
		if err != nil {
			t.Fatalf("BuildRequest: %v", err)
		}
		raw, ok := req.Body.(json.RawMessage)
		if !ok {
			t.Fatalf("body type %T", req.Body)
		}
		var got map[string]any
		if err = json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["name"] != "curl2" || got["n"] != float64(3) || len(got["tags"].([]any)) != 2 {
			t.Errorf("json = %s", raw)
		}
		if got["user"].(map[string]any)["id"] != float64(7) {
			t.Errorf("nested path not set: %s", raw)
		}
	})

	t.Run("form with file", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{URL: "https://h/", FormFields: []string{"a=1", "doc=@" + upload}})
		if err != nil {
			t.Fatalf("BuildRequest: %v", err)
		}
		form, ok := req.Body.(*body.Form)
		if !ok || form.Len() != 2 {
			t.Fatalf("body = %#v", req.Body)
		}
	})

	t.Run("flags", func(t *testing.T) {
		req, err := BuildRequest(&FetchOptions{
			URL: "https://h/", Location: true, MaxRedirs: 4, NoCompress: true, HTTPVersion: "1.1", Cache: true, Pin: true,
		})
		if err != nil {
			t.Fatalf("BuildRequest: %v", err)
		}
		if !req.Redirect.Following() || req.Redirect.Max != 4 || *req.Compress || !*req.Cache.Enabled || !req.DNS.Pin {
			t.Errorf("req = %+v", req)
		}
	})

	errorCases := []struct {
		name string
		opts FetchOptions
	}{
		{"no url", FetchOptions{}},
		{"bad header", FetchOptions{URL: "https://h/", Headers: []string{"nocolon"}}},
		{"two bodies", FetchOptions{URL: "https://h/", Data: "x", JSONFields: []string{"a=1"}}},
		{"bad json field", FetchOptions{URL: "https://h/", JSONFields: []string{"novalue"}}},
		{"missing form file", FetchOptions{URL: "https://h/", FormFields: []string{"f=@" + filepath.Join(dir, "missing")}}},
		{"bad http version", FetchOptions{URL: "https://h/", HTTPVersion: "7"}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildRequest(&tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDoFetch_Include(t *testing.T) {
	c := newClient(t, reply("HTTP/2 404\r\nx-b: 2\r\nX-A: 1\r\n\r\nmissing"))
	opts := &FetchOptions{URL: "https://h/", Include: true}
	req, _ := BuildRequest(opts)

	var out bytes.Buffer
	if err := DoFetch(context.Background(), c, req, opts, &out); err != nil {
		t.Fatalf("DoFetch: %v", err)
	}
	want := "HTTP/2 404 Not Found\nx-b: 2\nX-A: 1\n\nmissing"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestDoFetch_OutputFileAndEnvelope(t *testing.T) {
	c := newClient(t, reply("HTTP/1.1 200 OK\r\n\r\nsaved"))
	path := filepath.Join(t.TempDir(), "out.json")
	opts := &FetchOptions{URL: "https://h/", Output: path, Envelope: true}
	req, _ := BuildRequest(opts)

	var out bytes.Buffer
	if err := DoFetch(context.Background(), c, req, opts, &out); err != nil {
		t.Fatalf("DoFetch: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("stdout = %q", out.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var env fetch.Envelope
	if err = json.Unmarshal(data, &env); err != nil || env.Body != "saved" || env.Status != 200 {
		t.Errorf("envelope = %+v, %v", env, err)
	}
}

func TestDoFetch_Stream(t *testing.T) {
	c := newClient(t, reply("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nstreamed"))
	opts := &FetchOptions{URL: "https://h/", Stream: true}
	req, _ := BuildRequest(opts)

	var out bytes.Buffer
	if err := DoFetch(context.Background(), c, req, opts, &out); err != nil {
		t.Fatalf("DoFetch: %v", err)
	}
	if out.String() != "streamed" {
		t.Errorf("output = %q", out.String())
	}
}

func TestParseBatch(t *testing.T) {
	docs, err := ParseBatch([]byte(`[
		// first
		{"url": "https://h/a"},
		{"url": "https://h/b", "method": "post", "json": {"x": 1},},
	]`))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(docs) != 2 || docs[1].Method != "post" || !json.Valid(docs[1].JSON) {
		t.Errorf("docs = %+v", docs)
	}

	if _, err = ParseBatch([]byte(`{"url": `)); err == nil {
		t.Error("expected error for truncated input")
	}
}

func TestRunBatch(t *testing.T) {
	inv := funcInvoker(func(cmd command.Command) (*transport.Result, error) {
		url := cmd.Args[len(cmd.Args)-1]
		if strings.HasSuffix(url, "/fail") {
			return nil, &fetcherr.Error{Kind: fetcherr.KindTransport, Message: "Could not resolve host", ExitCode: 6}
		}
		return &transport.Result{Stdout: []byte("HTTP/1.1 200 OK\r\n\r\n" + url)}, nil
	})
	c := newClient(t, inv)

	docs, err := ParseBatch([]byte(`[{"url":"https://h/1"},{"url":"https://h/fail"},{"url":"ftp://h/"},{"url":"https://h/3"}]`))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	results := RunBatch(context.Background(), c, docs, 2)
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}
	if results[0].Response == nil || results[0].Response.Body != "https://h/1" {
		t.Errorf("result 0 = %+v", results[0])
	}
	if e := results[1].Error; e == nil || e.Kind != "transport" || e.ExitCode != 6 {
		t.Errorf("result 1 = %+v", results[1])
	}
	if e := results[2].Error; e == nil || e.Kind != "construction" {
		t.Errorf("result 2 = %+v", results[2])
	}
	if results[3].Response == nil || results[3].Response.Body != "https://h/3" {
		t.Errorf("result 3 = %+v", results[3])
	}
}

func TestDoBatch(t *testing.T) {
	c := newClient(t, reply("HTTP/1.1 200 OK\r\n\r\nok"))
	path := filepath.Join(t.TempDir(), "batch.hujson")
	if err := os.WriteFile(path, []byte(`[{"url":"https://h/a"}, {"url":"https://h/b"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	failed, err := DoBatch(context.Background(), c, path, 0, &out)
	if err != nil || failed != 0 {
		t.Fatalf("DoBatch = %d, %v", failed, err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var first BatchResult
	if err = json.Unmarshal([]byte(lines[0]), &first); err != nil || first.URL != "https://h/a" {
		t.Errorf("first = %+v, %v", first, err)
	}
}

func TestDoInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	var out bytes.Buffer
	if err := DoInitConfig(path, false, &out); err != nil {
		t.Fatalf("DoInitConfig: %v", err)
	}
	if _, err := config.LoadConfig(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	if err := os.WriteFile(path, []byte("debug: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := DoInitConfig(path, false, &out); err != nil || !strings.Contains(out.String(), "already exists") {
		t.Errorf("second run = %q, %v", out.String(), err)
	}
	if err := DoInitConfig(path, true, &out); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if data, _ := os.ReadFile(path); bytes.Equal(data, []byte("debug: true\n")) {
		t.Error("--force must overwrite the file")
	}
}

func TestPrintCapabilities(t *testing.T) {
	c, err := fetch.NewBuilder().WithConfig(config.NewDefaultConfig()).WithInvoker(reply("")).
		WithCapabilities(capability.Set{Version: [3]int{8, 5, 0}, TLSBackend: "OpenSSL/3.0.2", HTTP2: true}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var out bytes.Buffer
	PrintCapabilities(context.Background(), c, &out)
	got := out.String()
	if !strings.HasPrefix(got, "curl 8.5.0 (OpenSSL/3.0.2)\n") || !strings.Contains(got, "http2                yes") {
		t.Errorf("output = %q", got)
	}
}
