package fetch

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/Aslarex/go-curl2/internal/fetcherr"
	"github.com/Aslarex/go-curl2/internal/frame"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/Aslarex/go-curl2/internal/transport"
)

// StreamResponse is a reply whose body is read incrementally from the
// running transport process. Body must be closed.
type StreamResponse struct {
	URL        string
	Status     int
	StatusText string
	Proto      string
	Header     http.Header
	RawHeaders []frame.Header
	Redirected bool
	Redirects  []string
	Request    *request.Request

	// Decoded reports whether the transport decompressed Body. Header still
	// carries the upstream Content-Encoding either way.
	Decoded bool

	// Body yields the final response body. A transport failure or cancellation
	// mid-stream surfaces as the read error.
	Body io.ReadCloser
}

// Stream executes req and returns once the final response head has arrived.
// The in-flight slot is held until Body reaches EOF, fails or is closed.
// Streamed responses are never cached.
func (c *Client) Stream(ctx context.Context, req *request.Request) (*StreamResponse, error) {
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
	if !c.acquire() {
		return nil, c.admissionError(r)
	}
	release := sync.OnceFunc(c.release)

	cmd, err := c.buildCommand(ctx, r, payload)
	if err != nil {
		release()
		return nil, err
	}
	proc, err := c.invoker.Start(ctx, cmd)
	if err != nil {
		release()
		return nil, fetcherr.WithRequest(err, r)
	}

	head, err := frame.ReadHead(proc, r.URL, r.Redirect.Following())
	if err != nil {
		_ = proc.Close()
		release()
		if ctx.Err() != nil {
			return nil, fetcherr.WithRequest(fetcherr.Aborted(ctx), r)
		}
		return nil, fetcherr.WithRequest(err, r)
	}

	resp := newResponse(head.Frame, head.URL)
	return &StreamResponse{
		URL:        resp.URL,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Proto:      resp.Proto,
		Header:     resp.Header,
		RawHeaders: resp.RawHeaders,
		Redirected: len(head.Redirects) > 0,
		Redirects:  head.Redirects,
		Request:    r,
		Decoded:    transportDecodes(r),
		Body: &streamBody{
			r:       head.Body,
			proc:    proc,
			release: release,
			limit:   s.maxBody,
			req:     r,
		},
	}, nil
}

// streamBody releases the in-flight slot exactly once, on the first of EOF,
// read error or Close.
type streamBody struct {
	r       io.Reader
	proc    transport.Stream
	release func()
	limit   int64
	read    int64
	req     *request.Request

	mu  sync.Mutex
	err error
}

func (b *streamBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}

	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.limit > 0 && b.read > b.limit {
		n -= int(b.read - b.limit)
		b.read = b.limit
		e := fetcherr.New(fetcherr.KindBodyTooLarge, "streamed body exceeds limit of %d", b.limit)
		e.Request = b.req
		err = e
		_ = b.proc.Close()
	}
	if err != nil {
		b.err = err
		b.release()
	}
	return n, err
}

func (b *streamBody) Close() error {
	err := b.proc.Close()
	b.mu.Lock()
	if b.err == nil {
		b.err = fetcherr.New(fetcherr.KindAborted, "body closed")
	}
	b.mu.Unlock()
	b.release()
	return err
}
