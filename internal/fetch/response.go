package fetch

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Aslarex/go-curl2/internal/frame"
	"github.com/Aslarex/go-curl2/internal/json"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/tidwall/gjson"
)

// Response is a fully buffered reply. Body views are decoded lazily and
// memoized; a Response is safe for concurrent readers.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	Status     int
	StatusText string
	Proto      string
	Header     http.Header
	// RawHeaders keeps the wire order and spelling.
	RawHeaders []frame.Header

	Cached     bool
	Redirected bool
	// Redirects lists every hop target in order.
	Redirects []string
	// RedirectResponses holds the intermediate replies when the request asked for them.
	RedirectResponses []*Response

	Elapsed time.Duration
	Request *request.Request

	raw []byte
	// transportDecoded is set when the transport already removed content codings.
	transportDecoded bool

	decodeOnce sync.Once
	decoded    []byte
	decodeErr  error
}

func newResponse(f frame.Frame, url string) *Response {
	h := make(http.Header, len(f.Headers))
	for _, kv := range f.Headers {
		h.Add(kv.Name, kv.Value)
	}
	text := f.Reason
	if text == "" {
		text = http.StatusText(f.Status)
	}
	return &Response{
		URL:        url,
		Status:     f.Status,
		StatusText: text,
		Proto:      f.Proto,
		Header:     h,
		RawHeaders: f.Headers,
		raw:        f.Body,
	}
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// StatusCode implements request.ResponseView.
func (r *Response) StatusCode() int { return r.Status }

// HeaderValue implements request.ResponseView.
func (r *Response) HeaderValue(name string) string { return r.Header.Get(name) }

// RawBody returns the body exactly as received.
func (r *Response) RawBody() []byte { return r.raw }

// Bytes returns the body with any content coding the transport left in place removed.
func (r *Response) Bytes() ([]byte, error) {
	r.decodeOnce.Do(func() {
		if r.transportDecoded {
			r.decoded = r.raw
			return
		}
		r.decoded, r.decodeErr = decodeBody(r.raw, r.Header.Get("Content-Encoding"))
	})
	return r.decoded, r.decodeErr
}

// Text returns the decoded body as a string. Undecodable bodies are returned raw.
func (r *Response) Text() string {
	b, err := r.Bytes()
	if err != nil {
		return string(r.raw)
	}
	return string(b)
}

// JSON unmarshals the decoded body into v.
func (r *Response) JSON(v any) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Get extracts a value from a JSON body by gjson path, e.g. "data.items.0.id".
func (r *Response) Get(path string) gjson.Result {
	b, err := r.Bytes()
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(b, path)
}

// Envelope is the JSON form of a Response served by the HTTP service and the CLI.
type Envelope struct {
	URL        string              `json:"url"`
	Status     int                 `json:"status"`
	StatusText string              `json:"status_text"`
	Proto      string              `json:"proto,omitempty"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body,omitempty"`
	BodyBase64 string              `json:"body_base64,omitempty"`
	Cached     bool                `json:"cached"`
	Redirected bool                `json:"redirected"`
	Redirects  []string            `json:"redirects,omitempty"`
	Hops       []Envelope          `json:"hops,omitempty"`
	ElapsedMS  int64               `json:"elapsed_ms"`
}

// Envelope converts r. Bodies that are not valid UTF-8 are base64 encoded.
func (r *Response) Envelope() Envelope {
	b, err := r.Bytes()
	if err != nil {
		b = r.raw
	}
	env := Envelope{
		URL:        r.URL,
		Status:     r.Status,
		StatusText: r.StatusText,
		Proto:      r.Proto,
		Headers:    r.Header,
		Cached:     r.Cached,
		Redirected: r.Redirected,
		Redirects:  r.Redirects,
		ElapsedMS:  r.Elapsed.Milliseconds(),
	}
	if utf8.Valid(b) {
		env.Body = string(b)
	} else {
		env.BodyBase64 = base64.StdEncoding.EncodeToString(b)
	}
	for _, hop := range r.RedirectResponses {
		env.Hops = append(env.Hops, hop.Envelope())
	}
	return env
}

// buildResponse turns raw transport output into a Response for req.
func buildResponse(raw []byte, req *request.Request) (*Response, error) {
	frames, err := frame.Parse(raw)
	if err != nil {
		return nil, err
	}
	chain := frame.Follow(frames, req.URL)
	decoded := transportDecodes(req)

	resp := newResponse(chain.Final, chain.URL)
	resp.Request = req
	resp.transportDecoded = decoded
	resp.Redirects = chain.Redirects
	resp.Redirected = len(chain.Redirects) > 0
	if req.RedirectObjects {
		for _, hop := range chain.Hops {
			hr := newResponse(hop.Frame, hop.URL)
			hr.Request = req
			hr.transportDecoded = decoded
			resp.RedirectResponses = append(resp.RedirectResponses, hr)
		}
	}
	return resp, nil
}

// transportDecodes reports whether the transport was asked to decompress.
func transportDecodes(req *request.Request) bool {
	return (req.Compress == nil || *req.Compress) && req.Method != http.MethodHead
}
