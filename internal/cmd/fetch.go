package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/Aslarex/go-curl2/internal/frame"
	"github.com/Aslarex/go-curl2/internal/json"
	"github.com/Aslarex/go-curl2/internal/request"
	"github.com/fatih/color"
	"github.com/skratchdot/open-golang/open"
	"github.com/tidwall/sjson"
)

// FetchOptions mirrors the single-request command-line flags.
type FetchOptions struct {
	Method  string
	URL     string
	Headers []string

	// Data is a literal body, "@path" for a file or "@-" for stdin.
	Data string
	// JSONFields are key=value pairs assembled into a JSON object. Keys are
	// sjson paths; values that parse as JSON are inserted raw.
	JSONFields []string
	// FormFields are name=value or name=@path multipart parts.
	FormFields []string

	Proxy          string
	Insecure       bool
	HTTPVersion    string
	Location       bool
	MaxRedirs      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NoCompress     bool
	HeaderOrder    bool
	Pin            bool

	Cache    bool
	CacheTTL time.Duration

	Include  bool
	Envelope bool
	Stream   bool
	Output   string
	Open     bool

	// Stdin backs "@-" bodies. Nil means os.Stdin.
	Stdin io.Reader
}

// BuildRequest turns opts into a request. At most one body source may be set.
func BuildRequest(opts *FetchOptions) (*request.Request, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("a URL is required")
	}
	sources := 0
	for _, set := range []bool{opts.Data != "", len(opts.JSONFields) > 0, len(opts.FormFields) > 0} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, errors.New("-d, --json and --form are mutually exclusive")
	}

	req := request.New(opts.Method, opts.URL)
	for _, h := range opts.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("header %q: expected \"Name: value\"", h)
		}
		req.AddHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	var err error
	switch {
	case opts.Data != "":
		req.Body, err = dataBody(opts.Data, opts.Stdin)
	case len(opts.JSONFields) > 0:
		req.Body, err = jsonBody(opts.JSONFields)
	case len(opts.FormFields) > 0:
		req.Body, err = formBody(opts.FormFields)
	}
	if err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = http.MethodGet
		if req.Body != nil {
			req.Method = http.MethodPost
		}
	}

	req.Proxy = opts.Proxy
	req.TLS.Insecure = opts.Insecure
	if opts.HTTPVersion != "" {
		if req.HTTPVersion, err = request.ParseHTTPVersion(opts.HTTPVersion); err != nil {
			return nil, err
		}
	}
	if opts.Location {
		follow := true
		req.Redirect = request.Redirect{Follow: &follow, Max: opts.MaxRedirs}
	}
	req.Timeout = opts.Timeout
	req.ConnectTimeout = opts.ConnectTimeout
	if opts.NoCompress {
		off := false
		req.Compress = &off
	}
	req.HeaderOrder = opts.HeaderOrder
	req.DNS.Pin = opts.Pin
	if opts.Cache {
		on := true
		req.Cache.Enabled = &on
		req.Cache.TTL = opts.CacheTTL
	}
	req.Stream = opts.Stream
	return req, nil
}

func dataBody(data string, stdin io.Reader) (any, error) {
	switch {
	case data == "@-":
		if stdin == nil {
			stdin = os.Stdin
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read body from stdin: %w", err)
		}
		return string(b), nil
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		return string(b), nil
	}
	return data, nil
}

func jsonBody(fields []string) (json.RawMessage, error) {
	doc := []byte("{}")
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--json %q: expected key=value", field)
		}
		var err error
		if json.Valid([]byte(value)) {
			doc, err = sjson.SetRawBytes(doc, key, []byte(value))
		} else {
			doc, err = sjson.SetBytes(doc, key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("--json %q: %w", field, err)
		}
	}
	return doc, nil
}

func formBody(fields []string) (*body.Form, error) {
	form := body.NewForm()
	for _, field := range fields {
		name, value, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--form %q: expected name=value or name=@file", field)
		}
		if !strings.HasPrefix(value, "@") {
			form.Field(name, value)
			continue
		}
		path := value[1:]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("--form %q: %w", field, err)
		}
		form.File(name, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
	}
	return form, nil
}

// DoFetch runs req on client and writes the result to stdout, or to
// opts.Output when set.
func DoFetch(ctx context.Context, client *fetch.Client, req *request.Request, opts *FetchOptions, stdout io.Writer) error {
	out := stdout
	var file *os.File
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		file = f
		out = f
	}

	err := writeFetch(ctx, client, req, opts, stdout, out)
	if file != nil {
		if errClose := file.Close(); err == nil {
			err = errClose
		}
	}
	if err != nil {
		return err
	}

	if file != nil && opts.Open {
		if errOpen := open.Run(opts.Output); errOpen != nil {
			return fmt.Errorf("open %s: %w", opts.Output, errOpen)
		}
	}
	return nil
}

func writeFetch(ctx context.Context, client *fetch.Client, req *request.Request, opts *FetchOptions, headOut, out io.Writer) error {
	if req.Stream {
		resp, err := client.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if opts.Include {
			printHead(headOut, resp.Proto, resp.Status, resp.StatusText, resp.RawHeaders)
		}
		_, err = io.Copy(out, resp.Body)
		return err
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return err
	}
	if opts.Envelope {
		data, errMarshal := json.MarshalIndent(resp.Envelope(), "", "  ")
		if errMarshal != nil {
			return errMarshal
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}
	if opts.Include {
		printHead(headOut, resp.Proto, resp.Status, resp.StatusText, resp.RawHeaders)
	}
	data, err := resp.Bytes()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return color.New(color.FgRed, color.Bold)
	case status >= 400:
		return color.New(color.FgRed)
	case status >= 300:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

// printHead writes the status line and headers in wire order.
func printHead(w io.Writer, proto string, status int, statusText string, headers []frame.Header) {
	if proto == "" {
		proto = "HTTP/1.1"
	}
	statusColor(status).Fprintf(w, "%s %d %s\n", proto, status, statusText)
	name := color.New(color.FgCyan)
	for _, h := range headers {
		name.Fprint(w, h.Name)
		fmt.Fprintf(w, ": %s\n", h.Value)
	}
	fmt.Fprintln(w)
}
