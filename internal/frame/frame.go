// Package frame recovers HTTP response frames from the concatenated output of
// the transport process: one status line, header block and body per hop.
package frame

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/Aslarex/go-curl2/internal/fetcherr"
)

// StatusMalformed replaces a status code that is not three digits.
const StatusMalformed = 500

// Header is one header line as received. Names are not case-folded.
type Header struct {
	Name  string
	Value string
}

// Frame is one parsed response hop.
type Frame struct {
	Proto   string
	Status  int
	Reason  string
	Headers []Header
	Body    []byte
}

// Get returns the first value for name, compared case-insensitively.
func (f *Frame) Get(name string) string {
	for _, h := range f.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value for name in receipt order.
func (f *Frame) Values(name string) []string {
	var out []string
	for _, h := range f.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Location returns the redirect target, if any.
func (f *Frame) Location() string { return f.Get("Location") }

// Informational reports a 1xx frame.
func (f *Frame) Informational() bool { return f.Status >= 100 && f.Status < 200 }

// Redirect reports a 3xx frame carrying a Location.
func (f *Frame) Redirect() bool {
	return f.Status >= 300 && f.Status < 400 && f.Location() != ""
}

// Parse splits raw transport output into frames. The first frame of a
// multi-frame sequence is dropped when it carries no Location (a proxy CONNECT
// reply or an echoed 100 Continue), as is any remaining 1xx frame. Bodies of
// intermediate hops are trimmed of trailing whitespace; the final body is kept
// byte for byte.
func Parse(raw []byte) ([]Frame, error) {
	pos := nextStatusLine(raw, 0)
	if pos < 0 {
		return nil, &fetcherr.Error{
			Kind:    fetcherr.KindParse,
			Message: "no HTTP status line in transport output",
			Raw:     string(raw),
		}
	}

	var frames []Frame
	for pos >= 0 {
		sepStart, sepEnd := findSeparator(raw, pos)
		if sepStart < 0 {
			frames = append(frames, parseHead(raw[pos:]))
			break
		}
		f := parseHead(raw[pos:sepStart])
		next := nextStatusLine(raw, sepEnd)
		end := len(raw)
		if next >= 0 {
			end = next
		}
		f.Body = raw[sepEnd:end]
		frames = append(frames, f)
		pos = next
	}

	frames = dropInterim(frames)
	for i := 0; i < len(frames)-1; i++ {
		frames[i].Body = bytes.TrimRight(frames[i].Body, " \t\r\n")
	}
	return frames, nil
}

func dropInterim(frames []Frame) []Frame {
	if len(frames) > 1 && frames[0].Location() == "" {
		frames = frames[1:]
	}
	kept := frames[:0]
	for i := range frames {
		if frames[i].Informational() && i < len(frames)-1 {
			continue
		}
		kept = append(kept, frames[i])
	}
	return kept
}

// Hop is one intermediate frame and the URL it was served from.
type Hop struct {
	URL   string
	Frame Frame
}

// Chain is the outcome of walking a frame sequence.
type Chain struct {
	// URL is the effective URL of the final frame.
	URL       string
	Final     Frame
	Redirects []string
	Hops      []Hop
}

// Follow walks the Location headers of frames starting at origin. Relative
// targets are resolved against the URL of the hop that returned them.
func Follow(frames []Frame, origin string) Chain {
	c := Chain{URL: origin}
	if len(frames) == 0 {
		return c
	}
	for _, f := range frames[:len(frames)-1] {
		c.Hops = append(c.Hops, Hop{URL: c.URL, Frame: f})
		if loc := f.Location(); loc != "" {
			c.URL = ResolveLocation(c.URL, loc)
			c.Redirects = append(c.Redirects, c.URL)
		}
	}
	c.Final = frames[len(frames)-1]
	return c
}

// ResolveLocation resolves loc against base. Unparseable input yields loc.
func ResolveLocation(base, loc string) string {
	b, err := url.Parse(base)
	if err != nil {
		return loc
	}
	ref, err := url.Parse(strings.TrimSpace(loc))
	if err != nil {
		return loc
	}
	return b.ResolveReference(ref).String()
}

// nextStatusLine returns the offset of the first status line at or after from.
// from must be a line start.
func nextStatusLine(b []byte, from int) int {
	i := from
	for i < len(b) {
		if isStatusLine(b[i:]) {
			return i
		}
		j := bytes.IndexByte(b[i:], '\n')
		if j < 0 {
			return -1
		}
		i += j + 1
	}
	return -1
}

// isStatusLine reports whether b starts with "HTTP/<version> ".
func isStatusLine(b []byte) bool {
	if !bytes.HasPrefix(b, []byte("HTTP/")) {
		return false
	}
	i := len("HTTP/")
	start := i
	for i < len(b) && (b[i] >= '0' && b[i] <= '9' || b[i] == '.') {
		i++
	}
	return i > start && i < len(b) && b[i] == ' '
}

// findSeparator locates the blank line ending the head starting at from,
// preferring whichever of CRLF CRLF and LF LF comes first.
func findSeparator(b []byte, from int) (start, end int) {
	crlf := bytes.Index(b[from:], []byte("\r\n\r\n"))
	lf := bytes.Index(b[from:], []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return from + crlf, from + crlf + 4
	case lf >= 0:
		return from + lf, from + lf + 2
	}
	return -1, -1
}

func parseHead(head []byte) Frame {
	var f Frame
	lines := strings.Split(string(head), "\n")
	statusLine := strings.TrimRight(lines[0], "\r")
	f.Proto, f.Status, f.Reason = parseStatusLine(statusLine)

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		f.Headers = append(f.Headers, Header{
			Name:  line[:idx],
			Value: strings.TrimLeft(line[idx+1:], " \t"),
		})
	}
	return f
}

func parseStatusLine(line string) (proto string, status int, reason string) {
	proto, rest, _ := strings.Cut(line, " ")
	code, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	status = StatusMalformed
	if len(code) == 3 && code[0] != '0' && isDigits(code) {
		status = int(code[0]-'0')*100 + int(code[1]-'0')*10 + int(code[2]-'0')
	}
	return proto, status, reason
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
