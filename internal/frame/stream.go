package frame

import (
	"bytes"
	"io"
	"strings"

	"github.com/Aslarex/go-curl2/internal/fetcherr"
)

const (
	readChunk = 32 << 10
	// maxScan bounds how far ahead ReadHead buffers while looking for a head.
	maxScan = 8 << 20
)

// Head is the status and headers of a streamed response. Body yields the
// final hop's body: bytes already buffered past the head first, then the rest
// of the stream.
type Head struct {
	Frame     Frame
	URL       string
	Redirects []string
	Body      io.Reader
}

type scanner struct {
	r   io.Reader
	buf []byte
	eof bool
	err error
}

// fill reads one more chunk. It reports false once the source is exhausted.
func (s *scanner) fill() bool {
	if s.eof {
		return false
	}
	if cap(s.buf)-len(s.buf) < readChunk {
		grown := make([]byte, len(s.buf), 2*cap(s.buf)+readChunk)
		copy(grown, s.buf)
		s.buf = grown
	}
	n, err := s.r.Read(s.buf[len(s.buf):cap(s.buf)])
	s.buf = s.buf[:len(s.buf)+n]
	if err != nil {
		s.eof = true
		if err != io.EOF {
			s.err = err
		}
	}
	return true
}

func (s *scanner) failure(msg string) error {
	if s.err != nil {
		return s.err
	}
	return &fetcherr.Error{Kind: fetcherr.KindParse, Message: msg, Raw: string(s.buf)}
}

// ReadHead reads r until the head of the response that carries the body has
// been parsed. 1xx frames and proxy CONNECT replies are skipped. When follow is
// set, 3xx frames with a Location are skipped too and their resolved targets
// recorded, starting from origin.
func ReadHead(r io.Reader, origin string, follow bool) (*Head, error) {
	s := &scanner{r: r}
	current := origin
	var redirects []string
	pos := 0
	first := true

	for {
		start := -1
		for {
			start = nextStatusLine(s.buf, pos)
			if start >= 0 {
				break
			}
			if len(s.buf)-pos > maxScan {
				return nil, s.failure("no HTTP status line within scan limit")
			}
			if !s.fill() {
				return nil, s.failure("no HTTP status line in transport output")
			}
		}

		var sepStart, sepEnd int
		for {
			sepStart, sepEnd = findSeparator(s.buf, start)
			if sepStart >= 0 {
				break
			}
			if len(s.buf)-start > maxScan {
				return nil, s.failure("response head exceeds scan limit")
			}
			if !s.fill() {
				if s.err != nil {
					return nil, s.err
				}
				sepStart, sepEnd = len(s.buf), len(s.buf)
				break
			}
		}

		f := parseHead(s.buf[start:sepStart])
		pos = sepEnd

		switch {
		case f.Informational():
			first = false
			continue
		case first && connectReply(&f):
			first = false
			continue
		case follow && f.Redirect():
			if more, err := s.hasNext(pos); err != nil {
				return nil, err
			} else if more {
				current = ResolveLocation(current, f.Location())
				redirects = append(redirects, current)
				first = false
				continue
			}
		}

		rest := append([]byte(nil), s.buf[pos:]...)
		body := io.Reader(bytes.NewReader(rest))
		if !s.eof {
			body = io.MultiReader(body, r)
		} else if s.err != nil {
			body = io.MultiReader(body, errReader{s.err})
		}
		return &Head{Frame: f, URL: current, Redirects: redirects, Body: body}, nil
	}
}

// hasNext reports whether another status line follows pos, reading ahead as
// needed.
func (s *scanner) hasNext(pos int) (bool, error) {
	for {
		if nextStatusLine(s.buf, pos) >= 0 {
			return true, nil
		}
		if len(s.buf)-pos > maxScan {
			return false, s.failure("redirect body exceeds scan limit")
		}
		if !s.fill() {
			return false, s.err
		}
	}
}

// connectReply matches the "200 Connection established" line a proxy returns
// for CONNECT, which the transport echoes ahead of the real response.
func connectReply(f *Frame) bool {
	return f.Status == 200 && strings.EqualFold(strings.TrimSpace(f.Reason), "connection established")
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
