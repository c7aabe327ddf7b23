// Package body turns the heterogeneous request body values accepted by the
// client into a single payload plus an inferred content type.
package body

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strings"

	"github.com/Aslarex/go-curl2/internal/json"
)

const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeText      = "text/plain"
	ContentTypeMultipart = "multipart/form-data"
)

// Payload is an encoded request body.
type Payload struct {
	Data []byte
	// Binary payloads cannot travel as a process argument and are fed on stdin.
	Binary bool
	// ContentType is a hint; empty when nothing could be inferred.
	ContentType string
	// Digest identifies multipart content independently of the random
	// boundary. Empty for other payloads, whose Data is already stable.
	Digest string
}

// Empty reports whether there is nothing to send.
func (p Payload) Empty() bool { return len(p.Data) == 0 && !p.Binary }

// Encode converts v into a Payload. Readers are drained fully; ctx is checked
// between reads. A nil v yields an empty payload.
func Encode(ctx context.Context, v any) (Payload, error) {
	switch b := v.(type) {
	case nil:
		return Payload{}, nil
	case string:
		return encodeString(b), nil
	case []byte:
		return Payload{Data: b, Binary: true}, nil
	case json.RawMessage:
		return Payload{Data: b, ContentType: ContentTypeJSON}, nil
	case url.Values:
		return Payload{Data: []byte(b.Encode()), ContentType: ContentTypeForm}, nil
	case *Form:
		return b.encode(ctx)
	case io.Reader:
		data, err := readAll(ctx, b)
		if err != nil {
			return Payload{}, fmt.Errorf("read request body: %w", err)
		}
		return Payload{Data: data, Binary: true}, nil
	}

	if isStructured(v) {
		data, err := json.MarshalCanonical(v)
		if err != nil {
			return Payload{}, fmt.Errorf("encode json body: %w", err)
		}
		return Payload{Data: data, ContentType: ContentTypeJSON}, nil
	}
	return encodeString(fmt.Sprint(v)), nil
}

func encodeString(s string) Payload {
	return Payload{
		Data:        []byte(s),
		Binary:      strings.IndexByte(s, 0) >= 0,
		ContentType: Sniff(s),
	}
}

// Sniff infers a content type for a textual body.
func Sniff(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ContentTypeText
	}
	if looksLikeJSON(trimmed) {
		return ContentTypeJSON
	}
	if looksLikeForm(trimmed) {
		return ContentTypeForm
	}
	return ContentTypeText
}

func looksLikeJSON(s string) bool {
	first, last := s[0], s[len(s)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return false
	}
	return json.Valid([]byte(s))
}

func looksLikeForm(s string) bool {
	for _, pair := range strings.Split(s, "&") {
		key, _, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return false
		}
		if strings.ContainsAny(pair, " \t\r\n") {
			return false
		}
	}
	return true
}

func isStructured(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
