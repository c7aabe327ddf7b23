// Package json wraps bytedance/sonic behind the subset of the encoding/json API
// the client uses: request bodies, service envelopes, batch documents and
// cache key material.
package json

import (
	"bytes"
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

// canonical sorts map keys so equal values always encode to equal bytes.
var canonical = sonic.Config{
	SortMapKeys:      true,
	EscapeHTML:       false,
	CompactMarshaler: true,
	ValidateString:   true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalCanonical encodes v with sorted map keys. Used where the bytes feed a
// digest.
func MarshalCanonical(v any) ([]byte, error) {
	return canonical.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sonic.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

// Indent returns src re-indented, or src unchanged when it is not valid JSON.
func Indent(src []byte, indent string) []byte {
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, bytes.TrimSpace(src), "", indent); err != nil {
		return src
	}
	return buf.Bytes()
}

type (
	// RawMessage is a raw encoded JSON value.
	RawMessage = stdjson.RawMessage

	// Number represents a JSON number literal.
	Number = stdjson.Number

	// Marshaler is implemented by types that encode themselves.
	Marshaler = stdjson.Marshaler

	// Unmarshaler is implemented by types that decode themselves.
	Unmarshaler = stdjson.Unmarshaler

	// SyntaxError describes malformed input.
	SyntaxError = stdjson.SyntaxError

	// UnmarshalTypeError describes a value of the wrong type for its destination.
	UnmarshalTypeError = stdjson.UnmarshalTypeError
)

// Encoder writes JSON values to an output stream.
type Encoder struct {
	enc *encoder.StreamEncoder
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: encoder.NewStreamEncoder(w)}
}

// Encode writes the JSON encoding of v followed by a newline.
func (e *Encoder) Encode(v any) error {
	return e.enc.Encode(v)
}

// SetIndent instructs the encoder to format each subsequent encoded value.
func (e *Encoder) SetIndent(prefix, indent string) {
	e.enc.SetIndent(prefix, indent)
}

// SetEscapeHTML specifies whether problematic HTML characters should be escaped.
func (e *Encoder) SetEscapeHTML(on bool) {
	e.enc.SetEscapeHTML(on)
}

// Decoder reads and decodes JSON values from an input stream.
type Decoder struct {
	dec *decoder.StreamDecoder
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decoder.NewStreamDecoder(r)}
}

// Decode reads the next JSON-encoded value from its input and stores it in v.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

// UseNumber decodes numbers into an interface{} as Number instead of float64.
func (d *Decoder) UseNumber() {
	d.dec.UseNumber()
}

// DisallowUnknownFields rejects object keys that match no destination field.
func (d *Decoder) DisallowUnknownFields() {
	d.dec.DisallowUnknownFields()
}
