package body

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const boundaryPrefix = "----curl2FormBoundary"

type formPart struct {
	name        string
	value       string
	filename    string
	contentType string
	data        []byte
	reader      io.Reader
	file        bool
}

// Form is a multipart/form-data body. Parts are emitted in insertion order.
type Form struct {
	parts []formPart
}

// NewForm returns an empty multipart form.
func NewForm() *Form {
	return &Form{}
}

// Field adds a plain text field.
func (f *Form) Field(name, value string) *Form {
	f.parts = append(f.parts, formPart{name: name, value: value})
	return f
}

// File adds a binary field with an in-memory payload.
func (f *Form) File(name, filename, contentType string, data []byte) *Form {
	f.parts = append(f.parts, formPart{name: name, filename: filename, contentType: contentType, data: data, file: true})
	return f
}

// FileReader adds a binary field read from r when the form is encoded.
func (f *Form) FileReader(name, filename, contentType string, r io.Reader) *Form {
	f.parts = append(f.parts, formPart{name: name, filename: filename, contentType: contentType, reader: r, file: true})
	return f
}

// Len returns the number of parts.
func (f *Form) Len() int { return len(f.parts) }

func newBoundary() string {
	return boundaryPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (f *Form) encode(ctx context.Context) (Payload, error) {
	var buf bytes.Buffer
	digest := sha256.New()
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(newBoundary()); err != nil {
		return Payload{}, err
	}

	for i := range f.parts {
		p := &f.parts[i]
		hdr := make(textproto.MIMEHeader)
		if !p.file {
			fmt.Fprintf(digest, "field|%q|%q\x00", p.name, p.value)
			hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(p.name)))
			part, err := w.CreatePart(hdr)
			if err != nil {
				return Payload{}, err
			}
			if _, err = io.WriteString(part, p.value); err != nil {
				return Payload{}, err
			}
			continue
		}

		ct := p.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(p.name), escapeQuotes(p.filename)))
		hdr.Set("Content-Type", ct)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return Payload{}, err
		}
		data := p.data
		if p.reader != nil {
			if data, err = readAll(ctx, p.reader); err != nil {
				return Payload{}, fmt.Errorf("read form file %q: %w", p.name, err)
			}
		}
		if _, err = part.Write(data); err != nil {
			return Payload{}, err
		}
		// Hash what was sent; reader-backed parts are only known here.
		fmt.Fprintf(digest, "file|%q|%q|%q|%d|", p.name, p.filename, ct, len(data))
		digest.Write(data)
	}
	if err := w.Close(); err != nil {
		return Payload{}, err
	}

	return Payload{
		Data:        buf.Bytes(),
		Binary:      true,
		ContentType: ContentTypeMultipart + "; boundary=" + w.Boundary(),
		Digest:      hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
