package body

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestEncode_ContentTypeInference(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"object", map[string]int{"a": 1}, ContentTypeJSON},
		{"slice", []string{"x", "y"}, ContentTypeJSON},
		{"struct", struct {
			A int `json:"a"`
		}{A: 1}, ContentTypeJSON},
		{"json string", `{"a":1}`, ContentTypeJSON},
		{"json array string", ` [1,2,3] `, ContentTypeJSON},
		{"form string", "a=1&b=2", ContentTypeForm},
		{"single pair", "token=abc", ContentTypeForm},
		{"plain", "hello", ContentTypeText},
		{"broken json", `{"a":`, ContentTypeText},
		{"sentence with equals", "a = b and c", ContentTypeText},
		{"values", url.Values{"q": {"go lang"}}, ContentTypeForm},
		{"bytes", []byte{0x00, 0x01}, ""},
		{"reader", strings.NewReader("raw"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Encode(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if p.ContentType != tt.want {
				t.Errorf("ContentType = %q, want %q", p.ContentType, tt.want)
			}
		})
	}
}

func TestEncode_Payloads(t *testing.T) {
	p, err := Encode(context.Background(), map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(p.Data) != `{"a":1}` || p.Binary {
		t.Errorf("object payload = %q (binary=%v)", p.Data, p.Binary)
	}

	p, _ = Encode(context.Background(), url.Values{"q": {"go lang"}})
	if string(p.Data) != "q=go+lang" {
		t.Errorf("form payload = %q", p.Data)
	}

	p, _ = Encode(context.Background(), strings.NewReader("streamed"))
	if string(p.Data) != "streamed" || !p.Binary {
		t.Errorf("reader payload = %q (binary=%v)", p.Data, p.Binary)
	}

	p, _ = Encode(context.Background(), "nul\x00inside")
	if !p.Binary {
		t.Error("strings containing NUL must be marked binary")
	}

	p, _ = Encode(context.Background(), 42)
	if string(p.Data) != "42" {
		t.Errorf("coerced payload = %q", p.Data)
	}

	p, _ = Encode(context.Background(), nil)
	if !p.Empty() {
		t.Error("nil body should encode to an empty payload")
	}
}

func TestEncode_ReaderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Encode(ctx, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestForm_Encode(t *testing.T) {
	form := NewForm().
		Field("title", "report").
		File("upload", "a.bin", "", []byte{0xde, 0xad}).
		FileReader("notes", "n.txt", "text/plain", strings.NewReader("hi"))

	p, err := Encode(context.Background(), form)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(p.ContentType, "multipart/form-data; boundary="+boundaryPrefix) {
		t.Fatalf("unexpected content type %q", p.ContentType)
	}
	boundary := strings.TrimPrefix(p.ContentType, "multipart/form-data; boundary=")

	body := string(p.Data)
	for _, want := range []string{
		"--" + boundary + "\r\n",
		`Content-Disposition: form-data; name="title"`,
		"report",
		`Content-Disposition: form-data; name="upload"; filename="a.bin"`,
		"Content-Type: application/octet-stream",
		`filename="n.txt"`,
		"Content-Type: text/plain",
		"--" + boundary + "--",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("multipart body missing %q", want)
		}
	}
	if !bytes.Contains(p.Data, []byte{0xde, 0xad}) {
		t.Error("binary part missing from payload")
	}
	if !p.Binary {
		t.Error("multipart payload must be binary")
	}
}

func TestForm_DigestIgnoresBoundary(t *testing.T) {
	encode := func(f *Form) Payload {
		t.Helper()
		p, err := Encode(context.Background(), f)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return p
	}
	p1 := encode(NewForm().Field("k", "v").File("f", "x", "", []byte("1")))
	p2 := encode(NewForm().Field("k", "v").File("f", "x", "", []byte("1")))
	p3 := encode(NewForm().Field("k", "other"))

	if p1.ContentType == p2.ContentType {
		t.Error("boundaries should be random per encoding")
	}
	if p1.Digest == "" || p1.Digest != p2.Digest {
		t.Errorf("identical forms digests = %q, %q", p1.Digest, p2.Digest)
	}
	if p1.Digest == p3.Digest {
		t.Error("different forms must not share a digest")
	}
}

func TestForm_DigestCoversReaderContent(t *testing.T) {
	encode := func(content string) Payload {
		t.Helper()
		f := NewForm().FileReader("f", "a.txt", "text/plain", strings.NewReader(content))
		p, err := Encode(context.Background(), f)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return p
	}
	if a, b := encode("AAAA"), encode("BBBB"); a.Digest == b.Digest {
		t.Errorf("reader parts with different content share digest %q", a.Digest)
	}
	if a, b := encode("same"), encode("same"); a.Digest != b.Digest {
		t.Error("reader parts with equal content must share a digest")
	}
}
