package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/json"
	"github.com/Aslarex/go-curl2/internal/request"
)

// KeyPrefix namespaces derived cache keys inside shared stores.
const KeyPrefix = "curl2:"

const keySeparator = "\x1f"

// Key derives the cache key of req. A KeyFunc on the request replaces
// derivation entirely. Otherwise the selected fields, or fields when the
// request names none, are serialized in order and hashed. The same request
// always yields the same key.
func Key(ctx context.Context, req *request.Request, payload body.Payload, fields []request.KeyField) (string, error) {
	if req.Cache.KeyFunc != nil {
		key, err := req.Cache.KeyFunc(ctx, req)
		if err != nil {
			return "", fmt.Errorf("cache key function: %w", err)
		}
		if key == "" {
			return "", fmt.Errorf("cache key function returned an empty key")
		}
		return key, nil
	}

	if len(req.Cache.KeyFields) > 0 {
		fields = req.Cache.KeyFields
	}
	if len(fields) == 0 {
		fields = request.DefaultKeyFields
	}

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		value, err := keyPart(req, payload, field)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(field)+"="+value)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, keySeparator)))
	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}

func keyPart(req *request.Request, payload body.Payload, field request.KeyField) (string, error) {
	switch field {
	case request.FieldURL:
		return req.URL, nil
	case request.FieldMethod:
		return req.Method, nil
	case request.FieldProxy:
		return req.Proxy, nil
	case request.FieldHTTPVersion:
		return req.HTTPVersion.String(), nil
	case request.FieldBody:
		// Multipart payloads carry a random boundary.
		if payload.Digest != "" {
			return "form:" + payload.Digest, nil
		}
		return string(payload.Data), nil
	case request.FieldHeaders:
		flat := make([]string, 0, 2*len(req.Headers))
		for _, h := range req.Headers {
			flat = append(flat, h.Name, h.Value)
		}
		data, err := json.MarshalCanonical(flat)
		return string(data), err
	case request.FieldTLS:
		data, err := json.MarshalCanonical(map[string]any{
			"versions":      req.TLS.Versions,
			"ciphers":       req.TLS.Ciphers,
			"tls13_ciphers": req.TLS.TLS13Ciphers,
			"insecure":      req.TLS.Insecure,
		})
		return string(data), err
	}
	return "", fmt.Errorf("unknown cache key field %q", field)
}

// ParseKeyFields converts configured field names, rejecting unknown ones.
func ParseKeyFields(names []string) ([]request.KeyField, error) {
	out := make([]request.KeyField, 0, len(names))
	for _, name := range names {
		f := request.KeyField(strings.ToLower(strings.TrimSpace(name)))
		switch f {
		case request.FieldURL, request.FieldHeaders, request.FieldBody, request.FieldProxy,
			request.FieldMethod, request.FieldHTTPVersion, request.FieldTLS:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("unknown cache key field %q", name)
		}
	}
	return out, nil
}
