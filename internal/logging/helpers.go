package logging

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const maxLoggedBody = 64

func writablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return filepath.Clean(value)
		}
	}
	return ""
}

// redact keeps a short prefix and suffix of a secret so two values can
// still be told apart in logs.
func redact(secret string) string {
	keep := 0
	switch n := len(secret); {
	case n > 8:
		keep = 4
	case n > 4:
		keep = 2
	case n > 2:
		keep = 1
	default:
		return secret
	}
	return secret[:keep] + "..." + secret[len(secret)-keep:]
}

// sensitiveName reports whether a header or query parameter name usually
// carries a credential.
func sensitiveName(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "[]")
	if name == "key" || name == "cookie" || name == "sig" || name == "signature" {
		return true
	}
	for _, marker := range []string{"authorization", "api-key", "apikey", "api_key", "token", "secret", "password"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func maskHeaderValue(name, value string) string {
	if !sensitiveName(name) {
		return value
	}
	// Keep the scheme of "Bearer xyz" style values readable.
	if scheme, rest, ok := strings.Cut(value, " "); ok && strings.HasSuffix(strings.ToLower(name), "authorization") {
		return scheme + " " + redact(strings.TrimSpace(rest))
	}
	return redact(value)
}

// maskSensitiveQuery rewrites only the sensitive pairs of a raw query,
// leaving the order and encoding of the rest untouched.
func maskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		name, err := url.QueryUnescape(key)
		if err != nil {
			name = key
		}
		if !sensitiveName(name) {
			continue
		}
		if decoded, errValue := url.QueryUnescape(value); errValue == nil {
			value = decoded
		}
		parts[i] = key + "=" + url.QueryEscape(redact(strings.TrimSpace(value)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

// MaskURL hides credentials in the userinfo and sensitive query parameters.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxx")
		}
	}
	u.RawQuery = maskSensitiveQuery(u.RawQuery)
	return u.String()
}

// MaskArgs returns a copy of a curl argument vector that is safe to log.
// Sensitive header values and proxy or URL credentials are hidden, and
// inline request bodies are truncated.
func MaskArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 1; i < len(out); i++ {
		switch out[i-1] {
		case "-H":
			if name, value, ok := strings.Cut(out[i], ":"); ok {
				out[i] = name + ": " + maskHeaderValue(name, strings.TrimSpace(value))
			}
		case "-x":
			out[i] = MaskURL(out[i])
		case "--data-raw":
			if len(out[i]) > maxLoggedBody {
				out[i] = out[i][:maxLoggedBody] + "..."
			}
		}
	}
	if n := len(out); n > 0 && strings.Contains(out[n-1], "://") {
		out[n-1] = MaskURL(out[n-1])
	}
	return out
}
