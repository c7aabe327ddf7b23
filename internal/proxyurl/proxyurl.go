// Package proxyurl normalizes the proxy notations accepted on requests into a
// proxy URL the transport understands.
//
// Accepted forms, each with an optional "scheme://" prefix:
//
//	host:port
//	host:port:user:pass
//	user:pass@host:port
package proxyurl

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultScheme is applied when the notation carries none.
const DefaultScheme = "http"

var supportedSchemes = map[string]struct{}{
	"http":    {},
	"https":   {},
	"socks4":  {},
	"socks4a": {},
	"socks5":  {},
	"socks5h": {},
}

// Parse returns the normalized proxy URL for s.
func Parse(s string) (string, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", fmt.Errorf("empty proxy")
	}

	scheme := DefaultScheme
	if idx := strings.Index(raw, "://"); idx >= 0 {
		scheme = strings.ToLower(raw[:idx])
		raw = raw[idx+3:]
	}
	if _, ok := supportedSchemes[scheme]; !ok {
		return "", fmt.Errorf("unsupported proxy scheme %q", scheme)
	}
	raw = strings.TrimSuffix(raw, "/")

	var user *url.Userinfo
	var hostPort string
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		creds := raw[:at]
		hostPort = raw[at+1:]
		name, pass, ok := strings.Cut(creds, ":")
		if !ok || name == "" {
			return "", fmt.Errorf("malformed proxy credentials")
		}
		user = url.UserPassword(name, pass)
	} else {
		host, port, name, pass, err := splitColonForm(raw)
		if err != nil {
			return "", err
		}
		hostPort = net.JoinHostPort(host, port)
		if name != "" {
			user = url.UserPassword(name, pass)
		}
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", fmt.Errorf("malformed proxy address %q: %w", hostPort, err)
	}
	if !validHost(host) {
		return "", fmt.Errorf("malformed proxy host %q", host)
	}
	if !validPort(port) {
		return "", fmt.Errorf("invalid proxy port %q", port)
	}

	u := &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port), User: user}
	return u.String(), nil
}

// splitColonForm handles host:port and host:port:user:pass, including
// bracketed IPv6 hosts.
func splitColonForm(raw string) (host, port, user, pass string, err error) {
	rest := raw
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return "", "", "", "", fmt.Errorf("malformed proxy host %q", raw)
		}
		host = rest[1:end]
		rest = strings.TrimPrefix(rest[end+1:], ":")
		parts := strings.SplitN(rest, ":", 3)
		switch len(parts) {
		case 1:
			return host, parts[0], "", "", nil
		case 3:
			return host, parts[0], parts[1], parts[2], nil
		}
		return "", "", "", "", fmt.Errorf("malformed proxy %q", raw)
	}

	parts := strings.SplitN(rest, ":", 4)
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "", "", nil
	case 4:
		return parts[0], parts[1], parts[2], parts[3], nil
	}
	return "", "", "", "", fmt.Errorf("malformed proxy %q", raw)
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			isAlnum := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
			if !isAlnum && !(c == '-' && i > 0 && i < len(label)-1) && c != '_' {
				return false
			}
		}
	}
	return true
}

func validPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}
