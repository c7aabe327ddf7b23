// Package command translates a request descriptor into the argument vector of
// the transport process. Build performs no I/O: host pins are resolved
// beforehand and capabilities are passed in explicitly.
package command

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Aslarex/go-curl2/internal/body"
	"github.com/Aslarex/go-curl2/internal/capability"
	"github.com/Aslarex/go-curl2/internal/headerorder"
	"github.com/Aslarex/go-curl2/internal/request"
)

// DefaultMaxRedirects applies when following is enabled without an explicit limit.
const DefaultMaxRedirects = 10

// Pin fixes the address a host resolves to for one invocation.
type Pin struct {
	Host string
	Port string
	IP   string
}

// Input holds everything Build needs.
type Input struct {
	Request *request.Request
	Payload body.Payload
	Caps    capability.Set
	Pin     *Pin
}

// Command is one transport invocation.
type Command struct {
	Args []string
	// Stdin carries binary request bodies referenced as "@-".
	Stdin []byte
}

// Build returns the argument vector for in. Flag order is significant for
// repeated flags on some transport builds and must not be rearranged.
func Build(in Input) Command {
	req := in.Request
	caps := in.Caps
	version := ResolveVersion(req, caps)

	var cmd Command
	args := make([]string, 0, 32)

	args = append(args, "-i", "-s", "-S")
	if req.Timeout > 0 {
		args = append(args, "-m", seconds(req.Timeout))
	}
	if req.ConnectTimeout > 0 {
		args = append(args, "--connect-timeout", seconds(req.ConnectTimeout))
	}
	if flag := versionFlag(version); flag != "" {
		args = append(args, flag)
	}

	args = appendTLS(args, req.TLS, caps)

	if len(req.DNS.Servers) > 0 && caps.AltResolver {
		args = append(args, "--dns-servers", strings.Join(req.DNS.Servers, ","))
	}
	if in.Pin != nil && in.Pin.IP != "" && caps.Resolve {
		args = append(args, "--resolve", in.Pin.Host+":"+in.Pin.Port+":"+in.Pin.IP)
	}

	if (req.Compress == nil || *req.Compress) && req.Method != http.MethodHead {
		args = append(args, "--compressed")
	}

	if req.TCPFastOpen && caps.TCPFastOpen {
		args = append(args, "--tcp-fastopen")
	}
	if req.TCPNoDelay && caps.AtLeast(7, 11, 2) {
		args = append(args, "--tcp-nodelay")
	}

	if req.Proxy != "" {
		args = append(args, "-x", req.Proxy)
	}

	if req.Redirect.Following() {
		limit := req.Redirect.Max
		if limit <= 0 {
			limit = DefaultMaxRedirects
		}
		args = append(args, "-L", "--max-redirs", strconv.Itoa(limit))
	}

	if version == request.HTTP1_1 {
		switch {
		case req.KeepAlive.Disable:
			args = append(args, "--no-keepalive")
		case req.KeepAlive.Time > 0:
			secs := int(req.KeepAlive.Time / time.Second)
			if secs < 1 {
				secs = 1
			}
			args = append(args, "--keepalive-time", strconv.Itoa(secs))
			if req.KeepAlive.Probes > 0 && caps.KeepaliveCount {
				args = append(args, "--keepalive-cnt", strconv.Itoa(req.KeepAlive.Probes))
			}
		}
	}

	if !in.Payload.Empty() {
		if in.Payload.Binary {
			args = append(args, "--data-binary", "@-")
			cmd.Stdin = in.Payload.Data
		} else {
			args = append(args, "--data-raw", string(in.Payload.Data))
		}
	}

	args = appendHeaders(args, req, in.Payload.ContentType)

	if req.Method == http.MethodHead {
		args = append(args, "-I")
	} else {
		args = append(args, "-X", req.Method)
	}

	args = append(args, "-g", EscapeURL(req.URL))
	cmd.Args = args
	return cmd
}

// ResolveVersion picks the single protocol version for req: an explicit
// preference wins when the binary supports it; otherwise HTTP/2 when available
// and not proxied; otherwise HTTP/1.1. HTTP/3 is never used through a proxy.
func ResolveVersion(req *request.Request, caps capability.Set) request.HTTPVersion {
	proxied := req.Proxy != ""
	fallback := request.HTTP1_1
	if caps.HTTP2 && !proxied {
		fallback = request.HTTP2
	}

	switch req.HTTPVersion {
	case request.HTTP1_0, request.HTTP1_1:
		return req.HTTPVersion
	case request.HTTP2, request.HTTP2PriorKnowledge:
		if caps.HTTP2 {
			return req.HTTPVersion
		}
		return request.HTTP1_1
	case request.HTTP3, request.HTTP3Only:
		if caps.HTTP3 && !proxied {
			return req.HTTPVersion
		}
		if caps.HTTP2 {
			return request.HTTP2
		}
		return request.HTTP1_1
	}
	return fallback
}

func versionFlag(v request.HTTPVersion) string {
	switch v {
	case request.HTTP1_0:
		return "--http1.0"
	case request.HTTP1_1:
		return "--http1.1"
	case request.HTTP2:
		return "--http2"
	case request.HTTP2PriorKnowledge:
		return "--http2-prior-knowledge"
	case request.HTTP3:
		return "--http3"
	case request.HTTP3Only:
		return "--http3-only"
	}
	return ""
}

var tlsNames = map[uint16]string{
	tls.VersionTLS10: "1.0",
	tls.VersionTLS11: "1.1",
	tls.VersionTLS12: "1.2",
	tls.VersionTLS13: "1.3",
}

func appendTLS(args []string, p request.TLSPolicy, caps capability.Set) []string {
	if p.Insecure {
		args = append(args, "-k")
	}

	var low, high uint16
	for _, v := range p.Versions {
		if _, known := tlsNames[v]; !known {
			continue
		}
		if low == 0 || v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	if low != 0 {
		args = append(args, "--tlsv"+tlsNames[low], "--tls-max", tlsNames[high])
	}

	if caps.CipherSelection {
		if len(p.Ciphers) > 0 {
			args = append(args, "--ciphers", strings.Join(p.Ciphers, ":"))
		}
		if len(p.TLS13Ciphers) > 0 && p.HasVersion(tls.VersionTLS13) {
			args = append(args, "--tls13-ciphers", strings.Join(p.TLS13Ciphers, ":"))
		}
	}
	return args
}

func appendHeaders(args []string, req *request.Request, contentTypeHint string) []string {
	headers := req.Headers
	if req.HeaderOrder {
		headers = headerorder.Sort(headers)
	}

	var userAgent string
	hasUA := false
	explicitContentType := false
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "user-agent":
			userAgent, hasUA = h.Value, true
			continue
		case "content-type":
			explicitContentType = true
		}
		if h.Value == "" {
			args = append(args, "-H", h.Name+";")
		} else {
			args = append(args, "-H", h.Name+": "+h.Value)
		}
	}
	if !explicitContentType && contentTypeHint != "" {
		args = append(args, "-H", "Content-Type: "+contentTypeHint)
	}
	if hasUA {
		args = append(args, "-A", userAgent)
	}
	return args
}

// EscapeURL percent-encodes literal square brackets outside the authority.
// Brackets around an IPv6 host are kept.
func EscapeURL(raw string) string {
	if !strings.ContainsAny(raw, "[]") {
		return raw
	}
	prefix, rest := "", raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		authority := u.Scheme + "://" + u.Host
		if u.User != nil {
			authority = u.Scheme + "://" + u.User.String() + "@" + u.Host
		}
		if strings.HasPrefix(raw, authority) {
			prefix, rest = authority, raw[len(authority):]
		}
	}
	rest = strings.NewReplacer("[", "%5B", "]", "%5D").Replace(rest)
	return prefix + rest
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
