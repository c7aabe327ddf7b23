// Package capability probes the installed transport binary once and records
// which optional flags it understands.
package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Set describes what the transport binary supports. It is read-only after Parse.
type Set struct {
	Version    [3]int
	Raw        string
	TLSBackend string
	Features   []string

	HTTP2           bool
	HTTP3           bool
	CipherSelection bool
	AltResolver     bool
	Resolve         bool
	TCPFastOpen     bool
	KeepaliveCount  bool
}

// VersionString renders Version as "major.minor.patch".
func (s Set) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", s.Version[0], s.Version[1], s.Version[2])
}

// AtLeast reports whether the binary version is >= major.minor.patch.
func (s Set) AtLeast(major, minor, patch int) bool {
	want := [3]int{major, minor, patch}
	for i := range want {
		if s.Version[i] != want[i] {
			return s.Version[i] > want[i]
		}
	}
	return true
}

// HasFeature reports whether the "Features:" line lists name (case-insensitive).
func (s Set) HasFeature(name string) bool {
	for _, f := range s.Features {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

var cipherBackends = []string{"openssl", "boringssl", "libressl", "quictls", "aws-lc"}

// Parse reads the self-description printed by "curl -V".
func Parse(text string) (Set, error) {
	var s Set
	s.Raw = text

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "curl ") {
		return s, fmt.Errorf("unrecognized version output")
	}

	head := strings.Fields(lines[0])
	if len(head) < 2 {
		return s, fmt.Errorf("missing version number")
	}
	version, err := parseVersion(head[1])
	if err != nil {
		return s, err
	}
	s.Version = version

	hasCares := false
	for _, field := range head[2:] {
		name, _, _ := strings.Cut(strings.Trim(field, "()+"), "/")
		lower := strings.ToLower(name)
		if lower == "c-ares" {
			hasCares = true
		}
		if s.TLSBackend == "" {
			for _, backend := range cipherBackends {
				if lower == backend {
					s.TLSBackend = name
				}
			}
			if lower == "gnutls" || lower == "schannel" || lower == "securetransport" || lower == "wolfssl" || lower == "mbedtls" || lower == "rustls" {
				s.TLSBackend = name
			}
		}
	}

	for _, line := range lines[1:] {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Features:"); ok {
			s.Features = strings.Fields(rest)
		}
	}

	s.HTTP2 = s.HasFeature("HTTP2")
	s.HTTP3 = s.HasFeature("HTTP3")
	s.AltResolver = hasCares && s.HasFeature("AsynchDNS")
	s.Resolve = s.AtLeast(7, 21, 3)
	s.TCPFastOpen = s.AtLeast(7, 49, 0)
	s.KeepaliveCount = s.AtLeast(8, 9, 0)
	for _, backend := range cipherBackends {
		if strings.EqualFold(s.TLSBackend, backend) {
			s.CipherSelection = true
		}
	}
	return s, nil
}

func parseVersion(v string) ([3]int, error) {
	var out [3]int
	v, _, _ = strings.Cut(v, "-")
	parts := strings.SplitN(v, ".", 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

// Probe runs "<binary> -V" and parses the output.
func Probe(ctx context.Context, binary string) (Set, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-V")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return Set{}, fmt.Errorf("probe %s: %w", binary, err)
	}
	return Parse(stdout.String())
}

type probeResult struct {
	once sync.Once
	set  Set
	err  error
}

var (
	probesMu sync.Mutex
	probes   = map[string]*probeResult{}
)

// Load probes binary once per process and returns the memoized result.
func Load(ctx context.Context, binary string) (Set, error) {
	probesMu.Lock()
	r, ok := probes[binary]
	if !ok {
		r = &probeResult{}
		probes[binary] = r
	}
	probesMu.Unlock()

	r.once.Do(func() {
		r.set, r.err = Probe(ctx, binary)
	})
	return r.set, r.err
}
