package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Aslarex/go-curl2/internal/fetch"
	"github.com/fatih/color"
)

// PrintCapabilities reports what the configured curl binary supports.
func PrintCapabilities(ctx context.Context, client *fetch.Client, w io.Writer) {
	caps := client.Capabilities(ctx)
	fmt.Fprintf(w, "curl %s", caps.VersionString())
	if caps.TLSBackend != "" {
		fmt.Fprintf(w, " (%s)", caps.TLSBackend)
	}
	fmt.Fprintln(w)

	yes := color.New(color.FgGreen)
	no := color.New(color.FgRed)
	for _, row := range []struct {
		name string
		ok   bool
	}{
		{"http2", caps.HTTP2},
		{"http3", caps.HTTP3},
		{"cipher selection", caps.CipherSelection},
		{"alternate resolver", caps.AltResolver},
		{"resolve pinning", caps.Resolve},
		{"tcp fastopen", caps.TCPFastOpen},
		{"keepalive count", caps.KeepaliveCount},
	} {
		fmt.Fprintf(w, "  %-20s ", row.name)
		if row.ok {
			yes.Fprintln(w, "yes")
		} else {
			no.Fprintln(w, "no")
		}
	}
	if len(caps.Features) > 0 {
		fmt.Fprintf(w, "features: %s\n", strings.Join(caps.Features, " "))
	}
}
