package embedded

import _ "embed"

// DefaultConfigTemplate is the commented config.yaml written by --init-config.
//
//go:embed config.example.yaml
var DefaultConfigTemplate []byte
