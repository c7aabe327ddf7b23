package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Aslarex/go-curl2/internal/config"
)

// DoInitConfig writes the commented default configuration to path. An
// existing file is kept unless force is set.
func DoInitConfig(path string, force bool, w io.Writer) error {
	resolved, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	if _, errStat := os.Stat(resolved); errStat == nil && !force {
		fmt.Fprintf(w, "Config already exists: %s\n", resolved)
		fmt.Fprintln(w, "Use --init-config --force to overwrite")
		return nil
	}
	if err = os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err = os.WriteFile(resolved, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(w, "Created: %s\n", resolved)
	return nil
}
