// ABOUTME: XDG-based data directory resolution for the alphred CLI.
// ABOUTME: Checks XDG_DATA_HOME, falls back to ~/.local/share/alphred.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the directory alphred stores its SQLite database in
// absent an explicit -data-dir flag. It checks XDG_DATA_HOME first, then
// falls back to ~/.local/share/alphred.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "alphred"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "alphred"), nil
}
