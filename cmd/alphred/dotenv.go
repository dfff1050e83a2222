// ABOUTME: Loads environment variables from a .env file at startup.
// ABOUTME: Sets variables only when not already present, then checks alphred's own required vars.
package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// alphredEnvVars are the environment variables alphred itself reads, beyond
// whatever else a .env file may set (XDG_DATA_HOME for the data directory,
// ANTHROPIC_API_KEY to gate claude-cli registration in buildProviderRegistry).
// loadDotEnvAuto reports which of these are still unset after loading, at
// debug level, so a misconfigured .env shows up in --verbose output instead
// of as a silent "claude-cli unavailable" downstream.
var alphredEnvVars = []string{"XDG_DATA_HOME", "ANTHROPIC_API_KEY"}

// loadDotEnv reads a .env file and sets any variables not already present in
// the environment, returning the keys it set. A missing file is silently
// ignored. Lines starting with # are comments. Supports KEY=VALUE,
// KEY="VALUE", KEY='VALUE', and export KEY=VALUE.
func loadDotEnv(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var set []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
			set = append(set, key)
		}
	}
	return set
}

// loadDotEnvAuto loads .env files from the working directory and its
// ancestors, then from next to the executable, without clobbering anything
// already set, then logs which of alphredEnvVars are still unset.
func loadDotEnvAuto() {
	seen := map[string]bool{}
	var loaded []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		loaded = append(loaded, loadDotEnv(p)...)
	}

	if wd, err := os.Getwd(); err == nil {
		for dir := wd; ; {
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if exe, err := os.Executable(); err == nil {
		add(filepath.Join(filepath.Dir(exe), ".env"))
	}

	if len(loaded) > 0 {
		log.Debug().Strs("vars", loaded).Msg("loaded .env")
	}
	for _, key := range alphredEnvVars {
		if os.Getenv(key) == "" {
			log.Debug().Str("var", key).Msg("not set after .env load")
		}
	}
}
