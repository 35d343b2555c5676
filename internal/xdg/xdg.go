// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

// Package xdg locates LAN Connect files in the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "lanconnect"

// ConfigFileName is the file looked up in ConfigDir when no --config flag is given.
const ConfigFileName = "config.yaml"

// ConfigDir returns the config directory. Checks XDG_CONFIG_HOME first,
// falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the path of ConfigFileName in ConfigDir, or "" when
// that file does not exist.
func ConfigFile() string {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
