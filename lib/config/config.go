// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the host-wide kapsule configuration.
//
// The configuration is a small YAML file with the defaults used when a
// client does not name a container explicitly:
//
//	default_container: kapsule
//	default_image: images:archlinux
//
// Lookup order: the explicit path passed to Load, then the caller's
// $XDG_CONFIG_HOME/kapsule/config.yaml (falling back to
// ~/.config/kapsule/config.yaml), then /etc/kapsule/config.yaml. A
// missing file is not an error — defaults apply. There are no hidden
// overrides beyond this list.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the host-wide defaults.
type Config struct {
	// DefaultContainer is the container used when a client passes an
	// empty name.
	DefaultContainer string `yaml:"default_container"`

	// DefaultImage is the image used when the default container has
	// to be created on first use.
	DefaultImage string `yaml:"default_image"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DefaultContainer: "kapsule",
		DefaultImage:     "images:archlinux",
	}
}

// Load reads the configuration for a user whose home directory is
// homeDir. If explicitPath is non-empty only that file is consulted,
// and its absence is an error. Otherwise the first existing file in
// the lookup order wins; none existing yields Defaults().
func Load(explicitPath, homeDir string) (Config, error) {
	if explicitPath != "" {
		return loadFile(explicitPath)
	}

	for _, path := range searchPaths(homeDir) {
		cfg, err := loadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return Defaults(), nil
}

func searchPaths(homeDir string) []string {
	var paths []string
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" && homeDir != "" {
		configHome = filepath.Join(homeDir, ".config")
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "kapsule", "config.yaml"))
	}
	return append(paths, "/etc/kapsule/config.yaml")
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.DefaultContainer == "" {
		cfg.DefaultContainer = Defaults().DefaultContainer
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = Defaults().DefaultImage
	}
	return cfg, nil
}
