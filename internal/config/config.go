// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package config handles herd.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "herd.toml"

// Config represents a herd.toml file.
type Config struct {
	Library    Library    `toml:"library"`
	Scripts    Scripts    `toml:"scripts"`
	Simulation Simulation `toml:"simulation"`
	Output     Output     `toml:"output"`
	Log        Log        `toml:"log"`

	// Dir is the directory containing the herd.toml file (set at load time).
	Dir string `toml:"-"`
}

// Library configures the script document library.
type Library struct {
	// DB is a SQLite path; empty keeps the library in memory.
	DB        string `toml:"db"`
	NoPrelude bool   `toml:"no-prelude"`
}

// Scripts lists script files parsed at startup, in order. Entries may be
// glob patterns.
type Scripts struct {
	Files []string `toml:"files"`
	Load  []string `toml:"load"`
}

// Simulation configures the objects the CLI creates and how often it
// resolves them.
type Simulation struct {
	Ticks int            `toml:"ticks"`
	Spawn map[string]int `toml:"spawn"`
}

// Output configures what the CLI prints after resolving.
type Output struct {
	Vars   []string `toml:"vars"`
	Format string   `toml:"format"`
	File   string   `toml:"file"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Output formats.
const (
	FormatText = "text"
	FormatCBOR = "cbor"
)

// Default returns the configuration used when no herd.toml is found.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Simulation.Ticks == 0 {
		c.Simulation.Ticks = 1
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatText
	}
}

// Load parses a herd.toml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a herd.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Simulation.Ticks < 0 {
		return fmt.Errorf("simulation.ticks must not be negative, got %d", c.Simulation.Ticks)
	}
	for class, n := range c.Simulation.Spawn {
		if n < 0 {
			return fmt.Errorf("simulation.spawn.%s must not be negative, got %d", class, n)
		}
	}
	switch c.Output.Format {
	case FormatText, FormatCBOR:
	default:
		return fmt.Errorf("output.format must be %q or %q, got %q", FormatText, FormatCBOR, c.Output.Format)
	}
	return nil
}

// Resolve makes a configured path absolute relative to the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// ScriptPaths expands the configured script files. Each pattern's matches
// are sorted; patterns keep their configured order.
func (c *Config) ScriptPaths() ([]string, error) {
	var paths []string
	for _, pattern := range c.Scripts.Files {
		matches, err := filepath.Glob(c.Resolve(pattern))
		if err != nil {
			return nil, fmt.Errorf("bad script pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("script pattern %q matched no files", pattern)
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}

// SpawnClasses returns the configured spawn classes in name order.
func (c *Config) SpawnClasses() []string {
	classes := make([]string, 0, len(c.Simulation.Spawn))
	for class := range c.Simulation.Spawn {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
