// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package config loads mpqtool defaults from a TOML file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"

	mpq "github.com/suprsokr/mpqkit"
)

// Config holds the defaults applied by mpqtool commands. Command-line flags
// override them.
type Config struct {
	MaxFiles        int
	SectorSizeShift uint16
	FormatVersion   int
	Compression     string
	Encrypt         bool
	FixKey          bool
	ListFile        bool
	Attributes      bool
	Workers         int
	LogLevel        string
}

// file mirrors Config with pointers so keys absent from the file keep their
// defaults.
type file struct {
	MaxFiles        *int    `toml:"max_files"`
	SectorSizeShift *int    `toml:"sector_size_shift"`
	FormatVersion   *int    `toml:"format_version"`
	Compression     *string `toml:"compression"`
	Encrypt         *bool   `toml:"encrypt"`
	FixKey          *bool   `toml:"fix_key"`
	ListFile        *bool   `toml:"listfile"`
	Attributes      *bool   `toml:"attributes"`
	Workers         *int    `toml:"workers"`
	LogLevel        *string `toml:"log_level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		MaxFiles:        1024,
		SectorSizeShift: 3,
		FormatVersion:   1,
		Compression:     "zlib",
		ListFile:        true,
		Attributes:      true,
		Workers:         runtime.GOMAXPROCS(0),
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var f file
	if err := toml.NewDecoder(bytes.NewReader(data)).Strict(true).Decode(&f); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	if f.MaxFiles != nil {
		cfg.MaxFiles = *f.MaxFiles
	}
	if f.SectorSizeShift != nil {
		if *f.SectorSizeShift < 0 || *f.SectorSizeShift > 15 {
			return Config{}, fmt.Errorf("sector_size_shift %d out of range 0-15", *f.SectorSizeShift)
		}
		cfg.SectorSizeShift = uint16(*f.SectorSizeShift)
	}
	if f.FormatVersion != nil {
		cfg.FormatVersion = *f.FormatVersion
	}
	if f.Compression != nil {
		cfg.Compression = *f.Compression
	}
	if f.Encrypt != nil {
		cfg.Encrypt = *f.Encrypt
	}
	if f.FixKey != nil {
		cfg.FixKey = *f.FixKey
	}
	if f.ListFile != nil {
		cfg.ListFile = *f.ListFile
	}
	if f.Attributes != nil {
		cfg.Attributes = *f.Attributes
	}
	if f.Workers != nil {
		cfg.Workers = *f.Workers
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that Parse cannot check by type alone.
func (c Config) Validate() error {
	if c.MaxFiles < 0 {
		return fmt.Errorf("max_files must not be negative")
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	if _, err := mpq.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Format maps the 1-based format_version to the library's FormatVersion.
func (c Config) Format() (mpq.FormatVersion, error) {
	switch c.FormatVersion {
	case 1:
		return mpq.FormatV1, nil
	case 2:
		return mpq.FormatV2, nil
	default:
		return 0, fmt.Errorf("format_version %d is not 1 or 2", c.FormatVersion)
	}
}

// ArchiveOptions returns the archive-level options the config implies.
func (c Config) ArchiveOptions(logger logrus.FieldLogger) ([]mpq.Option, error) {
	format, err := c.Format()
	if err != nil {
		return nil, err
	}
	return []mpq.Option{
		mpq.WithSectorSizeShift(c.SectorSizeShift),
		mpq.WithFormatVersion(format),
		mpq.WithListFile(c.ListFile),
		mpq.WithAttributes(c.Attributes),
		mpq.WithWorkers(c.Workers),
		mpq.WithLogger(logger),
	}, nil
}

// AddOptions returns the per-file options the config implies.
func (c Config) AddOptions() ([]mpq.AddOption, error) {
	method, err := mpq.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts := []mpq.AddOption{mpq.WithCompression(method)}
	if c.Encrypt {
		opts = append(opts, mpq.WithEncryption(c.FixKey))
	}
	return opts, nil
}
