// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mpq "github.com/suprsokr/mpqkit"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpqtool.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_files = 64
sector_size_shift = 4
format_version = 2
compression = "sparse+zlib"
encrypt = true
fix_key = true
listfile = false
log_level = "debug"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.MaxFiles)
	assert.Equal(t, uint16(4), cfg.SectorSizeShift)
	assert.Equal(t, 2, cfg.FormatVersion)
	assert.Equal(t, "sparse+zlib", cfg.Compression)
	assert.True(t, cfg.Encrypt)
	assert.True(t, cfg.FixKey)
	assert.False(t, cfg.ListFile)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Keys not in the file keep their defaults.
	assert.True(t, cfg.Attributes)
	assert.Equal(t, Default().Workers, cfg.Workers)

	format, err := cfg.Format()
	require.NoError(t, err)
	assert.Equal(t, mpq.FormatV2, format)

	opts, err := cfg.ArchiveOptions(logrus.New())
	require.NoError(t, err)
	assert.Len(t, opts, 6)

	addOpts, err := cfg.AddOptions()
	require.NoError(t, err)
	assert.Len(t, addOpts, 2)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     `max_file = 3`,
		"bad syntax":      `max_files = `,
		"wrong type":      `max_files = "many"`,
		"format":          `format_version = 3`,
		"compression":     `compression = "huffman"`,
		"log level":       `log_level = "loud"`,
		"sector shift":    `sector_size_shift = 16`,
		"negative counts": `max_files = -1`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
