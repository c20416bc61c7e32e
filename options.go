// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// archiveConfig holds configuration shared by Create and Open.
type archiveConfig struct {
	overwrite       bool
	readOnly        bool
	sectorSizeShift uint16
	version         FormatVersion
	listFile        bool
	attributes      bool
	fixedTables     bool
	locale          uint16
	workers         int
	sectorCache     int
	logger          logrus.FieldLogger
}

func defaultArchiveConfig() archiveConfig {
	return archiveConfig{
		readOnly:        true,
		sectorSizeShift: defaultSectorSizeShift,
		version:         FormatV1,
		listFile:        true,
		attributes:      true,
		workers:         runtime.GOMAXPROCS(0),
		sectorCache:     defaultSectorCacheSize,
	}
}

// Option configures an archive handle.
// Options that only make sense at creation time are ignored by Open.
type Option func(*archiveConfig)

// WithOverwrite lets Create replace an existing file at the target path.
func WithOverwrite(enabled bool) Option {
	return func(c *archiveConfig) {
		c.overwrite = enabled
	}
}

// WithReadOnly controls whether Open allows modification (default: true).
// Create always opens for writing.
func WithReadOnly(readOnly bool) Option {
	return func(c *archiveConfig) {
		c.readOnly = readOnly
	}
}

// WithSectorSizeShift sets the sector size to 512 << shift bytes.
// The default shift is 3 (4096-byte sectors).
func WithSectorSizeShift(shift uint16) Option {
	return func(c *archiveConfig) {
		c.sectorSizeShift = shift
	}
}

// WithFormatVersion selects the header version written by Create.
func WithFormatVersion(v FormatVersion) Option {
	return func(c *archiveConfig) {
		c.version = v
	}
}

// WithListFile controls whether a (listfile) is maintained on flush.
// Without it ListFiles cannot recover names after the archive is reopened.
func WithListFile(enabled bool) Option {
	return func(c *archiveConfig) {
		c.listFile = enabled
	}
}

// WithAttributes controls whether an (attributes) file with CRC32, MD5 and
// file times is maintained on flush.
func WithAttributes(enabled bool) Option {
	return func(c *archiveConfig) {
		c.attributes = enabled
	}
}

// WithFixedTables disables automatic hash table growth. Adding a file to a
// full table then fails with ErrTableFull.
func WithFixedTables() Option {
	return func(c *archiveConfig) {
		c.fixedTables = true
	}
}

// WithLocale sets the preferred locale for lookups and the locale assigned
// to added files unless overridden per file.
func WithLocale(locale uint16) Option {
	return func(c *archiveConfig) {
		c.locale = locale
	}
}

// WithWorkers bounds the number of goroutines used to compress and decode
// sectors. Values < 1 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *archiveConfig) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		c.workers = n
	}
}

// WithSectorCache sets how many decoded sectors OpenFile readers keep
// cached across the archive. Zero disables the cache.
func WithSectorCache(sectors int) Option {
	return func(c *archiveConfig) {
		if sectors < 0 {
			sectors = 0
		}
		c.sectorCache = sectors
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *archiveConfig) {
		c.logger = l
	}
}

// discardLogger returns a logger that drops everything.
func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// addConfig holds per-file options for AddFile and AddBytes.
type addConfig struct {
	compression Compression
	encrypt     bool
	fixKey      bool
	replace     bool
	singleUnit  bool
	sectorCRC   bool
	locale      uint16
	localeSet   bool
	modTime     time.Time
}

func defaultAddConfig() addConfig {
	return addConfig{
		compression: CompressionZlib,
	}
}

// AddOption configures how a single file is stored.
type AddOption func(*addConfig)

// WithCompression sets the compression method mask for the file's sectors.
// CompressionNone stores the file uncompressed.
func WithCompression(c Compression) AddOption {
	return func(cfg *addConfig) {
		cfg.compression = c
	}
}

// WithEncryption encrypts the file with a key derived from its base name.
// When fixKey is true the key is also adjusted by the file's position and
// size, which ties the stored bytes to their location in the archive.
func WithEncryption(fixKey bool) AddOption {
	return func(cfg *addConfig) {
		cfg.encrypt = true
		cfg.fixKey = fixKey
	}
}

// WithReplace allows replacing an existing file with the same name and locale.
func WithReplace() AddOption {
	return func(cfg *addConfig) {
		cfg.replace = true
	}
}

// WithSingleUnit stores the file as one unit instead of splitting it into sectors.
func WithSingleUnit() AddOption {
	return func(cfg *addConfig) {
		cfg.singleUnit = true
	}
}

// WithSectorCRC appends a checksum sector so reads can detect damaged sectors.
// It only applies to compressed, sectored files.
func WithSectorCRC() AddOption {
	return func(cfg *addConfig) {
		cfg.sectorCRC = true
	}
}

// WithFileLocale stores the file under a specific locale.
func WithFileLocale(locale uint16) AddOption {
	return func(cfg *addConfig) {
		cfg.locale = locale
		cfg.localeSet = true
	}
}

// WithModTime sets the modification time recorded in (attributes).
func WithModTime(t time.Time) AddOption {
	return func(cfg *addConfig) {
		cfg.modTime = t
	}
}
