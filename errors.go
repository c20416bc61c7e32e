// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a name does not resolve in the hash table.
	ErrNotFound = errors.New("mpq: file not found")

	// ErrAlreadyExists is returned when adding a file that exists without replace.
	ErrAlreadyExists = errors.New("mpq: file already exists")

	// ErrCorruptData is returned for bad magic, out-of-bounds offsets and
	// decompressed sizes that do not match the block table.
	ErrCorruptData = errors.New("mpq: corrupt data")

	// ErrTableFull is returned when the hash or block table has no free slot
	// and cannot be grown.
	ErrTableFull = errors.New("mpq: table full")

	// ErrInvalidState is returned for operations on a closed archive, writes
	// to a read-only archive and reads through stale file handles.
	ErrInvalidState = errors.New("mpq: invalid state")

	// ErrUnsupportedFeature is returned for format versions, flags and
	// compression methods this package does not implement.
	ErrUnsupportedFeature = errors.New("mpq: unsupported feature")

	// ErrIOFailure wraps errors from the underlying storage. The original
	// error stays reachable through errors.Is / errors.As.
	ErrIOFailure = errors.New("mpq: i/o failure")
)

// ioError tags a storage error with ErrIOFailure.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIOFailure, err)
}

// corrupt builds an ErrCorruptData error with context.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}

// unsupported builds an ErrUnsupportedFeature error with context.
func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFeature, fmt.Sprintf(format, args...))
}
