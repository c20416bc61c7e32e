// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Names of the internal pseudo-files.
const (
	listFileName   = "(listfile)"
	attributesName = "(attributes)"
	signatureName  = "(signature)"
)

// canonicalName converts an archive-internal name to the form stored in the
// listfile and hashed for lookup: Unicode NFC, forward slashes and case kept
// as given. Names that differ only in Unicode composition resolve the same.
func canonicalName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty archive name")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("archive name %q contains NUL", name)
	}
	return norm.NFC.String(name), nil
}

// normalizeMpqPath returns the lookup key of a canonical name: backslash
// separators and ASCII letters upper-cased. It folds exactly what hashString
// folds, so equal keys hash equally.
func normalizeMpqPath(path string) string {
	b := []byte(strings.ReplaceAll(path, "/", "\\"))
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 0x20
		}
	}
	return string(b)
}

// baseName returns the part of name after the last path separator.
func baseName(name string) string {
	if idx := strings.LastIndexAny(name, "\\/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// isInternalName reports whether name is one of the archive's pseudo-files.
func isInternalName(name string) bool {
	switch normalizeMpqPath(name) {
	case normalizeMpqPath(listFileName), normalizeMpqPath(attributesName), normalizeMpqPath(signatureName):
		return true
	}
	return false
}
