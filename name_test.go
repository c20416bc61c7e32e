// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathNormalization(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Data\\file.txt", "DATA\\FILE.TXT"},
		{"Data/file.txt", "DATA\\FILE.TXT"},
		{"data/sub/File.Txt", "DATA\\SUB\\FILE.TXT"},
		{"a//b", "A\\\\B"},
		{"\u00c4rger/\u00f6.txt", "\u00c4RGER\\\u00f6.TXT"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeMpqPath(tt.input), tt.input)
	}
}

func TestCanonicalName(t *testing.T) {
	got, err := canonicalName("Cafe\u0301/Menu.txt")
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9/Menu.txt", got)

	_, err = canonicalName("")
	assert.Error(t, err)

	_, err = canonicalName("bad\x00name")
	assert.Error(t, err)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "c.txt", baseName("a\\b\\c.txt"))
	assert.Equal(t, "c.txt", baseName("a/b/c.txt"))
	assert.Equal(t, "c.txt", baseName("c.txt"))
}

func TestIsInternalName(t *testing.T) {
	for _, name := range []string{"(listfile)", "(ATTRIBUTES)", "(Signature)"} {
		assert.True(t, isInternalName(name), name)
	}
	assert.False(t, isInternalName("Data\\(listfile)"))
	assert.False(t, isInternalName("listfile"))
}
