// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	// Table keys as used by every MPQ implementation.
	tests := []struct {
		input    string
		hashType uint32
		expected uint32
	}{
		{"(hash table)", hashTypeFileKey, 0xC3AF3770},
		{"(block table)", hashTypeFileKey, 0xEC83B3A3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, hashString(tt.input, tt.hashType), "hashString(%q, %d)", tt.input, tt.hashType)
	}
	assert.Equal(t, uint32(0xC3AF3770), hashTableKey)
	assert.Equal(t, uint32(0xEC83B3A3), blockTableKey)
}

func TestHashStringKnownNames(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"backslashes", "ReplaceableTextures\\CommandButtons\\BTNHaboss79.blp"},
		{"forward slashes", "ReplaceableTextures/CommandButtons/BTNHaboss79.blp"},
		{"lower case", "replaceabletextures\\commandbuttons\\btnhaboss79.blp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, uint32(0x8bd6929a), hashString(tt.input, hashTypeNameA))
			assert.Equal(t, uint32(0xfd55129b), hashString(tt.input, hashTypeNameB))

			h := hashName(tt.input)
			assert.Equal(t, uint32(0x8bd6929a), h.a)
			assert.Equal(t, uint32(0xfd55129b), h.b)
		})
	}
}

func TestHashStringFoldsOnlyASCII(t *testing.T) {
	assert.Equal(t, hashString("straße", hashTypeNameA), hashString("STRAßE", hashTypeNameA))
	assert.NotEqual(t, hashString("é", hashTypeNameA), hashString("É", hashTypeNameA))
}

func TestCryptTableInitialization(t *testing.T) {
	assert.Equal(t, uint32(0x55C636E2), cryptTable[0])

	seed := uint32(0x00100001)
	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10
			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF
			require.Equal(t, temp1|temp2, cryptTable[index2], "cryptTable[0x%03X]", index2)
			index2 += 0x100
		}
	}
}

func TestEncryptDecryptBlock(t *testing.T) {
	original := []uint32{0x12345678, 0xDEADBEEF, 0xCAFEBABE, 0x00000000, 0xFFFFFFFF}
	data := append([]uint32(nil), original...)

	encryptBlock(data, hashTableKey)
	assert.NotEqual(t, original, data)

	decryptBlock(data, hashTableKey)
	assert.Equal(t, original, data)
}

func TestEncryptBytesMatchesWords(t *testing.T) {
	words := []uint32{1, 2, 3, 4}
	raw := wordsToBytes(words)

	encryptBlock(words, 0x1234)
	encryptBytes(raw, 0x1234)
	assert.Equal(t, wordsToBytes(words), raw)
}

func TestEncryptBytesLeavesTrailingBytes(t *testing.T) {
	original := []byte("0123456789abcdefXYZ")
	data := bytes.Clone(original)

	encryptBytes(data, 0xA5A5A5A5)
	assert.NotEqual(t, original[:16], data[:16])
	assert.Equal(t, original[16:], data[16:])

	decryptBytes(data, 0xA5A5A5A5)
	assert.Equal(t, original, data)
}

func TestGetFileKey(t *testing.T) {
	base := hashString("unit.txt", hashTypeFileKey)

	assert.Equal(t, base, getFileKey("Data\\Sub\\unit.txt", 0x400, 99, fileEncrypted))
	assert.Equal(t, base, getFileKey("Data/Sub/unit.txt", 0x400, 99, fileEncrypted))
	assert.Equal(t, (base+0x400)^99, getFileKey("Data\\Sub\\unit.txt", 0x400, 99, fileEncrypted|fileFixKey))
}
