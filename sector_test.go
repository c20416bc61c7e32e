// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSectorSize = 512

// sealAt encodes data, seals it for pos and returns a reader over an image
// holding the body at pos together with its block entry.
func sealAt(t *testing.T, data []byte, p sectorParams, name string, pos int64) (*bytes.Reader, blockTableEntryEx, uint32) {
	t.Helper()
	enc, err := encodeFile(data, p)
	require.NoError(t, err)

	var block blockTableEntryEx
	block.setFilePos64(uint64(pos))
	block.CompressedSize = enc.packedSize()
	block.FileSize = enc.fileSize
	block.Flags = enc.flags

	var key uint32
	if block.Flags&fileEncrypted != 0 {
		key = getFileKey(name, uint64(pos), block.FileSize, block.Flags)
	}
	body := enc.seal(key)
	require.Len(t, body, int(block.CompressedSize))

	image := append(make([]byte, pos), body...)
	return bytes.NewReader(image), block, key
}

func TestSectorLayouts(t *testing.T) {
	data := testPayload(5*testSectorSize+17, 21)

	tests := []struct {
		name   string
		params sectorParams
		table  bool
	}{
		{"stored", sectorParams{compression: CompressionNone}, false},
		{"zlib", sectorParams{compression: CompressionZlib}, true},
		{"crc", sectorParams{compression: CompressionZlib, sectorCRC: true}, true},
		{"single unit", sectorParams{compression: CompressionBzip2, singleUnit: true}, false},
		{"encrypted", sectorParams{compression: CompressionZlib, encrypt: true}, true},
		{"encrypted stored", sectorParams{compression: CompressionNone, encrypt: true, fixKey: true}, false},
		{"encrypted crc", sectorParams{compression: CompressionLZMA, encrypt: true, fixKey: true, sectorCRC: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params.sectorSize = testSectorSize
			tt.params.workers = 4
			r, block, key := sealAt(t, data, tt.params, "Data\\layout.bin", 0x40)

			l, err := loadLayout(r, 0x40, block, key, testSectorSize)
			require.NoError(t, err)
			assert.Equal(t, tt.table, l.tableSize > 0)
			assert.Equal(t, tt.params.sectorCRC, l.checksums != nil)

			out, err := l.readAll(r, 2)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestSectorLayoutEmpty(t *testing.T) {
	enc, err := encodeFile(nil, sectorParams{sectorSize: testSectorSize, compression: CompressionZlib, encrypt: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(fileExists), enc.flags)
	assert.Zero(t, enc.packedSize())
	assert.Empty(t, enc.seal(0x1234))
}

func TestSectorWrongKey(t *testing.T) {
	data := testPayload(3*testSectorSize, 4)
	r, block, key := sealAt(t, data, sectorParams{sectorSize: testSectorSize, compression: CompressionZlib, encrypt: true}, "a.bin", 0)

	_, err := loadLayout(r, 0, block, key+1, testSectorSize)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestSectorRekey(t *testing.T) {
	data := testPayload(4*testSectorSize+3, 8)
	params := sectorParams{sectorSize: testSectorSize, compression: CompressionZlib, encrypt: true, fixKey: true, sectorCRC: true}
	r, block, key := sealAt(t, data, params, "Data\\moved.bin", 0x200)

	l, err := loadLayout(r, 0x200, block, key, testSectorSize)
	require.NoError(t, err)

	body := make([]byte, block.CompressedSize)
	_, err = r.ReadAt(body, 0x200)
	require.NoError(t, err)

	const newPos = 0x20
	newKey := getFileKey("Data\\moved.bin", newPos, block.FileSize, block.Flags)
	l.rekey(body, newKey)

	moved := block
	moved.setFilePos64(newPos)
	image := bytes.NewReader(append(make([]byte, newPos), body...))

	l2, err := loadLayout(image, newPos, moved, newKey, testSectorSize)
	require.NoError(t, err)
	out, err := l2.readAll(image, 1)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestSectorOffsetTableValidation(t *testing.T) {
	data := testPayload(3*testSectorSize, 6)
	r, block, _ := sealAt(t, data, sectorParams{sectorSize: testSectorSize, compression: CompressionZlib}, "v.bin", 0)

	short := block
	short.CompressedSize -= 1
	_, err := loadLayout(r, 0, short, 0, testSectorSize)
	assert.ErrorIs(t, err, ErrCorruptData)

	tiny := block
	tiny.CompressedSize = 4
	_, err = loadLayout(r, 0, tiny, 0, testSectorSize)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestSectorUnsupportedFlags(t *testing.T) {
	var block blockTableEntryEx
	block.Flags = fileExists | fileImplode
	block.FileSize = 10
	block.CompressedSize = 10

	_, err := loadLayout(bytes.NewReader(make([]byte, 10)), 0, block, 0, testSectorSize)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)

	block.Flags = fileExists | filePatchFile
	_, err = loadLayout(bytes.NewReader(make([]byte, 10)), 0, block, 0, testSectorSize)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}
