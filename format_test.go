// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV1V2HeaderSizes(t *testing.T) {
	var buf bytes.Buffer

	v1 := &archiveHeader{baseHeader: baseHeader{Magic: mpqMagic, HeaderSize: headerSizeV1, FormatVersion: formatVersion1}}
	require.NoError(t, writeArchiveHeader(&buf, v1))
	assert.Equal(t, 0x20, buf.Len())

	buf.Reset()
	v2 := &archiveHeader{baseHeader: baseHeader{Magic: mpqMagic, HeaderSize: headerSizeV2, FormatVersion: formatVersion2}}
	require.NoError(t, writeArchiveHeader(&buf, v2))
	assert.Equal(t, 0x2C, buf.Len())
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSizeV2,
			ArchiveSize:     0x12345,
			FormatVersion:   formatVersion2,
			SectorSizeShift: 3,
			HashTableSize:   16,
			BlockTableSize:  5,
		},
	}
	h.setHashTableOffset64(0x1_0000_1000)
	h.setBlockTableOffset64(0x1_0000_1100)
	h.HiBlockTableOffset64 = 0x1_0000_1150

	var buf bytes.Buffer
	require.NoError(t, writeArchiveHeader(&buf, h))

	got, err := readArchiveHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, uint64(0x1_0000_1000), got.getHashTableOffset64())
	assert.Equal(t, uint64(0x1_0000_1100), got.getBlockTableOffset64())
	assert.Equal(t, uint32(4096), got.sectorSize())
}

func TestTablesRoundTrip(t *testing.T) {
	hashes := newHashTable(8)
	_, err := hashes.insert("Data\\file.txt", 0x409, 0, 2)
	require.NoError(t, err)

	encoded := encodeHashTable(hashes.entries)
	require.Len(t, encoded, 8*hashEntrySize)
	// Empty slots are all ones in the clear; encryption must hide that.
	assert.NotEqual(t, bytes.Repeat([]byte{0xFF}, 16), encoded[:16])
	assert.Equal(t, hashes.entries, decodeHashTable(encoded))

	blocks := []blockTableEntryEx{liveBlock(0x20, 100), liveBlock(1<<32+0x40, 7)}
	blockData := encodeBlockTable(blocks)
	hiData := encodeHiBlockTable(blocks)
	require.Len(t, blockData, 2*blockEntrySize)
	require.Len(t, hiData, 4)

	assert.Equal(t, blocks, decodeBlockTable(blockData, hiData))

	lowOnly := decodeBlockTable(blockData, nil)
	assert.Equal(t, uint64(0x40), lowOnly[1].getFilePos64())
}

func TestFindArchiveHeader(t *testing.T) {
	var archive bytes.Buffer
	h := &archiveHeader{baseHeader: baseHeader{Magic: mpqMagic, HeaderSize: headerSizeV1, HashTableSize: 4}}
	require.NoError(t, writeArchiveHeader(&archive, h))

	t.Run("at start", func(t *testing.T) {
		data := archive.Bytes()
		got, off, err := findArchiveHeader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, int64(0), off)
		assert.Equal(t, uint32(4), got.HashTableSize)
	})

	t.Run("after padding", func(t *testing.T) {
		data := append(make([]byte, 2*headerSearchStep), archive.Bytes()...)
		_, off, err := findArchiveHeader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, int64(2*headerSearchStep), off)
	})

	t.Run("user data header", func(t *testing.T) {
		data := make([]byte, headerSearchStep)
		binary.LittleEndian.PutUint32(data[0:], userDataMagic)
		binary.LittleEndian.PutUint32(data[8:], headerSearchStep)
		data = append(data, archive.Bytes()...)
		_, off, err := findArchiveHeader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, int64(headerSearchStep), off)
	})

	t.Run("missing", func(t *testing.T) {
		data := make([]byte, 4*headerSearchStep)
		_, _, err := findArchiveHeader(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrCorruptData)
	})
}

func TestValidateHeader(t *testing.T) {
	valid := func() *archiveHeader {
		h := &archiveHeader{baseHeader: baseHeader{
			Magic:          mpqMagic,
			HeaderSize:     headerSizeV1,
			HashTableSize:  4,
			BlockTableSize: 1,
		}}
		h.setHashTableOffset64(0x20)
		h.setBlockTableOffset64(0x60)
		return h
	}
	const size = 0x70

	require.NoError(t, validateHeader(valid(), size))

	tests := []struct {
		name   string
		modify func(h *archiveHeader)
		want   error
	}{
		{"version 3", func(h *archiveHeader) { h.FormatVersion = 2 }, ErrUnsupportedFeature},
		{"short header", func(h *archiveHeader) { h.HeaderSize = 0x10 }, ErrCorruptData},
		{"hash size", func(h *archiveHeader) { h.HashTableSize = 6 }, ErrCorruptData},
		{"sector shift", func(h *archiveHeader) { h.SectorSizeShift = 20 }, ErrUnsupportedFeature},
		{"hash bounds", func(h *archiveHeader) { h.setHashTableOffset64(0x40) }, ErrCorruptData},
		{"block bounds", func(h *archiveHeader) { h.BlockTableSize = 2 }, ErrCorruptData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := valid()
			tt.modify(h)
			assert.ErrorIs(t, validateHeader(h, size), tt.want)
		})
	}
}
