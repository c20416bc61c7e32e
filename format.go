// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// MPQ format constants
const (
	// Magic signature "MPQ\x1A" in little-endian
	mpqMagic = 0x1A51504D

	// User data header magic "MPQ\x1B"
	userDataMagic = 0x1B51504D

	// Headers are searched for at multiples of this offset.
	headerSearchStep = 0x200

	// Format versions
	formatVersion1 = 0 // Original format (up to 4GB)
	formatVersion2 = 1 // Extended format (Burning Crusade+)

	// Header sizes
	headerSizeV1 = 0x20 // 32 bytes
	headerSizeV2 = 0x2C // 44 bytes

	// Block table entry flags
	fileImplode      = 0x00000100 // Imploded (PKWARE compression)
	fileCompress     = 0x00000200 // Compressed (multi-algorithm)
	fileEncrypted    = 0x00010000 // Encrypted
	fileFixKey       = 0x00020000 // Key adjusted by block offset
	filePatchFile    = 0x00100000 // Patch file
	fileSingleUnit   = 0x01000000 // Single unit (not split into sectors)
	fileDeleteMarker = 0x02000000 // File is a deletion marker
	fileSectorCRC    = 0x04000000 // Sector CRC values after data
	fileExists       = 0x80000000 // File exists

	fileCompressMask = fileImplode | fileCompress

	// Hash table entry constants
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	// Locale
	localeNeutral = 0x00000000

	// Sector size is 512 << shift; the default gives 4096-byte sectors.
	defaultSectorSizeShift = 3
	maxSectorSizeShift     = 15

	hashEntrySize  = 16
	blockEntrySize = 16
)

// FormatVersion specifies which MPQ format version to use when creating archives.
type FormatVersion int

const (
	// FormatV1 creates archives using the original MPQ format (up to 4GB).
	// Compatible with all games that use MPQ.
	FormatV1 FormatVersion = 0

	// FormatV2 creates archives using the extended format (>4GB support).
	// Compatible with WoW: The Burning Crusade and later.
	FormatV2 FormatVersion = 1
)

// baseHeader is the MPQ archive header (V1 format - 32 bytes)
type baseHeader struct {
	Magic            uint32 // "MPQ\x1A"
	HeaderSize       uint32 // Size of this header (0x20 for V1, 0x2C for V2)
	ArchiveSize      uint32 // Size of the entire archive (deprecated in V2)
	FormatVersion    uint16 // Format version (0 = V1, 1 = V2)
	SectorSizeShift  uint16 // Power of 2 for sector size
	HashTableOffset  uint32 // Offset to hash table (low 32 bits)
	BlockTableOffset uint32 // Offset to block table (low 32 bits)
	HashTableSize    uint32 // Number of entries in hash table
	BlockTableSize   uint32 // Number of entries in block table
}

// extendedHeader contains V2 extended header fields (12 bytes)
type extendedHeader struct {
	HiBlockTableOffset64 uint64 // 64-bit offset to the hi-block table
	HashTableOffsetHi    uint16 // High 16 bits of hash table offset
	BlockTableOffsetHi   uint16 // High 16 bits of block table offset
}

// archiveHeader combines V1 and V2 headers
type archiveHeader struct {
	baseHeader
	extendedHeader
}

// userDataHeader precedes the archive header in some archives (e.g. maps).
type userDataHeader struct {
	Magic            uint32
	UserDataSize     uint32
	HeaderOffset     uint32
	UserDataHeadSize uint32
}

func (h *archiveHeader) getHashTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.HashTableOffset) | (uint64(h.HashTableOffsetHi) << 32)
	}
	return uint64(h.HashTableOffset)
}

func (h *archiveHeader) getBlockTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.BlockTableOffset) | (uint64(h.BlockTableOffsetHi) << 32)
	}
	return uint64(h.BlockTableOffset)
}

func (h *archiveHeader) setHashTableOffset64(offset uint64) {
	h.HashTableOffset = uint32(offset)
	h.HashTableOffsetHi = uint16(offset >> 32)
}

func (h *archiveHeader) setBlockTableOffset64(offset uint64) {
	h.BlockTableOffset = uint32(offset)
	h.BlockTableOffsetHi = uint16(offset >> 32)
}

// sectorSize returns the sector size in bytes.
func (h *archiveHeader) sectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// hashTableEntry represents an entry in the hash table
type hashTableEntry struct {
	HashA      uint32 // First hash of the file name
	HashB      uint32 // Second hash of the file name
	Locale     uint16 // Locale ID
	Platform   uint16 // Platform ID (0 = default)
	BlockIndex uint32 // Index into the block table
}

// blockTableEntry represents an entry in the block table
type blockTableEntry struct {
	FilePos        uint32 // Offset of the file data (low 32 bits)
	CompressedSize uint32 // Compressed file size
	FileSize       uint32 // Uncompressed file size
	Flags          uint32 // File flags
}

// blockTableEntryEx extends blockTableEntry with 64-bit offset support
type blockTableEntryEx struct {
	blockTableEntry
	FilePosHi uint16 // High 16 bits of file offset (from extended block table)
}

func (b *blockTableEntryEx) getFilePos64() uint64 {
	return uint64(b.FilePos) | (uint64(b.FilePosHi) << 32)
}

func (b *blockTableEntryEx) setFilePos64(pos uint64) {
	b.FilePos = uint32(pos)
	b.FilePosHi = uint16(pos >> 32)
}

// exists reports whether the entry holds a live file.
func (b *blockTableEntryEx) exists() bool {
	return b.Flags&fileExists != 0
}

// end returns the position just past the entry's stored bytes.
func (b *blockTableEntryEx) end() uint64 {
	return b.getFilePos64() + uint64(b.CompressedSize)
}

// readArchiveHeader reads the MPQ header from a reader
func readArchiveHeader(r io.Reader) (*archiveHeader, error) {
	h := &archiveHeader{}

	if err := binary.Read(r, binary.LittleEndian, &h.baseHeader); err != nil {
		return nil, err
	}

	if h.FormatVersion >= formatVersion2 && h.HeaderSize >= headerSizeV2 {
		if err := binary.Read(r, binary.LittleEndian, &h.extendedHeader); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// writeArchiveHeader writes the MPQ header to a writer
func writeArchiveHeader(w io.Writer, h *archiveHeader) error {
	if err := binary.Write(w, binary.LittleEndian, &h.baseHeader); err != nil {
		return err
	}

	if h.FormatVersion >= formatVersion2 {
		if err := binary.Write(w, binary.LittleEndian, &h.extendedHeader); err != nil {
			return err
		}
	}

	return nil
}

// findArchiveHeader scans r for an archive header at 512-byte boundaries,
// following a user data header if one is found first. It returns the header
// and the absolute offset of the archive start.
func findArchiveHeader(r io.ReaderAt, size int64) (*archiveHeader, int64, error) {
	var magic [4]byte
	for off := int64(0); off+headerSizeV1 <= size; off += headerSearchStep {
		if _, err := r.ReadAt(magic[:], off); err != nil {
			return nil, 0, ioError("read header signature", err)
		}

		switch binary.LittleEndian.Uint32(magic[:]) {
		case mpqMagic:
			h, err := readArchiveHeader(io.NewSectionReader(r, off, size-off))
			if err != nil {
				return nil, 0, corrupt("truncated header at 0x%X", off)
			}
			return h, off, nil

		case userDataMagic:
			var ud userDataHeader
			if err := binary.Read(io.NewSectionReader(r, off, size-off), binary.LittleEndian, &ud); err != nil {
				return nil, 0, corrupt("truncated user data header at 0x%X", off)
			}
			target := off + int64(ud.HeaderOffset)
			if ud.HeaderOffset == 0 || target+headerSizeV1 > size {
				continue
			}
			if _, err := r.ReadAt(magic[:], target); err != nil {
				return nil, 0, ioError("read header signature", err)
			}
			if binary.LittleEndian.Uint32(magic[:]) != mpqMagic {
				continue
			}
			h, err := readArchiveHeader(io.NewSectionReader(r, target, size-target))
			if err != nil {
				return nil, 0, corrupt("truncated header at 0x%X", target)
			}
			return h, target, nil
		}
	}

	return nil, 0, corrupt("no MPQ header found")
}

// validateHeader checks the header against the bytes available after the archive start.
func validateHeader(h *archiveHeader, available int64) error {
	if h.FormatVersion > formatVersion2 {
		return unsupported("format version %d (only V1 and V2 are supported)", h.FormatVersion+1)
	}
	if h.HeaderSize < headerSizeV1 || (h.FormatVersion >= formatVersion2 && h.HeaderSize < headerSizeV2) {
		return corrupt("header size 0x%X too small for version %d", h.HeaderSize, h.FormatVersion+1)
	}
	if h.SectorSizeShift > maxSectorSizeShift {
		return unsupported("sector size shift %d", h.SectorSizeShift)
	}
	if h.HashTableSize == 0 || h.HashTableSize&(h.HashTableSize-1) != 0 {
		return corrupt("hash table size %d is not a power of two", h.HashTableSize)
	}

	end := uint64(available)
	if h.getHashTableOffset64()+uint64(h.HashTableSize)*hashEntrySize > end {
		return corrupt("hash table at 0x%X exceeds archive bounds", h.getHashTableOffset64())
	}
	if h.getBlockTableOffset64()+uint64(h.BlockTableSize)*blockEntrySize > end {
		return corrupt("block table at 0x%X exceeds archive bounds", h.getBlockTableOffset64())
	}
	if h.FormatVersion >= formatVersion2 && h.HiBlockTableOffset64 != 0 &&
		h.HiBlockTableOffset64+uint64(h.BlockTableSize)*2 > end {
		return corrupt("hi-block table at 0x%X exceeds archive bounds", h.HiBlockTableOffset64)
	}
	return nil
}

// encodeHashTable serializes and encrypts the hash table.
func encodeHashTable(entries []hashTableEntry) []byte {
	words := make([]uint32, len(entries)*4)
	for i, entry := range entries {
		words[i*4] = entry.HashA
		words[i*4+1] = entry.HashB
		words[i*4+2] = uint32(entry.Locale) | (uint32(entry.Platform) << 16)
		words[i*4+3] = entry.BlockIndex
	}
	encryptBlock(words, hashTableKey)
	return wordsToBytes(words)
}

// decodeHashTable decrypts and parses the hash table.
func decodeHashTable(data []byte) []hashTableEntry {
	words := bytesToWords(data)
	decryptBlock(words, hashTableKey)

	entries := make([]hashTableEntry, len(words)/4)
	for i := range entries {
		entries[i] = hashTableEntry{
			HashA:      words[i*4],
			HashB:      words[i*4+1],
			Locale:     uint16(words[i*4+2] & 0xFFFF),
			Platform:   uint16(words[i*4+2] >> 16),
			BlockIndex: words[i*4+3],
		}
	}
	return entries
}

// encodeBlockTable serializes and encrypts the block table.
func encodeBlockTable(entries []blockTableEntryEx) []byte {
	words := make([]uint32, len(entries)*4)
	for i, entry := range entries {
		words[i*4] = entry.FilePos
		words[i*4+1] = entry.CompressedSize
		words[i*4+2] = entry.FileSize
		words[i*4+3] = entry.Flags
	}
	encryptBlock(words, blockTableKey)
	return wordsToBytes(words)
}

// decodeBlockTable decrypts and parses the block table.
// hi carries the V2 hi-block table and may be nil.
func decodeBlockTable(data []byte, hi []byte) []blockTableEntryEx {
	words := bytesToWords(data)
	decryptBlock(words, blockTableKey)

	entries := make([]blockTableEntryEx, len(words)/4)
	for i := range entries {
		entries[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        words[i*4],
				CompressedSize: words[i*4+1],
				FileSize:       words[i*4+2],
				Flags:          words[i*4+3],
			},
		}
		if len(hi) >= (i+1)*2 {
			entries[i].FilePosHi = binary.LittleEndian.Uint16(hi[i*2:])
		}
	}
	return entries
}

// encodeHiBlockTable serializes the high 16 bits of every file position.
func encodeHiBlockTable(entries []blockTableEntryEx) []byte {
	var buf bytes.Buffer
	for _, entry := range entries {
		_ = binary.Write(&buf, binary.LittleEndian, entry.FilePosHi)
	}
	return buf.Bytes()
}

// readFullAt reads exactly len(buf) bytes at off, reporting short reads as corruption.
func readFullAt(r io.ReaderAt, buf []byte, off int64, what string) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corrupt("%s truncated: got %d of %d bytes", what, n, len(buf))
	}
	return ioError("read "+what, err)
}

func wordsToBytes(words []uint32) []byte {
	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

func bytesToWords(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}
