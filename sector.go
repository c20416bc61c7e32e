// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/sync/errgroup"
)

// sectorParams describes how a file body is laid out.
type sectorParams struct {
	sectorSize  uint32
	compression Compression
	singleUnit  bool
	sectorCRC   bool
	encrypt     bool
	fixKey      bool
	workers     int
}

// encodedFile is a file body split into stored sectors, not yet encrypted.
// Encryption needs the final position when the key is position-adjusted,
// so it happens in seal once the block table has placed the file.
type encodedFile struct {
	flags     uint32
	fileSize  uint32
	sectors   [][]byte
	offsets   []uint32 // nil unless compressed and sectored
	checksums []byte   // stored checksum sector, nil if none
}

// encodeFile splits data into sectors and compresses each one independently.
func encodeFile(data []byte, p sectorParams) (*encodedFile, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, unsupported("file of %d bytes exceeds 4 GiB", len(data))
	}
	if err := p.compression.validate(); err != nil {
		return nil, err
	}

	f := &encodedFile{flags: fileExists, fileSize: uint32(len(data))}
	if len(data) == 0 {
		return f, nil
	}

	compressed := p.compression != CompressionNone
	if compressed {
		f.flags |= fileCompress
	}
	if p.encrypt {
		f.flags |= fileEncrypted
		if p.fixKey {
			f.flags |= fileFixKey
		}
	}

	if p.singleUnit {
		f.flags |= fileSingleUnit
		stored, err := storeSector(p.compression, data)
		if err != nil {
			return nil, err
		}
		f.sectors = [][]byte{stored}
		return f, nil
	}

	count := (uint32(len(data)) + p.sectorSize - 1) / p.sectorSize
	f.sectors = make([][]byte, count)

	var g errgroup.Group
	g.SetLimit(max(p.workers, 1))
	for i := uint32(0); i < count; i++ {
		i := i
		g.Go(func() error {
			start := i * p.sectorSize
			end := min(start+p.sectorSize, uint32(len(data)))
			stored, err := storeSector(p.compression, data[start:end])
			if err != nil {
				return fmt.Errorf("sector %d: %w", i, err)
			}
			f.sectors[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !compressed {
		return f, nil
	}

	entries := count + 1
	if p.sectorCRC {
		f.flags |= fileSectorCRC
		entries++

		sums := make([]byte, count*4)
		for i, s := range f.sectors {
			binary.LittleEndian.PutUint32(sums[i*4:], sectorChecksum(s))
		}
		stored, err := storeSector(CompressionZlib, sums)
		if err != nil {
			return nil, fmt.Errorf("checksum sector: %w", err)
		}
		f.checksums = stored
	}

	f.offsets = make([]uint32, entries)
	f.offsets[0] = entries * 4
	for i, s := range f.sectors {
		f.offsets[i+1] = f.offsets[i] + uint32(len(s))
	}
	if f.checksums != nil {
		f.offsets[count+1] = f.offsets[count] + uint32(len(f.checksums))
	}
	return f, nil
}

// storeSector returns the compressed form of data when that is smaller,
// otherwise data itself.
func storeSector(method Compression, data []byte) ([]byte, error) {
	out, err := compressSector(method, data)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return data, nil
	}
	return out, nil
}

// packedSize returns the number of bytes seal produces.
func (f *encodedFile) packedSize() uint32 {
	if f.offsets != nil {
		return f.offsets[len(f.offsets)-1]
	}
	var n uint32
	for _, s := range f.sectors {
		n += uint32(len(s))
	}
	return n
}

// seal lays out the offset table, sectors and checksum sector, encrypting
// with key when the file is encrypted.
func (f *encodedFile) seal(key uint32) []byte {
	out := make([]byte, 0, f.packedSize())
	encrypted := f.flags&fileEncrypted != 0

	if f.offsets != nil {
		table := wordsToBytes(f.offsets)
		if encrypted {
			encryptBytes(table, key-1)
		}
		out = append(out, table...)
	}

	for i, s := range f.sectors {
		start := len(out)
		out = append(out, s...)
		if encrypted {
			encryptBytes(out[start:], key+uint32(i))
		}
	}

	return append(out, f.checksums...)
}

// fileLayout locates and decodes the sectors of one stored file.
type fileLayout struct {
	block      blockTableEntryEx
	base       int64 // absolute position of the file body
	key        uint32
	sectorSize uint32
	count      uint32
	offsets    []uint32 // sector boundaries relative to base, count+1 entries
	tableSize  uint32   // bytes of stored offset table, 0 if none
	checksums  []uint32 // nil when the file has no checksum sector
}

func (l *fileLayout) encrypted() bool  { return l.block.Flags&fileEncrypted != 0 }
func (l *fileLayout) compressed() bool { return l.block.Flags&fileCompressMask != 0 }

// loadLayout reads the offset table and checksum sector of a file.
func loadLayout(r io.ReaderAt, base int64, block blockTableEntryEx, key, sectorSize uint32) (*fileLayout, error) {
	if block.Flags&filePatchFile != 0 {
		return nil, unsupported("patch files")
	}
	if block.Flags&fileImplode != 0 {
		return nil, unsupported("imploded files")
	}

	l := &fileLayout{block: block, base: base, key: key, sectorSize: sectorSize}

	switch {
	case block.FileSize == 0:
		l.offsets = []uint32{0}

	case block.Flags&fileSingleUnit != 0:
		l.count = 1
		l.offsets = []uint32{0, block.CompressedSize}

	case !l.compressed():
		if block.CompressedSize < block.FileSize {
			return nil, corrupt("uncompressed file stores %d of %d bytes", block.CompressedSize, block.FileSize)
		}
		l.count = (block.FileSize + sectorSize - 1) / sectorSize
		l.offsets = make([]uint32, l.count+1)
		for i := range l.offsets {
			l.offsets[i] = min(uint32(i)*sectorSize, block.FileSize)
		}

	default:
		if err := l.loadOffsetTable(r); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *fileLayout) loadOffsetTable(r io.ReaderAt) error {
	block := &l.block
	l.count = (block.FileSize + l.sectorSize - 1) / l.sectorSize
	entries := l.count + 1
	if block.Flags&fileSectorCRC != 0 {
		entries++
	}
	l.tableSize = entries * 4
	if l.tableSize > block.CompressedSize {
		return corrupt("offset table of %d bytes exceeds packed size %d", l.tableSize, block.CompressedSize)
	}

	raw := make([]byte, l.tableSize)
	if err := readFullAt(r, raw, l.base, "sector offset table"); err != nil {
		return err
	}
	if l.encrypted() {
		decryptBytes(raw, l.key-1)
	}
	table := bytesToWords(raw)

	if table[0] != l.tableSize {
		return corrupt("sector offset table starts at %d, expected %d", table[0], l.tableSize)
	}
	for i := 1; i < len(table); i++ {
		if table[i] < table[i-1] {
			return corrupt("sector offset table decreases at entry %d", i)
		}
	}
	if last := table[len(table)-1]; last != block.CompressedSize {
		return corrupt("sector offset table ends at %d, packed size is %d", last, block.CompressedSize)
	}
	l.offsets = table[:l.count+1]

	if block.Flags&fileSectorCRC != 0 {
		return l.loadChecksums(r, table[l.count], table[l.count+1])
	}
	return nil
}

func (l *fileLayout) loadChecksums(r io.ReaderAt, start, end uint32) error {
	want := int(l.count * 4)
	raw := make([]byte, end-start)
	if err := readFullAt(r, raw, l.base+int64(start), "checksum sector"); err != nil {
		return err
	}

	switch {
	case len(raw) == want:
	case len(raw) < want && len(raw) > 0:
		out, err := decompressSector(raw, want)
		if err != nil {
			return fmt.Errorf("checksum sector: %w", err)
		}
		raw = out
	default:
		return corrupt("checksum sector is %d bytes, expected %d", len(raw), want)
	}

	l.checksums = bytesToWords(raw)
	return nil
}

// sectorLen returns the uncompressed length of sector i.
func (l *fileLayout) sectorLen(i uint32) uint32 {
	if l.block.Flags&fileSingleUnit != 0 {
		return l.block.FileSize
	}
	return min(l.sectorSize, l.block.FileSize-i*l.sectorSize)
}

// readSector reads, verifies, decrypts and decompresses sector i.
func (l *fileLayout) readSector(r io.ReaderAt, i uint32) ([]byte, error) {
	if i >= l.count {
		return nil, fmt.Errorf("sector %d out of range (%d sectors)", i, l.count)
	}

	start, end := l.offsets[i], l.offsets[i+1]
	raw := make([]byte, end-start)
	if err := readFullAt(r, raw, l.base+int64(start), fmt.Sprintf("sector %d", i)); err != nil {
		return nil, err
	}
	if l.encrypted() {
		decryptBytes(raw, l.key+i)
	}
	if l.checksums != nil && l.checksums[i] != 0 {
		if sum := sectorChecksum(raw); sum != l.checksums[i] {
			return nil, corrupt("sector %d checksum 0x%08X, expected 0x%08X", i, sum, l.checksums[i])
		}
	}

	want := int(l.sectorLen(i))
	switch {
	case len(raw) == want:
		return raw, nil
	case len(raw) < want && l.compressed():
		out, err := decompressSector(raw, want)
		if err != nil {
			return nil, fmt.Errorf("sector %d: %w", i, err)
		}
		return out, nil
	case len(raw) > want && !l.compressed():
		return raw[:want], nil
	default:
		return nil, corrupt("sector %d stores %d bytes for %d", i, len(raw), want)
	}
}

// readAll decodes every sector, using up to workers goroutines. The output
// is assembled from decoded sectors, so a damaged FileSize fails before it
// is allocated.
func (l *fileLayout) readAll(r io.ReaderAt, workers int) ([]byte, error) {
	switch l.count {
	case 0:
		return []byte{}, nil
	case 1:
		return l.readSector(r, 0)
	}

	parts := make([][]byte, l.count)
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i := uint32(0); i < l.count; i++ {
		i := i
		g.Go(func() error {
			data, err := l.readSector(r, i)
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bytes.Join(parts, nil), nil
}

// rekey re-encrypts a raw file body from the layout's key to newKey.
// The checksum sector is never encrypted and is left alone.
func (l *fileLayout) rekey(body []byte, newKey uint32) {
	if !l.encrypted() {
		return
	}
	if l.tableSize > 0 {
		decryptBytes(body[:l.tableSize], l.key-1)
		encryptBytes(body[:l.tableSize], newKey-1)
	}
	for i := uint32(0); i < l.count; i++ {
		sector := body[l.offsets[i]:l.offsets[i+1]]
		decryptBytes(sector, l.key+i)
		encryptBytes(sector, newKey+i)
	}
}
