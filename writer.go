// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// AddFile adds the file at srcPath to the archive under name.
// The file's modification time is recorded unless WithModTime is given.
func (a *Archive) AddFile(srcPath, name string, opts ...AddOption) error {
	if err := a.checkWritable(); err != nil {
		return err
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return ioError("stat "+srcPath, err)
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return ioError("read "+srcPath, err)
	}

	opts = append([]AddOption{WithModTime(info.ModTime())}, opts...)
	return a.AddBytes(data, name, opts...)
}

// AddBytes adds data to the archive under name.
// Adding a name that already exists under the same locale fails with
// ErrAlreadyExists unless WithReplace is given.
func (a *Archive) AddBytes(data []byte, name string, opts ...AddOption) error {
	if err := a.checkWritable(); err != nil {
		return err
	}

	canonical, err := canonicalName(name)
	if err != nil {
		return err
	}
	if isInternalName(canonical) {
		return unsupported("%s is maintained by the archive", canonical)
	}

	cfg := defaultAddConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.localeSet {
		cfg.locale = a.locale
	}
	if cfg.modTime.IsZero() {
		cfg.modTime = time.Now()
	}

	if err := a.store(canonical, data, cfg); err != nil {
		return fmt.Errorf("add %s: %w", canonical, err)
	}
	return nil
}

// staged is a file body that has been encoded and placed but not written.
type staged struct {
	name     string
	data     []byte
	cfg      addConfig
	enc      *encodedFile
	place    placement
	slot     uint32
	replaces int64 // block index being replaced, -1 if none
}

// store writes a file body and then records it in the tables.
func (a *Archive) store(name string, data []byte, cfg addConfig) error {
	s, err := a.stage(name, data, cfg)
	if err != nil {
		return err
	}
	return a.write(s)
}

// stage does every fallible step of an add that does not touch the archive.
func (a *Archive) stage(name string, data []byte, cfg addConfig) (*staged, error) {
	s := &staged{name: name, data: data, cfg: cfg, replaces: -1}

	if slot, err := a.hashes.resolveExact(name, cfg.locale, 0); err == nil {
		if !cfg.replace {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		s.slot = slot
		s.replaces = int64(a.hashes.entries[slot].BlockIndex)
		if s.replaces >= int64(a.blocks.len()) {
			return nil, corrupt("hash entry for %s points at missing block %d", name, s.replaces)
		}
	}

	enc, err := encodeFile(data, sectorParams{
		sectorSize:  a.sectorSize,
		compression: cfg.compression,
		singleUnit:  cfg.singleUnit,
		sectorCRC:   cfg.sectorCRC,
		encrypt:     cfg.encrypt,
		fixKey:      cfg.fixKey,
		workers:     a.workers,
	})
	if err != nil {
		return nil, err
	}
	s.enc = enc

	if err := a.ensureCapacity(name, s.replaces < 0); err != nil {
		return nil, err
	}
	if s.replaces < 0 {
		if s.slot, err = a.hashes.freeSlot(name); err != nil {
			return nil, err
		}
	}

	s.place, err = a.blocks.allocate(enc.packedSize(), a.dataStart(), blockTableMaxSize)
	if err != nil {
		return nil, err
	}
	if a.header.FormatVersion < formatVersion2 && s.place.pos+uint64(enc.packedSize()) > math.MaxUint32 {
		return nil, unsupported("version 1 archives cannot exceed 4 GiB")
	}
	return s, nil
}

// write stores the body of s and then updates the tables. The tables are
// left untouched when the body cannot be written.
func (a *Archive) write(s *staged) error {
	var entry blockTableEntryEx
	entry.setFilePos64(s.place.pos)
	entry.CompressedSize = s.enc.packedSize()
	entry.FileSize = s.enc.fileSize
	entry.Flags = s.enc.flags

	var key uint32
	if entry.Flags&fileEncrypted != 0 {
		key = getFileKey(s.name, s.place.pos, entry.FileSize, entry.Flags)
	}
	if body := s.enc.seal(key); len(body) > 0 {
		if _, err := a.file.WriteAt(body, a.archiveOffset+int64(s.place.pos)); err != nil {
			return ioError("write file data", err)
		}
	}

	a.blocks.commit(s.place, entry)
	a.hashes.set(s.slot, s.name, s.cfg.locale, 0, s.place.index)
	if s.replaces >= 0 {
		a.blocks.free(uint32(s.replaces))
		a.meta[s.replaces] = fileMeta{}
	}

	m := fileMeta{
		name:     s.name,
		crc32:    crc32.ChecksumIEEE(s.data),
		md5:      md5.Sum(s.data),
		filetime: toFiletime(s.cfg.modTime),
	}
	if s.place.append {
		a.meta = append(a.meta, m)
	} else {
		a.meta[s.place.index] = m
	}

	a.dirty = true
	a.purgeCache()

	a.logger.WithFields(logrus.Fields{
		"name":   s.name,
		"block":  s.place.index,
		"size":   entry.FileSize,
		"packed": entry.CompressedSize,
		"reused": !s.place.append,
	}).Debug("stored file")
	return nil
}

// ensureCapacity grows the hash table when name has no free slot on its
// probe path.
func (a *Archive) ensureCapacity(name string, needSlot bool) error {
	if !needSlot {
		return nil
	}
	_, err := a.hashes.freeSlot(name)
	if err == nil || !a.autoGrow {
		return err
	}
	return a.grow()
}

// grow doubles the hash table. Every live entry must have a known name.
func (a *Archive) grow() error {
	size := a.hashes.size() * 2
	next, err := a.hashes.rebuild(size, a.nameOf)
	if err != nil {
		return fmt.Errorf("grow hash table: %w", err)
	}

	a.hashes = next
	a.header.HashTableSize = size
	a.dirty = true

	a.logger.WithFields(logrus.Fields{"slots": size, "entries": next.liveCount()}).Debug("grew hash table")
	return nil
}

func (a *Archive) nameOf(index uint32) string {
	if int(index) < len(a.meta) {
		return a.meta[index].name
	}
	return ""
}

// RemoveFile removes the named file. Its hash slot becomes a tombstone and
// its block is freed for reuse; the body bytes stay until Compact.
func (a *Archive) RemoveFile(name string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}

	ref, err := a.find(name)
	if err != nil {
		return err
	}
	if isInternalName(ref.name) {
		return unsupported("%s is maintained by the archive", ref.name)
	}

	a.hashes.remove(ref.slot)
	a.blocks.free(ref.index)
	a.meta[ref.index] = fileMeta{}
	a.dirty = true
	a.purgeCache()

	a.logger.WithFields(logrus.Fields{
		"name":  ref.name,
		"block": ref.index,
	}).Debug("removed file")
	return nil
}

// Flush writes the (listfile), (attributes), tables and header.
func (a *Archive) Flush() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if !a.dirty {
		return nil
	}
	return a.flush()
}

func (a *Archive) flush() error {
	if a.listFile {
		if err := a.writeListFile(); err != nil {
			return fmt.Errorf("write %s: %w", listFileName, err)
		}
	}
	if a.attributes {
		if err := a.writeAttributes(); err != nil {
			return fmt.Errorf("write %s: %w", attributesName, err)
		}
	}
	if err := a.writeTables(); err != nil {
		return err
	}

	a.dirty = false
	a.logger.WithFields(logrus.Fields{
		"slots":  a.hashes.size(),
		"blocks": a.blocks.len(),
	}).Debug("flushed archive")
	return nil
}

// internalConfig is how the pseudo-files are stored.
func internalConfig() addConfig {
	cfg := defaultAddConfig()
	cfg.replace = true
	cfg.locale = localeNeutral
	cfg.modTime = time.Now()
	return cfg
}

func (a *Archive) writeListFile() error {
	return a.store(listFileName, buildListFile(a.userNames()), internalConfig())
}

// writeAttributes stores one record per block table entry, including the
// entry (attributes) itself ends up in, so the record count depends on
// whether the new body reuses a freed block or appends one.
func (a *Archive) writeAttributes() error {
	cfg := internalConfig()

	s, err := a.stage(attributesName, a.buildAttributes(a.blocks.len()), cfg)
	if err != nil {
		return err
	}
	if s.place.append {
		s, err = a.stage(attributesName, a.buildAttributes(a.blocks.len()+1), cfg)
		if err != nil {
			return err
		}
	}
	if err := a.write(s); err != nil {
		return err
	}

	// Its own checksums are never recorded.
	a.meta[s.place.index].crc32 = 0
	a.meta[s.place.index].md5 = [16]byte{}
	return nil
}

// writeTables writes the hash, block and hi-block tables after the last
// file body, then the header.
func (a *Archive) writeTables() error {
	h := a.header
	pos := a.blocks.dataEnd(a.dataStart())

	hashData := encodeHashTable(a.hashes.entries)
	blockData := encodeBlockTable(a.blocks.entries)
	var hiData []byte
	if a.blocks.needsHiBlockTable() {
		if h.FormatVersion < formatVersion2 {
			return unsupported("version 1 archives cannot address data beyond 4 GiB")
		}
		hiData = encodeHiBlockTable(a.blocks.entries)
	}

	h.setHashTableOffset64(pos)
	h.HashTableSize = a.hashes.size()
	h.setBlockTableOffset64(pos + uint64(len(hashData)))
	h.BlockTableSize = uint32(a.blocks.len())
	h.HiBlockTableOffset64 = 0
	if hiData != nil {
		h.HiBlockTableOffset64 = pos + uint64(len(hashData)+len(blockData))
	}

	end := pos + uint64(len(hashData)+len(blockData)+len(hiData))
	if h.FormatVersion < formatVersion2 && end > math.MaxUint32 {
		return unsupported("version 1 archives cannot exceed 4 GiB")
	}
	h.ArchiveSize = uint32(min(end, math.MaxUint32))

	tables := make([]byte, 0, end-pos)
	tables = append(tables, hashData...)
	tables = append(tables, blockData...)
	tables = append(tables, hiData...)
	if _, err := a.file.WriteAt(tables, a.archiveOffset+int64(pos)); err != nil {
		return ioError("write tables", err)
	}
	if err := a.file.Truncate(a.archiveOffset + int64(end)); err != nil {
		return ioError("truncate archive", err)
	}

	hdr, err := a.headerBytes()
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := a.file.WriteAt(hdr, a.archiveOffset); err != nil {
		return ioError("write header", err)
	}
	if err := a.file.Sync(); err != nil {
		return ioError("sync archive", err)
	}
	return nil
}
