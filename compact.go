// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Compact rewrites the archive without freed blocks or dead space. Live
// bodies are copied into a temporary file next to the archive, which then
// replaces it. Files encrypted with a position-adjusted key are re-keyed
// for their new position, which needs their name.
func (a *Archive) Compact() error {
	if err := a.checkWritable(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), "mpq_*.tmp")
	if err != nil {
		return ioError("create temp file", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	// Keep anything in front of the archive, such as a user data block.
	if a.archiveOffset > 0 {
		if _, err := io.Copy(tmp, io.NewSectionReader(a.file, 0, a.archiveOffset)); err != nil {
			return fail(ioError("copy archive prefix", err))
		}
	}

	blocks, meta, remap, err := a.copyBodies(tmp)
	if err != nil {
		return fail(err)
	}
	hashes := a.reindexHashes(remap)

	// Flush into the new file; put everything back if that fails.
	oldFile, oldHashes, oldBlocks, oldMeta := a.file, a.hashes, a.blocks, a.meta
	a.file, a.hashes, a.blocks, a.meta = tmp, hashes, newBlockTable(blocks), meta
	a.purgeCache()
	if err := a.flush(); err != nil {
		a.file, a.hashes, a.blocks, a.meta = oldFile, oldHashes, oldBlocks, oldMeta
		return fail(fmt.Errorf("compact: %w", err))
	}

	if err := tmp.Close(); err != nil {
		a.file, a.hashes, a.blocks, a.meta = oldFile, oldHashes, oldBlocks, oldMeta
		os.Remove(tmpPath)
		return ioError("close temp file", err)
	}
	oldFile.Close()

	if err := os.Rename(tmpPath, a.path); err != nil {
		if err := copyFile(tmpPath, a.path); err != nil {
			os.Remove(tmpPath)
			a.closed = true
			return ioError("replace archive", err)
		}
		os.Remove(tmpPath)
	}

	file, err := os.OpenFile(a.path, os.O_RDWR, 0)
	if err != nil {
		a.closed = true
		return ioError("reopen archive", err)
	}
	a.file = file
	a.dirty = false

	a.logger.WithFields(logrus.Fields{
		"path":   a.path,
		"blocks": a.blocks.len(),
	}).Debug("compacted archive")
	return nil
}

// copyBodies writes every live body to dst back to back and returns the
// new block table, its metadata, and a map from old to new block index.
// (listfile) and (attributes) are dropped when the archive rewrites them
// on flush.
func (a *Archive) copyBodies(dst io.WriterAt) ([]blockTableEntryEx, []fileMeta, map[uint32]uint32, error) {
	var (
		blocks []blockTableEntryEx
		meta   []fileMeta
		remap  = make(map[uint32]uint32)
		pos    = a.dataStart()
	)

	for i := range a.blocks.entries {
		e := a.blocks.entries[i]
		m := a.meta[i]
		if !e.exists() {
			continue
		}
		if (a.listFile && m.name == listFileName) || (a.attributes && m.name == attributesName) {
			continue
		}

		body := make([]byte, e.CompressedSize)
		if err := readFullAt(a.file, body, a.archiveOffset+int64(e.getFilePos64()), "file data"); err != nil {
			return nil, nil, nil, err
		}

		if e.Flags&fileEncrypted != 0 && e.Flags&fileFixKey != 0 && pos != e.getFilePos64() {
			if m.name == "" {
				return nil, nil, nil, unsupported("block %d is encrypted with a position key and its name is unknown", i)
			}
			l, err := a.layoutOf(fileRef{name: m.name, index: uint32(i), block: e})
			if err != nil {
				return nil, nil, nil, fmt.Errorf("re-key %s: %w", m.name, err)
			}
			l.rekey(body, getFileKey(m.name, pos, e.FileSize, e.Flags))
		}

		if len(body) > 0 {
			if _, err := dst.WriteAt(body, a.archiveOffset+int64(pos)); err != nil {
				return nil, nil, nil, ioError("write file data", err)
			}
		}

		e.setFilePos64(pos)
		if a.header.FormatVersion < formatVersion2 && e.end() > math.MaxUint32 {
			return nil, nil, nil, unsupported("version 1 archives cannot exceed 4 GiB")
		}
		remap[uint32(i)] = uint32(len(blocks))
		blocks = append(blocks, e)
		meta = append(meta, m)
		pos = e.end()
	}
	return blocks, meta, remap, nil
}

// reindexHashes builds a hash table for the compacted block table. When
// every name is known the table is rebuilt without tombstones; otherwise
// entries keep their slots and dropped blocks become tombstones.
func (a *Archive) reindexHashes(remap map[uint32]uint32) *hashTable {
	rebuilt := newHashTable(a.hashes.size())
	ok := true
	for i := range a.hashes.entries {
		e := &a.hashes.entries[i]
		if !e.live() {
			continue
		}
		index, kept := remap[e.BlockIndex]
		if !kept {
			continue
		}
		name := a.nameOf(e.BlockIndex)
		if h := hashName(name); name == "" || h.a != e.HashA || h.b != e.HashB {
			ok = false
			break
		}
		if _, err := rebuilt.insert(name, e.Locale, e.Platform, index); err != nil {
			ok = false
			break
		}
	}
	if ok {
		return rebuilt
	}

	kept := &hashTable{entries: make([]hashTableEntry, len(a.hashes.entries))}
	copy(kept.entries, a.hashes.entries)
	for i := range kept.entries {
		e := &kept.entries[i]
		if !e.live() {
			continue
		}
		if index, ok := remap[e.BlockIndex]; ok {
			e.BlockIndex = index
		} else {
			kept.remove(uint32(i))
		}
	}
	return kept
}
