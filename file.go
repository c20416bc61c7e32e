// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSectorCacheSize = 256

// sectorKey identifies a decoded sector in the archive's sector cache.
type sectorKey struct {
	block  uint32
	pos    uint64
	sector uint32
}

func newSectorCache(size int) (*lru.Cache[sectorKey, []byte], error) {
	if size <= 0 {
		return nil, nil
	}
	return lru.New[sectorKey, []byte](size)
}

// File is a read-only view of one stored file. Reads decode only the
// sectors they touch. A File becomes unusable once the archive is closed
// or the file is removed or replaced.
type File struct {
	archive    *Archive
	name       string
	blockIndex uint32
	layout     *fileLayout
	offset     int64
}

var (
	_ io.ReaderAt = (*File)(nil)
	_ io.ReadSeeker = (*File)(nil)
)

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Size returns the uncompressed size of the file.
func (f *File) Size() int64 {
	return int64(f.layout.block.FileSize)
}

// check verifies that the archive is open and the file is still stored
// where it was when opened.
func (f *File) check() error {
	if err := f.archive.checkOpen(); err != nil {
		return err
	}
	current, err := f.archive.blocks.get(f.blockIndex)
	if err != nil || *current != f.layout.block {
		return fmt.Errorf("%w: %s was modified after it was opened", ErrInvalidState, f.name)
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.New("mpq: negative offset")
	}
	size := f.Size()
	if off >= size {
		return 0, io.EOF
	}

	unit := int64(f.layout.sectorSize)
	if f.layout.block.Flags&fileSingleUnit != 0 {
		unit = size
	}

	n := 0
	for n < len(p) && off < size {
		index := uint32(off / unit)
		data, err := f.archive.cachedSector(f.blockIndex, f.layout, index)
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], data[off-int64(index)*unit:])
		n += copied
		off += int64(copied)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.Size() + offset
	default:
		return 0, errors.New("mpq: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("mpq: negative position")
	}
	f.offset = abs
	return abs, nil
}

// cachedSector returns sector index of a file, decoding it on a cache miss.
func (a *Archive) cachedSector(blockIndex uint32, l *fileLayout, index uint32) ([]byte, error) {
	key := sectorKey{block: blockIndex, pos: l.block.getFilePos64(), sector: index}
	if a.cache != nil {
		if data, ok := a.cache.Get(key); ok {
			return data, nil
		}
	}

	data, err := l.readSector(a.file, index)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Add(key, data)
	}
	return data, nil
}
