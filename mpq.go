// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Archive represents an open MPQ archive.
//
// An Archive is not safe for concurrent use. Changes are written to the
// archive body as they are made; the header and tables are written by
// Flush and Close.
type Archive struct {
	file          *os.File
	path          string
	readOnly      bool
	closed        bool
	dirty         bool
	header        *archiveHeader
	archiveOffset int64
	hashes        *hashTable
	blocks        *blockTable
	meta          []fileMeta // parallel to blocks.entries
	sectorSize    uint32
	listFile      bool
	attributes    bool
	autoGrow      bool
	locale        uint16
	workers       int
	logger        logrus.FieldLogger
	cache         *lru.Cache[sectorKey, []byte]
}

// fileMeta is what the archive knows about a block beyond the block table.
type fileMeta struct {
	name     string
	crc32    uint32
	md5      [16]byte
	filetime uint64
}

// fileRef is a resolved name.
type fileRef struct {
	name  string
	slot  uint32
	index uint32
	block blockTableEntryEx
}

// Create creates a new archive at path able to hold maxFiles files before
// its hash table has to grow. The archive is open for writing; the header
// and empty tables are on disk when Create returns.
func Create(path string, maxFiles int, opts ...Option) (*Archive, error) {
	cfg := defaultArchiveConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if maxFiles < 0 {
		return nil, fmt.Errorf("invalid file count %d", maxFiles)
	}
	if cfg.sectorSizeShift > maxSectorSizeShift {
		return nil, unsupported("sector size shift %d", cfg.sectorSizeShift)
	}
	if cfg.version != FormatV1 && cfg.version != FormatV2 {
		return nil, unsupported("format version %d", int(cfg.version)+1)
	}

	// Two extra slots for (listfile) and (attributes).
	need := uint64(maxFiles) + 2
	if need > hashTableMaxSize {
		return nil, fmt.Errorf("%w: %d files exceed the largest hash table", ErrTableFull, maxFiles)
	}
	hashTableSize := max(nextPowerOf2(uint32(need)), hashTableMinSize)

	if !cfg.overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ioError("create directory", err)
	}

	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if !cfg.overwrite {
		flag |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, ioError("create archive", err)
	}

	header := &archiveHeader{
		baseHeader: baseHeader{
			Magic:           mpqMagic,
			HeaderSize:      headerSizeV1,
			FormatVersion:   formatVersion1,
			SectorSizeShift: cfg.sectorSizeShift,
			HashTableSize:   hashTableSize,
		},
	}
	if cfg.version == FormatV2 {
		header.HeaderSize = headerSizeV2
		header.FormatVersion = formatVersion2
	}

	a, err := newArchive(file, path, header, 0, cfg)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	a.readOnly = false
	a.hashes = newHashTable(hashTableSize)
	a.blocks = newBlockTable(nil)
	a.listFile = cfg.listFile
	a.attributes = cfg.attributes
	a.dirty = true

	if err := a.Flush(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"path":  path,
		"slots": hashTableSize,
	}).Debug("created archive")
	return a, nil
}

// Open opens an existing archive. Archives are opened read-only unless
// WithReadOnly(false) is given.
func Open(path string, opts ...Option) (*Archive, error) {
	cfg := defaultArchiveConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	flag := os.O_RDONLY
	if !cfg.readOnly {
		flag = os.O_RDWR
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, ioError("open archive", err)
	}

	a, err := load(file, path, cfg)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return a, nil
}

func newArchive(file *os.File, path string, header *archiveHeader, offset int64, cfg archiveConfig) (*Archive, error) {
	cache, err := newSectorCache(cfg.sectorCache)
	if err != nil {
		return nil, fmt.Errorf("create sector cache: %w", err)
	}
	logger := cfg.logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Archive{
		file:          file,
		path:          path,
		readOnly:      cfg.readOnly,
		header:        header,
		archiveOffset: offset,
		sectorSize:    header.sectorSize(),
		autoGrow:      !cfg.fixedTables,
		locale:        cfg.locale,
		workers:       cfg.workers,
		logger:        logger,
		cache:         cache,
	}, nil
}

// load reads the header and tables of an archive.
func load(file *os.File, path string, cfg archiveConfig) (*Archive, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, ioError("stat archive", err)
	}
	size := info.Size()

	header, offset, err := findArchiveHeader(file, size)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(header, size-offset); err != nil {
		return nil, err
	}

	hashData := make([]byte, int(header.HashTableSize)*hashEntrySize)
	if err := readFullAt(file, hashData, offset+int64(header.getHashTableOffset64()), "hash table"); err != nil {
		return nil, err
	}
	blockData := make([]byte, int(header.BlockTableSize)*blockEntrySize)
	if err := readFullAt(file, blockData, offset+int64(header.getBlockTableOffset64()), "block table"); err != nil {
		return nil, err
	}
	var hiData []byte
	if header.FormatVersion >= formatVersion2 && header.HiBlockTableOffset64 != 0 {
		hiData = make([]byte, int(header.BlockTableSize)*2)
		if err := readFullAt(file, hiData, offset+int64(header.HiBlockTableOffset64), "hi-block table"); err != nil {
			return nil, err
		}
	}

	blocks := newBlockTable(decodeBlockTable(blockData, hiData))
	if err := blocks.checkBounds(uint64(size - offset)); err != nil {
		return nil, err
	}

	a, err := newArchive(file, path, header, offset, cfg)
	if err != nil {
		return nil, err
	}
	a.hashes = &hashTable{entries: decodeHashTable(hashData)}
	a.blocks = blocks
	a.meta = make([]fileMeta, blocks.len())

	for _, name := range []string{listFileName, attributesName, signatureName} {
		a.learnName(name)
	}

	hasList, err := a.loadListFile()
	if err != nil {
		a.logger.WithError(err).Warn("ignoring unreadable (listfile)")
	}
	a.listFile = cfg.listFile && hasList

	hasAttrs, err := a.loadAttributes()
	if err != nil {
		a.logger.WithError(err).Warn("ignoring unreadable (attributes)")
	}
	a.attributes = cfg.attributes && hasAttrs

	a.logger.WithFields(logrus.Fields{
		"path":    path,
		"offset":  offset,
		"version": header.FormatVersion + 1,
		"slots":   header.HashTableSize,
		"blocks":  header.BlockTableSize,
	}).Debug("opened archive")
	return a, nil
}

func (a *Archive) checkOpen() error {
	if a.closed {
		return fmt.Errorf("%w: archive is closed", ErrInvalidState)
	}
	return nil
}

func (a *Archive) checkWritable() error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.readOnly {
		return fmt.Errorf("%w: archive is open read-only", ErrInvalidState)
	}
	return nil
}

// dataStart is the first position available for file bodies.
func (a *Archive) dataStart() uint64 {
	return uint64(a.header.HeaderSize)
}

// find resolves name to its live block.
func (a *Archive) find(name string) (fileRef, error) {
	canonical, err := canonicalName(name)
	if err != nil {
		return fileRef{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	slot, err := a.hashes.resolve(canonical, a.locale, 0)
	if err != nil {
		return fileRef{}, err
	}
	index := a.hashes.entries[slot].BlockIndex
	block, err := a.blocks.get(index)
	if err != nil {
		return fileRef{}, err
	}
	if !block.exists() {
		return fileRef{}, fmt.Errorf("%w: %s", ErrNotFound, canonical)
	}
	return fileRef{name: canonical, slot: slot, index: index, block: *block}, nil
}

func (a *Archive) layoutOf(ref fileRef) (*fileLayout, error) {
	var key uint32
	if ref.block.Flags&fileEncrypted != 0 {
		key = getFileKey(ref.name, ref.block.getFilePos64(), ref.block.FileSize, ref.block.Flags)
	}
	return loadLayout(a.file, a.archiveOffset+int64(ref.block.getFilePos64()), ref.block, key, a.sectorSize)
}

func (a *Archive) readRef(ref fileRef) ([]byte, error) {
	l, err := a.layoutOf(ref)
	if err != nil {
		return nil, err
	}
	return l.readAll(a.file, a.workers)
}

// ReadFile returns the contents of the named file.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	ref, err := a.find(name)
	if err != nil {
		return nil, err
	}
	data, err := a.readRef(ref)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.name, err)
	}
	return data, nil
}

// ExtractFile writes the named file to destPath, creating parent
// directories as needed.
func (a *Archive) ExtractFile(name, destPath string) error {
	data, err := a.ReadFile(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return ioError("create directory", err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return ioError("write "+destPath, err)
	}
	return nil
}

// OpenFile returns a reader over the named file that decodes sectors on
// demand.
func (a *Archive) OpenFile(name string) (*File, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	ref, err := a.find(name)
	if err != nil {
		return nil, err
	}
	l, err := a.layoutOf(ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref.name, err)
	}
	return &File{archive: a, name: ref.name, blockIndex: ref.index, layout: l}, nil
}

// HasFile reports whether the archive contains the named file.
func (a *Archive) HasFile(name string) bool {
	if a.checkOpen() != nil {
		return false
	}
	_, err := a.find(name)
	return err == nil
}

// FileInfo describes a stored file.
type FileInfo struct {
	Name           string
	Size           int64
	CompressedSize int64
	Flags          uint32
	Locale         uint16
	BlockIndex     uint32
	CRC32          uint32
	MD5            [16]byte
	ModTime        time.Time
}

func (fi FileInfo) Compressed() bool   { return fi.Flags&fileCompressMask != 0 }
func (fi FileInfo) Encrypted() bool    { return fi.Flags&fileEncrypted != 0 }
func (fi FileInfo) SingleUnit() bool   { return fi.Flags&fileSingleUnit != 0 }
func (fi FileInfo) HasSectorCRC() bool { return fi.Flags&fileSectorCRC != 0 }

// Stat returns information about the named file.
func (a *Archive) Stat(name string) (FileInfo, error) {
	if err := a.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	ref, err := a.find(name)
	if err != nil {
		return FileInfo{}, err
	}
	m := a.meta[ref.index]
	return FileInfo{
		Name:           ref.name,
		Size:           int64(ref.block.FileSize),
		CompressedSize: int64(ref.block.CompressedSize),
		Flags:          ref.block.Flags,
		Locale:         a.hashes.entries[ref.slot].Locale,
		BlockIndex:     ref.index,
		CRC32:          m.crc32,
		MD5:            m.md5,
		ModTime:        fromFiletime(m.filetime),
	}, nil
}

// ListFiles returns the names of the stored files in block order, without
// the internal pseudo-files. Names can only be recovered from a (listfile),
// so archives without one fail with ErrUnsupportedFeature.
func (a *Archive) ListFiles() ([]string, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if !a.listFile {
		return nil, unsupported("archive has no %s", listFileName)
	}
	return a.userNames(), nil
}

// Verify reads the named file, checking its sector checksums and, when the
// archive has (attributes), its CRC32 and MD5.
func (a *Archive) Verify(name string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	ref, err := a.find(name)
	if err != nil {
		return err
	}
	data, err := a.readRef(ref)
	if err != nil {
		return fmt.Errorf("verify %s: %w", ref.name, err)
	}

	m := a.meta[ref.index]
	if m.crc32 != 0 {
		if sum := crc32.ChecksumIEEE(data); sum != m.crc32 {
			return corrupt("%s: crc32 0x%08X, expected 0x%08X", ref.name, sum, m.crc32)
		}
	}
	if m.md5 != ([16]byte{}) {
		if sum := md5.Sum(data); sum != m.md5 {
			return corrupt("%s: md5 %x, expected %x", ref.name, sum, m.md5)
		}
	}
	return nil
}

// SetLocale sets the locale preferred by lookups and given to added files.
func (a *Archive) SetLocale(locale uint16) {
	a.locale = locale
}

// ArchiveInfo summarizes an archive.
type ArchiveInfo struct {
	Path           string
	FormatVersion  FormatVersion
	Offset         int64
	HeaderSize     uint32
	ArchiveSize    uint32
	SectorSize     uint32
	HashTableSize  uint32
	BlockTableSize uint32
	FileCount      int
	HasListFile    bool
	HasAttributes  bool
	ReadOnly       bool
}

// Info returns a summary of the archive's header and tables.
func (a *Archive) Info() (ArchiveInfo, error) {
	if err := a.checkOpen(); err != nil {
		return ArchiveInfo{}, err
	}
	count := 0
	for i := range a.blocks.entries {
		if a.blocks.entries[i].exists() && !isInternalName(a.meta[i].name) {
			count++
		}
	}
	return ArchiveInfo{
		Path:           a.path,
		FormatVersion:  FormatVersion(a.header.FormatVersion),
		Offset:         a.archiveOffset,
		HeaderSize:     a.header.HeaderSize,
		ArchiveSize:    a.header.ArchiveSize,
		SectorSize:     a.sectorSize,
		HashTableSize:  a.hashes.size(),
		BlockTableSize: uint32(a.blocks.len()),
		FileCount:      count,
		HasListFile:    a.listFile,
		HasAttributes:  a.attributes,
		ReadOnly:       a.readOnly,
	}, nil
}

// Close flushes pending changes and releases the archive. The handle is
// released even when the flush fails; the flush error is returned.
func (a *Archive) Close() error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	var flushErr error
	if !a.readOnly && a.dirty {
		flushErr = a.flush()
	}

	a.closed = true
	a.purgeCache()
	closeErr := a.file.Close()

	if flushErr != nil {
		if errors.Is(flushErr, ErrIOFailure) {
			return fmt.Errorf("flush on close: %w", flushErr)
		}
		return fmt.Errorf("%w: flush on close: %w", ErrIOFailure, flushErr)
	}
	if closeErr != nil {
		return ioError("close archive", closeErr)
	}
	return nil
}

func (a *Archive) purgeCache() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

// headerBytes serializes the current header.
func (a *Archive) headerBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeArchiveHeader(&buf, a.header); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
