// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	attributesVersion = 100

	attributesFlagCRC32    = 0x00000001
	attributesFlagFileTime = 0x00000002
	attributesFlagMD5      = 0x00000004
	attributesFlagPatchBit = 0x00000008

	attributesFlagsWritten = attributesFlagCRC32 | attributesFlagFileTime | attributesFlagMD5
)

// Windows FILETIME counts 100ns intervals since 1601-01-01.
const filetimeUnixEpoch = 116444736000000000

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeUnixEpoch)
}

func fromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-filetimeUnixEpoch)*100).UTC()
}

// buildAttributes encodes count records from the archive's metadata. Records
// past the block table, for freed blocks and for (attributes) itself are
// zero.
func (a *Archive) buildAttributes(count int) []byte {
	data := make([]byte, 8+count*(4+8+16))
	binary.LittleEndian.PutUint32(data[0:], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:], attributesFlagsWritten)

	crcs := data[8:]
	times := crcs[count*4:]
	sums := times[count*8:]
	for i := 0; i < count && i < a.blocks.len(); i++ {
		m := a.meta[i]
		if !a.blocks.entries[i].exists() || m.name == attributesName {
			continue
		}
		binary.LittleEndian.PutUint32(crcs[i*4:], m.crc32)
		binary.LittleEndian.PutUint64(times[i*8:], m.filetime)
		copy(sums[i*16:], m.md5[:])
	}
	return data
}

// parseAttributes applies an (attributes) file to meta, one record per
// entry. Arrays the file does not carry are left as they are.
func parseAttributes(data []byte, meta []fileMeta) error {
	if len(data) < 8 {
		return corrupt("attributes file of %d bytes", len(data))
	}
	if v := binary.LittleEndian.Uint32(data[0:]); v != attributesVersion {
		return unsupported("attributes version %d", v)
	}
	flags := binary.LittleEndian.Uint32(data[4:])
	count := len(meta)
	rest := data[8:]

	take := func(n int) ([]byte, error) {
		if len(rest) < n {
			return nil, corrupt("attributes file truncated")
		}
		out := rest[:n]
		rest = rest[n:]
		return out, nil
	}

	if flags&attributesFlagCRC32 != 0 {
		b, err := take(count * 4)
		if err != nil {
			return err
		}
		for i := range meta {
			meta[i].crc32 = binary.LittleEndian.Uint32(b[i*4:])
		}
	}
	if flags&attributesFlagFileTime != 0 {
		b, err := take(count * 8)
		if err != nil {
			return err
		}
		for i := range meta {
			meta[i].filetime = binary.LittleEndian.Uint64(b[i*8:])
		}
	}
	if flags&attributesFlagMD5 != 0 {
		b, err := take(count * 16)
		if err != nil {
			return err
		}
		for i := range meta {
			copy(meta[i].md5[:], b[i*16:])
		}
	}
	// The patch bit array is not used.
	return nil
}

// loadAttributes reads (attributes) into the archive's metadata. It
// reports whether the archive has an attributes file.
func (a *Archive) loadAttributes() (bool, error) {
	ref, err := a.find(attributesName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	data, err := a.readRef(ref)
	if err != nil {
		return true, err
	}

	parsed := make([]fileMeta, len(a.meta))
	if err := parseAttributes(data, parsed); err != nil {
		return true, err
	}
	for i := range a.meta {
		a.meta[i].crc32 = parsed[i].crc32
		a.meta[i].md5 = parsed[i].md5
		a.meta[i].filetime = parsed[i].filetime
	}
	a.meta[ref.index].crc32 = 0
	a.meta[ref.index].md5 = [16]byte{}
	return true, nil
}
