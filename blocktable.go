// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "fmt"

// blockTableMaxSize caps the number of block table entries, live or freed.
const blockTableMaxSize = hashTableMaxSize

// blockTable holds file placements. Freed entries keep their position and
// packed size so the region can be handed to a later file of equal or
// smaller packed size.
type blockTable struct {
	entries []blockTableEntryEx
}

func newBlockTable(entries []blockTableEntryEx) *blockTable {
	return &blockTable{entries: entries}
}

func (t *blockTable) len() int {
	return len(t.entries)
}

// get returns the entry at index.
func (t *blockTable) get(index uint32) (*blockTableEntryEx, error) {
	if index >= uint32(len(t.entries)) {
		return nil, corrupt("block index %d out of range (%d entries)", index, len(t.entries))
	}
	return &t.entries[index], nil
}

// placement is where allocate decided a new body goes.
type placement struct {
	index  uint32
	pos    uint64
	append bool
}

// allocate picks a slot for a body of size bytes without modifying the
// table: the smallest free slot whose region can hold it, or a new slot at
// the end of the data area. limit caps the table length.
func (t *blockTable) allocate(size uint32, dataStart uint64, limit int) (placement, error) {
	best := -1
	for i := range t.entries {
		e := &t.entries[i]
		if e.exists() || e.CompressedSize < size {
			continue
		}
		if size > 0 && e.getFilePos64() < dataStart {
			continue
		}
		if best < 0 || e.CompressedSize < t.entries[best].CompressedSize {
			best = i
		}
	}
	if best >= 0 {
		return placement{index: uint32(best), pos: t.entries[best].getFilePos64()}, nil
	}
	if len(t.entries) >= limit {
		return placement{}, fmt.Errorf("%w: block table has %d entries", ErrTableFull, len(t.entries))
	}
	return placement{index: uint32(len(t.entries)), pos: t.dataEnd(dataStart), append: true}, nil
}

// commit stores entry at the placement chosen by allocate. A reused slot
// takes the new packed size, so any slack in the old region is left for
// compaction.
func (t *blockTable) commit(p placement, entry blockTableEntryEx) {
	if p.append {
		t.entries = append(t.entries, entry)
		return
	}
	t.entries[p.index] = entry
}

// free marks index unused without shrinking the table.
func (t *blockTable) free(index uint32) {
	if index >= uint32(len(t.entries)) {
		return
	}
	e := &t.entries[index]
	e.Flags = 0
	e.FileSize = 0
}

// dataEnd returns the first position past every region, live or freed.
func (t *blockTable) dataEnd(dataStart uint64) uint64 {
	end := dataStart
	for i := range t.entries {
		if e := t.entries[i].end(); e > end {
			end = e
		}
	}
	return end
}

// needsHiBlockTable reports whether any position needs more than 32 bits.
func (t *blockTable) needsHiBlockTable() bool {
	for i := range t.entries {
		if t.entries[i].FilePosHi != 0 {
			return true
		}
	}
	return false
}

// checkBounds verifies that every live entry lies inside the archive.
func (t *blockTable) checkBounds(archiveSize uint64) error {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.exists() {
			continue
		}
		if e.end() > archiveSize {
			return corrupt("block %d at 0x%X+%d exceeds archive size %d", i, e.getFilePos64(), e.CompressedSize, archiveSize)
		}
	}
	return nil
}
