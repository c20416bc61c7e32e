// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "fmt"

const (
	// hashTableMinSize and hashTableMaxSize bound the number of hash slots.
	hashTableMinSize = 4
	hashTableMaxSize = 0x80000
)

// nameHash holds the three hashes of a normalized name.
type nameHash struct {
	index uint32
	a     uint32
	b     uint32
}

func hashName(name string) nameHash {
	key := normalizeMpqPath(name)
	return nameHash{
		index: hashString(key, hashTypeTableOffset),
		a:     hashString(key, hashTypeNameA),
		b:     hashString(key, hashTypeNameB),
	}
}

// hashTable is the fixed-size open-addressing table mapping name hashes to
// block indexes. Its size is always a power of two.
type hashTable struct {
	entries []hashTableEntry
}

func emptyHashEntry() hashTableEntry {
	return hashTableEntry{
		HashA:      0xFFFFFFFF,
		HashB:      0xFFFFFFFF,
		Locale:     0xFFFF,
		Platform:   0xFFFF,
		BlockIndex: hashTableEmpty,
	}
}

func newHashTable(size uint32) *hashTable {
	t := &hashTable{entries: make([]hashTableEntry, size)}
	for i := range t.entries {
		t.entries[i] = emptyHashEntry()
	}
	return t
}

func (t *hashTable) size() uint32 {
	return uint32(len(t.entries))
}

// live reports whether the slot refers to a block.
func (e *hashTableEntry) live() bool {
	return e.BlockIndex != hashTableEmpty && e.BlockIndex != hashTableDeleted
}

// probe calls fn for each slot in probe order starting at the name's home
// slot, stopping at the first EMPTY slot or when fn returns false.
func (t *hashTable) probe(h nameHash, fn func(slot uint32, e *hashTableEntry) bool) {
	size := t.size()
	start := h.index & (size - 1)
	for i := uint32(0); i < size; i++ {
		slot := (start + i) & (size - 1)
		e := &t.entries[slot]
		if e.BlockIndex == hashTableEmpty {
			return
		}
		if !fn(slot, e) {
			return
		}
	}
}

// resolve finds the slot for name, preferring an exact locale/platform match
// and falling back to the neutral locale.
func (t *hashTable) resolve(name string, locale, platform uint16) (uint32, error) {
	h := hashName(name)
	found, neutral := -1, -1
	t.probe(h, func(slot uint32, e *hashTableEntry) bool {
		if !e.live() || e.HashA != h.a || e.HashB != h.b {
			return true
		}
		if e.Locale == locale && (e.Platform == platform || e.Platform == 0) {
			found = int(slot)
			return false
		}
		if e.Locale == localeNeutral && neutral < 0 {
			neutral = int(slot)
		}
		return true
	})
	if found >= 0 {
		return uint32(found), nil
	}
	if neutral >= 0 {
		return uint32(neutral), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// resolveExact finds the slot holding name under exactly this locale and platform.
func (t *hashTable) resolveExact(name string, locale, platform uint16) (uint32, error) {
	h := hashName(name)
	found := -1
	t.probe(h, func(slot uint32, e *hashTableEntry) bool {
		if e.live() && e.HashA == h.a && e.HashB == h.b && e.Locale == locale && e.Platform == platform {
			found = int(slot)
			return false
		}
		return true
	})
	if found < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return uint32(found), nil
}

// freeSlot returns the first EMPTY or DELETED slot on the name's probe path.
func (t *hashTable) freeSlot(name string) (uint32, error) {
	h := hashName(name)
	size := t.size()
	start := h.index & (size - 1)
	for i := uint32(0); i < size; i++ {
		slot := (start + i) & (size - 1)
		if !t.entries[slot].live() {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: hash table has %d slots", ErrTableFull, size)
}

// insert places name in the first free slot on its probe path.
func (t *hashTable) insert(name string, locale, platform uint16, blockIndex uint32) (uint32, error) {
	slot, err := t.freeSlot(name)
	if err != nil {
		return 0, err
	}
	t.set(slot, name, locale, platform, blockIndex)
	return slot, nil
}

// set writes an entry for name into slot.
func (t *hashTable) set(slot uint32, name string, locale, platform uint16, blockIndex uint32) {
	h := hashName(name)
	t.entries[slot] = hashTableEntry{
		HashA:      h.a,
		HashB:      h.b,
		Locale:     locale,
		Platform:   platform,
		BlockIndex: blockIndex,
	}
}

// remove turns slot into a tombstone so later probes continue past it.
func (t *hashTable) remove(slot uint32) {
	t.entries[slot] = emptyHashEntry()
	t.entries[slot].BlockIndex = hashTableDeleted
}

// liveCount returns the number of slots that refer to a block.
func (t *hashTable) liveCount() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].live() {
			n++
		}
	}
	return n
}

// rebuild returns a new table of the given size holding every live entry.
// nameOf must return the name stored at a block index; entries whose name is
// unknown cannot be rehashed and make the rebuild fail.
func (t *hashTable) rebuild(size uint32, nameOf func(blockIndex uint32) string) (*hashTable, error) {
	if size&(size-1) != 0 || size < hashTableMinSize {
		return nil, fmt.Errorf("invalid hash table size %d", size)
	}
	if size > hashTableMaxSize {
		return nil, fmt.Errorf("%w: hash table cannot grow beyond %d slots", ErrTableFull, hashTableMaxSize)
	}

	next := newHashTable(size)
	for i := range t.entries {
		e := &t.entries[i]
		if !e.live() {
			continue
		}
		name := nameOf(e.BlockIndex)
		if name == "" {
			return nil, fmt.Errorf("%w: block %d has no known name and cannot be rehashed", ErrTableFull, e.BlockIndex)
		}
		h := hashName(name)
		if h.a != e.HashA || h.b != e.HashB {
			return nil, fmt.Errorf("%w: name %q does not match its hash entry", ErrCorruptData, name)
		}
		if _, err := next.insert(name, e.Locale, e.Platform, e.BlockIndex); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
