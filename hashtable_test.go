// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTableInsertResolve(t *testing.T) {
	table := newHashTable(16)

	slot, err := table.insert("Data\\a.txt", localeNeutral, 0, 3)
	require.NoError(t, err)

	got, err := table.resolve("data/A.TXT", localeNeutral, 0)
	require.NoError(t, err)
	assert.Equal(t, slot, got)
	assert.Equal(t, uint32(3), table.entries[got].BlockIndex)

	_, err = table.resolve("Data\\b.txt", localeNeutral, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashTableCollisionsProbeLinearly(t *testing.T) {
	table := newHashTable(8)
	first, second := collidingNames(8)

	s1, err := table.insert(first, localeNeutral, 0, 0)
	require.NoError(t, err)
	s2, err := table.insert(second, localeNeutral, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, (s1+1)&7, s2)

	got, err := table.resolve(second, localeNeutral, 0)
	require.NoError(t, err)
	assert.Equal(t, s2, got)
}

func TestHashTableTombstones(t *testing.T) {
	table := newHashTable(8)
	first, second := collidingNames(8)

	s1, err := table.insert(first, localeNeutral, 0, 0)
	require.NoError(t, err)
	_, err = table.insert(second, localeNeutral, 0, 1)
	require.NoError(t, err)

	table.remove(s1)
	assert.Equal(t, uint32(hashTableDeleted), table.entries[s1].BlockIndex)

	// A lookup continues past the tombstone.
	got, err := table.resolve(second, localeNeutral, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), table.entries[got].BlockIndex)

	_, err = table.resolve(first, localeNeutral, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// The tombstone is reused by the next insert on that path.
	slot, err := table.freeSlot(first)
	require.NoError(t, err)
	assert.Equal(t, s1, slot)
	assert.Equal(t, 1, table.liveCount())
}

func TestHashTableLocaleFallback(t *testing.T) {
	const german, french = 0x407, 0x40C
	table := newHashTable(16)

	_, err := table.insert("text.txt", localeNeutral, 0, 0)
	require.NoError(t, err)
	_, err = table.insert("text.txt", german, 0, 1)
	require.NoError(t, err)

	slot, err := table.resolve("text.txt", german, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), table.entries[slot].BlockIndex)

	slot, err = table.resolve("text.txt", french, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), table.entries[slot].BlockIndex)

	_, err = table.resolveExact("text.txt", french, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = table.insert("only-german.txt", german, 0, 2)
	require.NoError(t, err)
	_, err = table.resolve("only-german.txt", french, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashTableFull(t *testing.T) {
	table := newHashTable(4)
	for i := 0; i < 4; i++ {
		_, err := table.insert(fmt.Sprintf("f%d", i), localeNeutral, 0, uint32(i))
		require.NoError(t, err)
	}

	_, err := table.insert("extra", localeNeutral, 0, 4)
	assert.ErrorIs(t, err, ErrTableFull)

	// A miss on a full table terminates.
	_, err = table.resolve("extra", localeNeutral, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashTableRebuild(t *testing.T) {
	table := newHashTable(4)
	names := map[uint32]string{0: "one", 1: "two", 2: "three"}
	for index, name := range names {
		_, err := table.insert(name, localeNeutral, 0, index)
		require.NoError(t, err)
	}
	s, err := table.resolve("two", localeNeutral, 0)
	require.NoError(t, err)
	table.remove(s)

	next, err := table.rebuild(16, func(index uint32) string { return names[index] })
	require.NoError(t, err)
	assert.Equal(t, uint32(16), next.size())
	assert.Equal(t, 2, next.liveCount())

	for _, name := range []string{"one", "three"} {
		slot, err := next.resolve(name, localeNeutral, 0)
		require.NoError(t, err)
		assert.Equal(t, name, names[next.entries[slot].BlockIndex])
	}
	for i := range next.entries {
		assert.NotEqual(t, uint32(hashTableDeleted), next.entries[i].BlockIndex)
	}
}

func TestHashTableRebuildNeedsNames(t *testing.T) {
	table := newHashTable(4)
	_, err := table.insert("known", localeNeutral, 0, 0)
	require.NoError(t, err)

	_, err = table.rebuild(8, func(uint32) string { return "" })
	assert.ErrorIs(t, err, ErrTableFull)

	_, err = table.rebuild(8, func(uint32) string { return "other" })
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = table.rebuild(hashTableMaxSize*2, func(uint32) string { return "known" })
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestNextPowerOf2(t *testing.T) {
	tests := map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 17: 32, 1024: 1024, 1025: 2048}
	for in, want := range tests {
		assert.Equal(t, want, nextPowerOf2(in), "nextPowerOf2(%d)", in)
	}
}
