// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact(t *testing.T) {
	archive, path := createArchive(t, 16)

	want := map[string][]byte{
		"Data\\keep1.bin":  testPayload(9000, 1),
		"Data\\keep2.bin":  testPayload(5000, 2),
		"Data\\fixkey.bin": testPayload(7000, 3),
	}
	require.NoError(t, archive.AddBytes(testPayload(20000, 4), "Data\\drop.bin"))
	require.NoError(t, archive.AddBytes(want["Data\\keep1.bin"], "Data\\keep1.bin", WithSectorCRC()))
	require.NoError(t, archive.AddBytes(want["Data\\keep2.bin"], "Data\\keep2.bin", WithEncryption(false)))
	require.NoError(t, archive.AddBytes(want["Data\\fixkey.bin"], "Data\\fixkey.bin", WithEncryption(true), WithSectorCRC()))
	require.NoError(t, archive.RemoveFile("Data\\drop.bin"))
	require.NoError(t, archive.Flush())

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, archive.Compact())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	for i := range archive.blocks.entries {
		assert.True(t, archive.blocks.entries[i].exists(), "block %d", i)
	}
	for name, data := range want {
		got, err := archive.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, data, got, name)
	}

	// Still writable after compaction.
	require.NoError(t, archive.AddBytes([]byte("late"), "late.txt"))
	require.NoError(t, archive.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	names, err := reopened.ListFiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Data\\keep1.bin", "Data\\keep2.bin", "Data\\fixkey.bin", "late.txt"}, names)

	for name, data := range want {
		got, err := reopened.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, data, got, name)
		assert.NoError(t, reopened.Verify(name), name)
	}
	assert.False(t, reopened.HasFile("Data\\drop.bin"))
}

func TestCompactDropsTombstones(t *testing.T) {
	archive, path := createArchive(t, 30)
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("f%d.txt", i)
		require.NoError(t, archive.AddBytes([]byte(name), name))
	}
	for i := 0; i < 10; i += 2 {
		require.NoError(t, archive.RemoveFile(fmt.Sprintf("f%d.txt", i)))
	}
	require.NoError(t, archive.Compact())

	for i := range archive.hashes.entries {
		assert.NotEqual(t, uint32(hashTableDeleted), archive.hashes.entries[i].BlockIndex)
	}
	require.NoError(t, archive.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("f%d.txt", i)
		assert.Equal(t, i%2 == 1, reopened.HasFile(name), name)
	}
}

func TestCompactReadOnly(t *testing.T) {
	archive, path := createArchive(t, 4)
	require.NoError(t, archive.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.ErrorIs(t, reopened.Compact(), ErrInvalidState)
}
