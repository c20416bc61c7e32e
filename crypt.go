// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// Hash types for the hash function
const (
	hashTypeTableOffset = 0
	hashTypeNameA       = 1
	hashTypeNameB       = 2
	hashTypeFileKey     = 3
)

// cryptTable is the encryption/hash lookup table
var cryptTable [0x500]uint32

// Keys for the hash and block tables.
var (
	hashTableKey  uint32
	blockTableKey uint32
)

func init() {
	// Initialize the encryption table using the standard MPQ algorithm
	seed := uint32(0x00100001)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			cryptTable[index2] = temp1 | temp2
			index2 += 0x100
		}
	}

	hashTableKey = hashString("(hash table)", hashTypeFileKey)
	blockTableKey = hashString("(block table)", hashTypeFileKey)
}

// hashString computes the MPQ hash of a string.
// Only ASCII letters are case-folded; other bytes hash as-is.
func hashString(s string, hashType uint32) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(s); i++ {
		ch := uint32(s[i])
		if ch >= 'a' && ch <= 'z' {
			ch -= 0x20
		}
		if ch == '/' {
			ch = '\\'
		}

		seed1 = cryptTable[hashType*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// encryptBlock encrypts a block of data in place
func encryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := data[i]
		encrypted := plain ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
		data[i] = encrypted
	}
}

// decryptBlock decrypts a block of data in place
func decryptBlock(data []uint32, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		encrypted := data[i]
		plain := encrypted ^ (key + seed)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
		data[i] = plain
	}
}

// encryptBytes encrypts data in place. Only whole 32-bit words are
// encrypted; up to three trailing bytes are left as they are.
func encryptBytes(data []byte, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:])
		binary.LittleEndian.PutUint32(data[i:], plain^(key+seed))
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
	}
}

// decryptBytes is the inverse of encryptBytes.
func decryptBytes(data []byte, key uint32) {
	seed := uint32(0xEEEEEEEE)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(data[i:]) ^ (key + seed)
		binary.LittleEndian.PutUint32(data[i:], plain)
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
	}
}

// getFileKey computes the encryption key for a file
// based on its filename and block offset
func getFileKey(filename string, blockOffset uint64, fileSize uint32, flags uint32) uint32 {
	key := hashString(baseName(filename), hashTypeFileKey)

	// MPQ_FILE_FIX_KEY: the key is shifted by the block offset and then
	// XORed with the file size. Existing archives depend on this exact form.
	if flags&fileFixKey != 0 {
		key = (key + uint32(blockOffset)) ^ fileSize
	}

	return key
}
