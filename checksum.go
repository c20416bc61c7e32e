// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

// sectorChecksum computes the Adler-32 variant used for sector CRCs.
// Both sums start at zero, unlike standard Adler-32, so hash/adler32
// cannot produce it.
func sectorChecksum(data []byte) uint32 {
	const mod = 65521
	var a, b uint32
	for _, v := range data {
		a = (a + uint32(v)) % mod
		b = (b + a) % mod
	}
	return (b << 16) | a
}
