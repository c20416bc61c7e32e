// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

// Sparse streams start with the big-endian uncompressed size, followed by
// chunks: 0x80|(n-1) precedes n literal bytes (n <= 0x80), and a byte
// below 0x80 stands for (b+3) zero bytes (up to 0x82).
const (
	sparseMaxLiteral = 0x80
	sparseMinZeros   = 3
	sparseMaxZeros   = 0x7F + sparseMinZeros
)

func compressSparse(data []byte) ([]byte, error) {
	out := make([]byte, 4, len(data)/2+8)
	binary.BigEndian.PutUint32(out, uint32(len(data)))

	i := 0
	for i < len(data) {
		if run := zeroRun(data[i:], len(data)); run >= sparseMinZeros {
			for run >= sparseMinZeros {
				n := min(run, sparseMaxZeros)
				out = append(out, byte(n-sparseMinZeros))
				run -= n
				i += n
			}
			continue
		}

		j := i + 1
		for j < len(data) && j-i < sparseMaxLiteral && zeroRun(data[j:], sparseMinZeros) < sparseMinZeros {
			j++
		}
		out = append(out, byte(0x80|(j-i-1)))
		out = append(out, data[i:j]...)
		i = j
	}

	return out, nil
}

// zeroRun counts leading zero bytes in b, stopping at limit.
func zeroRun(b []byte, limit int) int {
	n := 0
	for n < len(b) && n < limit && b[n] == 0 {
		n++
	}
	return n
}

func decompressSparse(data []byte, limit int) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("sparse header truncated")
	}
	size := int(binary.BigEndian.Uint32(data))
	if size > limit {
		return nil, fmt.Errorf("sparse size %d exceeds %d", size, limit)
	}

	out := make([]byte, 0, size)
	in := data[4:]
	for len(in) > 0 && len(out) < size {
		b := in[0]
		in = in[1:]

		if b&0x80 != 0 {
			n := int(b&0x7F) + 1
			if n > len(in) {
				return nil, fmt.Errorf("sparse literal run truncated")
			}
			if len(out)+n > size {
				return nil, fmt.Errorf("sparse literal run overflows output")
			}
			out = append(out, in[:n]...)
			in = in[n:]
			continue
		}

		n := min(int(b&0x7F)+sparseMinZeros, size-len(out))
		out = append(out, make([]byte, n)...)
	}

	// Trailing zeros may be left implicit.
	if len(out) < size {
		out = append(out, make([]byte, size-len(out))...)
	}
	return out, nil
}
