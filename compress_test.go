// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressibleSector() []byte {
	return bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog. "), 100)[:4096]
}

func TestCompressSectorRoundTrip(t *testing.T) {
	data := compressibleSector()

	methods := []Compression{
		CompressionZlib,
		CompressionBzip2,
		CompressionLZMA,
		CompressionSparse | CompressionZlib,
		CompressionSparse | CompressionBzip2,
	}

	for _, method := range methods {
		t.Run(method.String(), func(t *testing.T) {
			packed, err := compressSector(method, data)
			require.NoError(t, err)
			require.NotNil(t, packed)
			assert.Less(t, len(packed), len(data))

			out, err := decompressSector(packed, len(data))
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestCompressSectorIncompressible(t *testing.T) {
	data := make([]byte, 256)
	rand.New(rand.NewSource(1)).Read(data)

	for _, method := range []Compression{CompressionZlib, CompressionBzip2, CompressionLZMA} {
		packed, err := compressSector(method, data)
		require.NoError(t, err)
		assert.Nil(t, packed, method.String())
	}

	packed, err := compressSector(CompressionNone, data)
	require.NoError(t, err)
	assert.Nil(t, packed)
}

func TestCompressSectorDropsUselessSteps(t *testing.T) {
	// No zero runs, so sparse cannot help and only zlib is recorded.
	packed, err := compressSector(CompressionSparse|CompressionZlib, compressibleSector())
	require.NoError(t, err)
	require.NotNil(t, packed)
	assert.Equal(t, byte(CompressionZlib), packed[0])
}

func TestSparseCodec(t *testing.T) {
	data := make([]byte, 1000)
	copy(data[10:], "payload")
	data[500] = 1
	data[501] = 2

	packed, err := compressSparse(data)
	require.NoError(t, err)
	assert.Less(t, len(packed), 40)

	out, err := decompressSparse(packed, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = decompressSparse(packed, len(data)-1)
	assert.Error(t, err)

	// Trailing zeros need not be encoded.
	out, err = decompressSparse([]byte{0, 0, 0, 8, 0x81, 7, 9}, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 9, 0, 0, 0, 0, 0, 0}, out)
}

func pcmSine(samples, channels int) []byte {
	out := make([]byte, samples*channels*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(float64(i)/16))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], uint16(v))
		}
	}
	return out
}

func TestADPCMKeepsLength(t *testing.T) {
	tests := []struct {
		method   Compression
		channels int
	}{
		{CompressionADPCMMono, 1},
		{CompressionADPCMStereo, 2},
		{CompressionADPCMMono | CompressionZlib, 1},
	}

	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			pcm := pcmSine(2048/tt.channels, tt.channels)
			packed, err := compressSector(tt.method, pcm)
			require.NoError(t, err)
			require.NotNil(t, packed)
			assert.Less(t, len(packed), len(pcm))

			out, err := decompressSector(packed, len(pcm))
			require.NoError(t, err)
			assert.Len(t, out, len(pcm))
		})
	}
}

func TestDecompressSectorSizeMismatch(t *testing.T) {
	data := compressibleSector()
	packed, err := compressSector(CompressionZlib, data)
	require.NoError(t, err)

	_, err = decompressSector(packed, len(data)-1)
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = decompressSector(packed, len(data)+1)
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = decompressSector(packed[:len(packed)/2], len(data))
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = decompressSector(nil, len(data))
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestDecompressSectorUnsupported(t *testing.T) {
	for _, method := range []Compression{CompressionHuffman, CompressionPKWare, CompressionHuffman | CompressionADPCMMono} {
		_, err := decompressSector([]byte{byte(method), 1, 2, 3}, 16)
		assert.ErrorIs(t, err, ErrUnsupportedFeature, method.String())
	}
}

func TestParseCompression(t *testing.T) {
	valid := map[string]Compression{
		"":             CompressionNone,
		"none":         CompressionNone,
		"zlib":         CompressionZlib,
		" BZIP2 ":      CompressionBzip2,
		"lzma":         CompressionLZMA,
		"sparse+zlib":  CompressionSparse | CompressionZlib,
		"adpcm-stereo": CompressionADPCMStereo,
	}
	for in, want := range valid {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"gzip", "huffman", "pkware", "zlib+bzip2", "adpcm-mono+adpcm-stereo"} {
		_, err := ParseCompression(in)
		assert.ErrorIs(t, err, ErrUnsupportedFeature, in)
	}
}

func TestCompressionString(t *testing.T) {
	assert.Equal(t, "none", CompressionNone.String())
	assert.Equal(t, "lzma", CompressionLZMA.String())
	assert.Equal(t, "sparse+zlib", (CompressionSparse | CompressionZlib).String())
	assert.Equal(t, "adpcm-mono+huffman", (CompressionHuffman | CompressionADPCMMono).String())
}

func TestSectorChecksum(t *testing.T) {
	assert.Equal(t, uint32(0), sectorChecksum(nil))
	assert.Equal(t, uint32(0x024A0126), sectorChecksum([]byte("abc")))
}
