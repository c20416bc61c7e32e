// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

// Compression is the method mask stored as the first byte of a compressed
// sector. Several methods may be combined with |; they are applied in a
// fixed order and undone in reverse.
type Compression uint8

// Compression type constants
const (
	CompressionNone        Compression = 0x00
	CompressionHuffman     Compression = 0x01 // Huffman (used on wave files only)
	CompressionZlib        Compression = 0x02 // Zlib compression
	CompressionPKWare      Compression = 0x08 // PKWare DCL compression
	CompressionBzip2       Compression = 0x10 // BZip2 compression
	CompressionSparse      Compression = 0x20 // Sparse/RLE compression (SC2+)
	CompressionADPCMMono   Compression = 0x40 // ADPCM mono audio
	CompressionADPCMStereo Compression = 0x80 // ADPCM stereo audio

	// CompressionLZMA is a standalone method; its value is not a mask.
	CompressionLZMA Compression = 0x12
)

const primaryMask = CompressionZlib | CompressionPKWare | CompressionBzip2

// codec is one step of a compression chain.
// decompress must not produce more than limit bytes.
type codec struct {
	method     Compression
	name       string
	compress   func(src []byte) ([]byte, error)
	decompress func(src []byte, limit int) ([]byte, error)
}

// codecChain lists the mask codecs in the order they are applied.
var codecChain = []codec{
	{CompressionSparse, "sparse", compressSparse, decompressSparse},
	{CompressionADPCMMono, "adpcm-mono", adpcmCompressor(1), adpcmDecompressor(1)},
	{CompressionADPCMStereo, "adpcm-stereo", adpcmCompressor(2), adpcmDecompressor(2)},
	{CompressionHuffman, "huffman", nil, nil},
	{CompressionZlib, "zlib", compressZlib, decompressZlib},
	{CompressionPKWare, "pkware", nil, nil},
	{CompressionBzip2, "bzip2", compressBzip2, decompressBzip2},
}

var lzmaCodec = codec{CompressionLZMA, "lzma", compressLZMA, decompressLZMA}

// String returns the methods in the mask joined by "+".
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZMA:
		return lzmaCodec.name
	}
	var parts []string
	rest := c
	for _, cd := range codecChain {
		if c&cd.method != 0 {
			parts = append(parts, cd.name)
			rest &^= cd.method
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", uint8(rest)))
	}
	return strings.Join(parts, "+")
}

// ParseCompression parses names such as "zlib", "lzma" or "sparse+zlib".
func ParseCompression(s string) (Compression, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return CompressionNone, nil
	case lzmaCodec.name:
		return CompressionLZMA, nil
	}
	var c Compression
	for _, part := range strings.Split(s, "+") {
		found := false
		for _, cd := range codecChain {
			if cd.name == part {
				c |= cd.method
				found = true
				break
			}
		}
		if !found {
			return 0, unsupported("compression %q", part)
		}
	}
	return c, c.validate()
}

// validate reports whether the mask can be compressed and decompressed.
func (c Compression) validate() error {
	if c == CompressionNone || c == CompressionLZMA {
		return nil
	}
	if p := c & primaryMask; p&(p-1) != 0 {
		return unsupported("compression mask 0x%02X combines several primary compressors", uint8(c))
	}
	if c&CompressionADPCMMono != 0 && c&CompressionADPCMStereo != 0 {
		return unsupported("compression mask 0x%02X combines mono and stereo ADPCM", uint8(c))
	}
	rest := c
	for _, cd := range codecChain {
		if c&cd.method == 0 {
			continue
		}
		if cd.compress == nil {
			return unsupported("%s compression", cd.name)
		}
		rest &^= cd.method
	}
	if rest != 0 {
		return unsupported("compression mask 0x%02X", uint8(c))
	}
	return nil
}

// compressSector compresses data with method and prefixes the mask byte.
// It returns nil when no step makes the data smaller; steps that do not
// shrink their input are dropped from the stored mask.
func compressSector(method Compression, data []byte) ([]byte, error) {
	if method == CompressionNone || len(data) == 0 {
		return nil, nil
	}
	if err := method.validate(); err != nil {
		return nil, err
	}

	if method == CompressionLZMA {
		out, err := compressLZMA(data)
		if err != nil {
			return nil, fmt.Errorf("lzma compress: %w", err)
		}
		if len(out)+1 >= len(data) {
			return nil, nil
		}
		return append([]byte{byte(CompressionLZMA)}, out...), nil
	}

	applied := CompressionNone
	cur := data
	for _, cd := range codecChain {
		if method&cd.method == 0 {
			continue
		}
		out, err := cd.compress(cur)
		if err != nil {
			return nil, fmt.Errorf("%s compress: %w", cd.name, err)
		}
		if out == nil || len(out) >= len(cur) {
			continue
		}
		cur = out
		applied |= cd.method
	}

	if applied == CompressionNone || len(cur)+1 >= len(data) {
		return nil, nil
	}
	return append([]byte{byte(applied)}, cur...), nil
}

// decompressSector reverses compressSector. The result must be exactly
// expected bytes long.
func decompressSector(data []byte, expected int) ([]byte, error) {
	if len(data) == 0 {
		return nil, corrupt("empty compressed sector")
	}

	method := Compression(data[0])
	cur := data[1:]

	if method == CompressionLZMA {
		out, err := decompressLZMA(cur, expected)
		if err != nil {
			return nil, fmt.Errorf("%w: lzma: %w", ErrCorruptData, err)
		}
		cur = out
	} else {
		if err := method.decodable(); err != nil {
			return nil, err
		}
		for i := len(codecChain) - 1; i >= 0; i-- {
			cd := codecChain[i]
			if method&cd.method == 0 {
				continue
			}
			out, err := cd.decompress(cur, expected)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrCorruptData, cd.name, err)
			}
			cur = out
		}
	}

	if len(cur) != expected {
		return nil, corrupt("sector decompressed to %d bytes, expected %d", len(cur), expected)
	}
	return cur, nil
}

// decodable is validate without the primary-compressor restriction, which
// only guards what this package writes.
func (c Compression) decodable() error {
	rest := c
	for _, cd := range codecChain {
		if c&cd.method == 0 {
			continue
		}
		if cd.decompress == nil {
			return unsupported("%s decompression", cd.name)
		}
		rest &^= cd.method
	}
	if rest != 0 || c == CompressionNone {
		return corrupt("unknown compression mask 0x%02X", uint8(c))
	}
	return nil
}

// readLimited reads r to EOF, failing if it yields more than limit bytes.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("output exceeds %d bytes", limit)
	}
	return out, nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressZlib(data []byte, limit int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	return readLimited(r, limit)
}

func compressBzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, fmt.Errorf("create bzip2 writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("bzip2 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 close: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressBzip2(data []byte, limit int) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("create bzip2 reader: %w", err)
	}
	defer r.Close()

	return readLimited(r, limit)
}

// LZMA payloads carry a zero filter byte followed by the classic 13-byte
// LZMA header (properties, dictionary size, uncompressed size).
func compressLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(0)

	dictCap := len(data)
	if dictCap < lzma.MinDictCap {
		dictCap = lzma.MinDictCap
	}
	cfg := lzma.WriterConfig{
		DictCap:      dictCap,
		SizeInHeader: true,
		Size:         int64(len(data)),
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create lzma writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lzma write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma close: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressLZMA(data []byte, limit int) ([]byte, error) {
	if len(data) == 0 || data[0] != 0 {
		return nil, fmt.Errorf("unexpected lzma filter byte")
	}
	r, err := lzma.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return nil, fmt.Errorf("create lzma reader: %w", err)
	}

	return readLimited(r, limit)
}
