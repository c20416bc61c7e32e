// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq reads and writes MPQ (Mo'PaQ) archives.

MPQ is the archive format used by Blizzard games from Diablo to World of
Warcraft. This package handles format versions 1 and 2: encrypted hash and
block tables, sectored files with per-sector compression and encryption,
sector checksums, and the (listfile) and (attributes) pseudo-files.

# Basic Usage

Creating an archive:

	archive, err := mpq.Create("patch.mpq", 100)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	err = archive.AddFile("local/file.txt", "Data\\file.txt",
		mpq.WithCompression(mpq.CompressionZlib),
		mpq.WithEncryption(true))
	if err != nil {
		log.Fatal(err)
	}

Reading an archive:

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	data, err := archive.ReadFile("Data\\file.txt")

Archives are opened read-only by default; pass WithReadOnly(false) to add
or remove files. Changes are written to disk by Flush and Close.

# Names

Names are normalized to Unicode NFC. Lookups treat forward and backward
slashes alike and ignore the case of ASCII letters; other characters must
match exactly. The name is stored in the (listfile) as given.

# Compression

Each sector is compressed on its own with the method mask given by
WithCompression. Masks combine a pre-filter with one general-purpose
compressor, for example CompressionSparse|CompressionZlib. Reading
supports zlib, bzip2, LZMA, sparse and ADPCM. Huffman and PKWare DCL data
fail with ErrUnsupportedFeature.

# Errors

Failures wrap one of ErrNotFound, ErrAlreadyExists, ErrCorruptData,
ErrTableFull, ErrInvalidState, ErrUnsupportedFeature and ErrIOFailure, to be
tested with errors.Is.

# Limitations

  - No support for MPQ format V3/V4 (Cataclysm+)
  - No support for patch archives
  - Signatures are reported, not verified
*/
package mpq
