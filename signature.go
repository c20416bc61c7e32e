// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SignatureKind identifies how an archive is signed.
type SignatureKind int

const (
	SignatureNone SignatureKind = iota
	SignatureWeak               // (signature) file, 512-bit RSA over MD5
	SignatureStrong             // "NGIS" block after the archive, 2048-bit RSA over SHA-1
)

func (k SignatureKind) String() string {
	switch k {
	case SignatureWeak:
		return "weak"
	case SignatureStrong:
		return "strong"
	default:
		return "none"
	}
}

const (
	weakSignatureSize   = 64
	strongSignatureSize = 256
	strongSignatureTag  = "NGIS"
)

// SignatureInfo describes a signature found in an archive. The signature
// bytes are reported as stored; they are not verified.
type SignatureInfo struct {
	Kind      SignatureKind
	Signature []byte
}

// ReadSignature reports the archive's signature. A strong signature is
// preferred over a weak one. It returns nil when the archive is unsigned.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	strong, err := a.readStrongSignature()
	if err != nil || strong != nil {
		return strong, err
	}
	return a.readWeakSignature()
}

func (a *Archive) readWeakSignature() (*SignatureInfo, error) {
	data, err := a.ReadFile(signatureName)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Two reserved words precede the signature.
	if len(data) < 8+weakSignatureSize {
		return nil, corrupt("weak signature of %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:]) != 0 || binary.LittleEndian.Uint32(data[4:]) != 0 {
		return nil, corrupt("weak signature header is not zero")
	}
	sig := make([]byte, weakSignatureSize)
	copy(sig, data[8:])
	return &SignatureInfo{Kind: SignatureWeak, Signature: sig}, nil
}

func (a *Archive) readStrongSignature() (*SignatureInfo, error) {
	info, err := a.file.Stat()
	if err != nil {
		return nil, ioError("stat archive", err)
	}

	pos := a.archiveOffset + int64(a.header.ArchiveSize)
	if info.Size() < pos+int64(len(strongSignatureTag))+strongSignatureSize {
		return nil, nil
	}

	buf := make([]byte, len(strongSignatureTag)+strongSignatureSize)
	if err := readFullAt(a.file, buf, pos, "strong signature"); err != nil {
		return nil, err
	}
	if string(buf[:len(strongSignatureTag)]) != strongSignatureTag {
		return nil, nil
	}
	return &SignatureInfo{Kind: SignatureStrong, Signature: buf[len(strongSignatureTag):]}, nil
}

// String implements fmt.Stringer.
func (s *SignatureInfo) String() string {
	if s == nil {
		return SignatureNone.String()
	}
	return fmt.Sprintf("%s (%d bytes)", s.Kind, len(s.Signature))
}
