package patchcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const (
	magic = "MPCH"
	// FormatVersion is the patch format written by Encode.
	FormatVersion = 1

	headerSize = len(magic) + 1 + 2*sha256.Size + 8 + 8 + 4 + 4
)

// Header describes a patch without applying it.
type Header struct {
	Version      int    `json:"version"`
	BaseHash     string `json:"base_hash"`
	ResultHash   string `json:"result_hash"`
	BaseLength   uint64 `json:"base_length"`
	ResultLength uint64 `json:"result_length"`
	Copies       uint32 `json:"copies"`
	Inserts      uint32 `json:"inserts"`
	// PayloadSize is the compressed instruction stream size.
	PayloadSize int `json:"payload_size"`
}

type rawHeader struct {
	version      byte
	baseHash     [sha256.Size]byte
	resultHash   [sha256.Size]byte
	baseLength   uint64
	resultLength uint64
	copies       uint32
	inserts      uint32
}

func (h rawHeader) append(dst []byte) []byte {
	dst = append(dst, magic...)
	dst = append(dst, h.version)
	dst = append(dst, h.baseHash[:]...)
	dst = append(dst, h.resultHash[:]...)
	dst = binary.LittleEndian.AppendUint64(dst, h.baseLength)
	dst = binary.LittleEndian.AppendUint64(dst, h.resultLength)
	dst = binary.LittleEndian.AppendUint32(dst, h.copies)
	dst = binary.LittleEndian.AppendUint32(dst, h.inserts)
	return dst
}

func parseHeader(patch []byte) (rawHeader, []byte, error) {
	var h rawHeader
	if len(patch) < headerSize {
		return h, nil, corrupt("patch is %d bytes, shorter than header", len(patch))
	}
	if !bytes.Equal(patch[:len(magic)], []byte(magic)) {
		return h, nil, corrupt("bad magic %q", patch[:len(magic)])
	}
	p := patch[len(magic):]
	h.version = p[0]
	if h.version != FormatVersion {
		return h, nil, corrupt("unsupported patch version %d", h.version)
	}
	p = p[1:]
	copy(h.baseHash[:], p)
	p = p[sha256.Size:]
	copy(h.resultHash[:], p)
	p = p[sha256.Size:]
	h.baseLength = binary.LittleEndian.Uint64(p)
	h.resultLength = binary.LittleEndian.Uint64(p[8:])
	h.copies = binary.LittleEndian.Uint32(p[16:])
	h.inserts = binary.LittleEndian.Uint32(p[20:])
	return h, patch[headerSize:], nil
}

// Inspect decodes the patch header.
func Inspect(patch []byte) (Header, error) {
	h, body, err := parseHeader(patch)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Version:      int(h.version),
		BaseHash:     hex.EncodeToString(h.baseHash[:]),
		ResultHash:   hex.EncodeToString(h.resultHash[:]),
		BaseLength:   h.baseLength,
		ResultLength: h.resultLength,
		Copies:       h.copies,
		Inserts:      h.inserts,
		PayloadSize:  len(body),
	}, nil
}
