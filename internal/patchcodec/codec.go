package patchcodec

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// BlockSize is the match granularity of the encoder.
	BlockSize = 32
	// maxCandidates bounds how many base offsets are kept per block hash.
	maxCandidates = 8
	// maxResultLength bounds the result size Decode accepts.
	maxResultLength = 1 << 32
	// initialResultCap bounds the up-front allocation; larger results grow.
	initialResultCap = 64 << 20

	opCopy   = 0
	opInsert = 1

	hashPrime = 16777619
)

// Encode computes a patch that turns base into modified. The output is a
// pure function of its inputs.
func Encode(base, modified []byte) []byte {
	var ops bytes.Buffer
	w := &opWriter{buf: &ops}
	diff(base, modified, w)

	var body bytes.Buffer
	zw, _ := zlib.NewWriterLevel(&body, zlib.BestCompression)
	_, _ = zw.Write(ops.Bytes())
	_ = zw.Close()

	h := rawHeader{
		version:      FormatVersion,
		baseHash:     sha256.Sum256(base),
		resultHash:   sha256.Sum256(modified),
		baseLength:   uint64(len(base)),
		resultLength: uint64(len(modified)),
		copies:       w.copies,
		inserts:      w.inserts,
	}
	out := make([]byte, 0, headerSize+body.Len())
	out = h.append(out)
	return append(out, body.Bytes()...)
}

// Decode applies patch to base. It fails with a BaseMismatch *PatchError when
// base is not the buffer the patch was encoded against, and with a Corrupt
// *PatchError when the patch is damaged.
func Decode(base, patch []byte) ([]byte, error) {
	h, body, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if actual := sha256.Sum256(base); actual != h.baseHash || uint64(len(base)) != h.baseLength {
		return nil, &PatchError{
			Kind:         BaseMismatch,
			ExpectedBase: hex.EncodeToString(h.baseHash[:]),
			ActualBase:   hex.EncodeToString(actual[:]),
		}
	}
	if h.resultLength > maxResultLength {
		return nil, corrupt("result length %d exceeds limit", h.resultLength)
	}

	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, corrupt("open instruction stream: %v", err)
	}
	defer zr.Close()

	out := make([]byte, 0, min(h.resultLength, initialResultCap))
	r := &opReader{r: bufio.NewReader(zr)}
	var copies, inserts uint32
	for {
		op, err := r.r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, corrupt("read instruction: %v", err)
		}
		switch op {
		case opCopy:
			off, n, err := r.pair()
			if err != nil {
				return nil, err
			}
			if off > uint64(len(base)) || n > uint64(len(base))-off {
				return nil, corrupt("copy [%d,+%d) outside base of %d bytes", off, n, len(base))
			}
			if uint64(len(out))+n > h.resultLength {
				return nil, corrupt("copy overruns result length %d", h.resultLength)
			}
			out = append(out, base[off:off+n]...)
			copies++
		case opInsert:
			n, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if uint64(len(out))+n > h.resultLength {
				return nil, corrupt("insert overruns result length %d", h.resultLength)
			}
			start := len(out)
			out = append(out, make([]byte, n)...)
			if _, err := io.ReadFull(r.r, out[start:]); err != nil {
				return nil, corrupt("read insert data: %v", err)
			}
			inserts++
		default:
			return nil, corrupt("unknown instruction %d", op)
		}
	}

	if copies != h.copies || inserts != h.inserts {
		return nil, corrupt("instruction count mismatch")
	}
	if uint64(len(out)) != h.resultLength || sha256.Sum256(out) != h.resultHash {
		return nil, corrupt("result does not match recorded hash")
	}
	return out, nil
}

type opWriter struct {
	buf     *bytes.Buffer
	copies  uint32
	inserts uint32
	scratch [binary.MaxVarintLen64]byte
}

func (w *opWriter) uvarint(v uint64) {
	n := binary.PutUvarint(w.scratch[:], v)
	w.buf.Write(w.scratch[:n])
}

func (w *opWriter) copyOp(off, n int) {
	if n == 0 {
		return
	}
	w.buf.WriteByte(opCopy)
	w.uvarint(uint64(off))
	w.uvarint(uint64(n))
	w.copies++
}

func (w *opWriter) insert(data []byte) {
	if len(data) == 0 {
		return
	}
	w.buf.WriteByte(opInsert)
	w.uvarint(uint64(len(data)))
	w.buf.Write(data)
	w.inserts++
}

type opReader struct {
	r *bufio.Reader
}

func (r *opReader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, corrupt("read varint: %v", err)
	}
	return v, nil
}

func (r *opReader) pair() (uint64, uint64, error) {
	a, err := r.uvarint()
	if err != nil {
		return 0, 0, err
	}
	b, err := r.uvarint()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// diff emits instructions that rebuild modified from base.
func diff(base, modified []byte, w *opWriter) {
	if len(base) < BlockSize || len(modified) < BlockSize {
		w.insert(modified)
		return
	}
	index := indexBlocks(base)

	pow := uint32(1)
	for i := 0; i < BlockSize; i++ {
		pow *= hashPrime
	}

	litStart := 0
	i := 0
	h := blockHash(modified[:BlockSize])
	for i+BlockSize <= len(modified) {
		off, n := bestMatch(base, modified, i, index[h])
		if n >= BlockSize {
			// Grow the match backwards into pending literals.
			for off > 0 && i > litStart && base[off-1] == modified[i-1] {
				off--
				i--
				n++
			}
			w.insert(modified[litStart:i])
			w.copyOp(off, n)
			i += n
			litStart = i
			if i+BlockSize <= len(modified) {
				h = blockHash(modified[i : i+BlockSize])
			}
			continue
		}
		if i+BlockSize < len(modified) {
			h = h*hashPrime + uint32(modified[i+BlockSize]) - pow*uint32(modified[i])
		}
		i++
	}
	w.insert(modified[litStart:])
}

func blockHash(b []byte) uint32 {
	var h uint32
	for _, c := range b {
		h = h*hashPrime + uint32(c)
	}
	return h
}

func indexBlocks(base []byte) map[uint32][]int {
	index := make(map[uint32][]int, len(base)/BlockSize+1)
	for off := 0; off+BlockSize <= len(base); off += BlockSize {
		h := blockHash(base[off : off+BlockSize])
		if len(index[h]) < maxCandidates {
			index[h] = append(index[h], off)
		}
	}
	return index
}

// bestMatch returns the longest forward match at modified[i:] among the
// candidate base offsets. Ties keep the lowest offset.
func bestMatch(base, modified []byte, i int, candidates []int) (int, int) {
	bestOff, bestLen := 0, 0
	for _, off := range candidates {
		n := 0
		for off+n < len(base) && i+n < len(modified) && base[off+n] == modified[i+n] {
			n++
		}
		if n > bestLen {
			bestOff, bestLen = off, n
		}
	}
	return bestOff, bestLen
}

// String renders a header for display.
func (h Header) String() string {
	return fmt.Sprintf("v%d base=%s (%d bytes) result=%s (%d bytes) copies=%d inserts=%d payload=%d",
		h.Version, short(h.BaseHash), h.BaseLength, short(h.ResultHash), h.ResultLength, h.Copies, h.Inserts, h.PayloadSize)
}
