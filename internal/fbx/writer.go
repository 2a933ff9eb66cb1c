package fbx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeOption customizes Encode.
type EncodeOption func(*encoder)

// WithCompressedArrays stores array properties zlib-compressed (encoding 1)
// instead of raw.
func WithCompressedArrays() EncodeOption {
	return func(e *encoder) { e.compress = true }
}

// Encode serializes doc as a binary FBX container. Offsets are 64-bit when
// doc.Version is 7500 or later.
func Encode(doc *Document, opts ...EncodeOption) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("encode: nil document")
	}
	e := &encoder{wide: doc.Version >= Version7500}
	for _, opt := range opts {
		opt(e)
	}
	e.buf.WriteString(Magic)
	e.u32(doc.Version)
	for _, node := range doc.Nodes {
		if err := e.node(node); err != nil {
			return nil, err
		}
	}
	e.nullRecord()
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf      bytes.Buffer
	wide     bool
	compress bool
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) offsetWidth() int {
	if e.wide {
		return 8
	}
	return 4
}

func (e *encoder) putOffset(at int, v uint64) {
	b := e.buf.Bytes()
	if e.wide {
		binary.LittleEndian.PutUint64(b[at:], v)
		return
	}
	binary.LittleEndian.PutUint32(b[at:], uint32(v))
}

func (e *encoder) nullRecord() {
	e.buf.Write(make([]byte, 3*e.offsetWidth()+1))
}

func (e *encoder) node(n *Node) error {
	if len(n.Name) > math.MaxUint8 {
		return fmt.Errorf("encode: node name %q too long", n.Name)
	}
	width := e.offsetWidth()
	start := e.buf.Len()
	e.buf.Write(make([]byte, 3*width))
	e.buf.WriteByte(byte(len(n.Name)))
	e.buf.WriteString(n.Name)

	propStart := e.buf.Len()
	for _, prop := range n.Properties {
		if err := e.property(prop); err != nil {
			return fmt.Errorf("encode %s: %w", n.Name, err)
		}
	}
	propLen := e.buf.Len() - propStart

	for _, child := range n.Children {
		if err := e.node(child); err != nil {
			return err
		}
	}
	if len(n.Children) > 0 {
		e.nullRecord()
	}

	e.putOffset(start, uint64(e.buf.Len()))
	e.putOffset(start+width, uint64(len(n.Properties)))
	e.putOffset(start+2*width, uint64(propLen))
	return nil
}

func (e *encoder) property(p Property) error {
	code := typeCode(p.Value)
	if code == 0 {
		return fmt.Errorf("unsupported property value %T", p.Value)
	}
	if p.Type != 0 && p.Type != code {
		return fmt.Errorf("property type %q does not match value %T", p.Type, p.Value)
	}
	e.buf.WriteByte(code)
	le := binary.LittleEndian
	switch v := p.Value.(type) {
	case int16:
		var b [2]byte
		le.PutUint16(b[:], uint16(v))
		e.buf.Write(b[:])
	case bool:
		if v {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
	case int32:
		e.u32(uint32(v))
	case float32:
		e.u32(math.Float32bits(v))
	case float64:
		e.u64(math.Float64bits(v))
	case int64:
		e.u64(uint64(v))
	case string:
		e.u32(uint32(len(v)))
		e.buf.WriteString(v)
	case []byte:
		e.u32(uint32(len(v)))
		e.buf.Write(v)
	case []float32:
		raw := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(raw[i*4:], math.Float32bits(x))
		}
		return e.array(len(v), raw)
	case []float64:
		raw := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(raw[i*8:], math.Float64bits(x))
		}
		return e.array(len(v), raw)
	case []int64:
		raw := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(raw[i*8:], uint64(x))
		}
		return e.array(len(v), raw)
	case []int32:
		raw := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(raw[i*4:], uint32(x))
		}
		return e.array(len(v), raw)
	case []bool:
		raw := make([]byte, len(v))
		for i, x := range v {
			if x {
				raw[i] = 1
			}
		}
		return e.array(len(v), raw)
	}
	return nil
}

func (e *encoder) array(count int, raw []byte) error {
	e.u32(uint32(count))
	if !e.compress {
		e.u32(0)
		e.u32(uint32(len(raw)))
		e.buf.Write(raw)
		return nil
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(raw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	e.u32(1)
	e.u32(uint32(z.Len()))
	e.buf.Write(z.Bytes())
	return nil
}

// Props builds a property list, inferring each type code from the Go value.
func Props(values ...any) []Property {
	props := make([]Property, 0, len(values))
	for _, v := range values {
		props = append(props, Property{Type: typeCode(v), Value: v})
	}
	return props
}

func typeCode(v any) byte {
	switch v.(type) {
	case int16:
		return 'Y'
	case bool:
		return 'C'
	case int32:
		return 'I'
	case float32:
		return 'F'
	case float64:
		return 'D'
	case int64:
		return 'L'
	case string:
		return 'S'
	case []byte:
		return 'R'
	case []float32:
		return 'f'
	case []float64:
		return 'd'
	case []int64:
		return 'l'
	case []int32:
		return 'i'
	case []bool:
		return 'b'
	}
	return 0
}
