package fbx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Magic is the fixed prefix of every binary FBX file.
const Magic = "Kaydara FBX Binary  \x00\x1a\x00"

// Version7500 is the first container version that uses 64-bit record offsets.
const Version7500 = 7500

const headerSize = len(Magic) + 4

// maxArrayBytes bounds the decoded size of a single array property.
const maxArrayBytes = 1 << 30

// ErrMalformed reports bytes that are not a well-formed binary FBX container.
var ErrMalformed = errors.New("malformed fbx container")

// Property is one typed value attached to a node record.
//
// Value holds int16 (Y), bool (C), int32 (I), float32 (F), float64 (D),
// int64 (L), string (S), []byte (R), or a slice for the array types
// f, d, l, i and b.
type Property struct {
	Type  byte
	Value any
}

// Node is a single FBX node record.
type Node struct {
	Name       string
	Properties []Property
	Children   []*Node
}

// Document is a parsed FBX container.
type Document struct {
	Version uint32
	Nodes   []*Node
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// String returns property i as a string, or "" when absent or not a string.
func (n *Node) String(i int) string {
	if n == nil || i >= len(n.Properties) {
		return ""
	}
	s, _ := n.Properties[i].Value.(string)
	return s
}

// Int64 returns property i as an int64 when it is any integer type.
func (n *Node) Int64(i int) (int64, bool) {
	if n == nil || i >= len(n.Properties) {
		return 0, false
	}
	switch v := n.Properties[i].Value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	}
	return 0, false
}

// Float64 returns property i as a float64 when it is any numeric type.
func (n *Node) Float64(i int) (float64, bool) {
	if n == nil || i >= len(n.Properties) {
		return 0, false
	}
	switch v := n.Properties[i].Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Find returns the first top-level node with the given name.
func (d *Document) Find(name string) *Node {
	if d == nil {
		return nil
	}
	for _, node := range d.Nodes {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// Parse decodes a binary FBX container. Errors wrap ErrMalformed.
func Parse(data []byte) (*Document, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return nil, fmt.Errorf("%w: missing binary header", ErrMalformed)
	}
	r := &reader{data: data, pos: len(Magic)}
	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	r.wide = version >= Version7500

	doc := &Document{Version: version}
	for r.pos < len(r.data) {
		node, end, err := r.node()
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	return doc, nil
}

type reader struct {
	data []byte
	pos  int
	wide bool
}

func (r *reader) fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), r.pos)
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, r.fail("unexpected end of data reading %d bytes", n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) offset() (uint64, error) {
	if r.wide {
		return r.u64()
	}
	v, err := r.u32()
	return uint64(v), err
}

// node reads one record. end is true for the null record that terminates a
// node list.
func (r *reader) node() (*Node, bool, error) {
	start := r.pos
	endOffset, err := r.offset()
	if err != nil {
		return nil, false, err
	}
	numProps, err := r.offset()
	if err != nil {
		return nil, false, err
	}
	propLen, err := r.offset()
	if err != nil {
		return nil, false, err
	}
	nameLen, err := r.u8()
	if err != nil {
		return nil, false, err
	}
	if endOffset == 0 {
		if numProps != 0 || propLen != 0 || nameLen != 0 {
			return nil, false, r.fail("invalid null record")
		}
		return nil, true, nil
	}
	if endOffset > uint64(len(r.data)) || endOffset <= uint64(start) {
		return nil, false, r.fail("record end offset %d out of range", endOffset)
	}
	name, err := r.take(int(nameLen))
	if err != nil {
		return nil, false, err
	}
	node := &Node{Name: string(name)}

	propStart := r.pos
	if uint64(propStart) > endOffset || numProps > propLen || propLen > endOffset-uint64(propStart) {
		return nil, false, r.fail("node %q claims %d properties in %d bytes", node.Name, numProps, propLen)
	}
	if numProps > 0 {
		node.Properties = make([]Property, 0, numProps)
	}
	for i := uint64(0); i < numProps; i++ {
		prop, err := r.property()
		if err != nil {
			return nil, false, err
		}
		node.Properties = append(node.Properties, prop)
	}
	if uint64(r.pos-propStart) != propLen {
		return nil, false, r.fail("node %q property list length mismatch", node.Name)
	}

	for uint64(r.pos) < endOffset {
		child, end, err := r.node()
		if err != nil {
			return nil, false, err
		}
		if end {
			break
		}
		node.Children = append(node.Children, child)
	}
	if uint64(r.pos) != endOffset {
		return nil, false, r.fail("node %q overruns its end offset", node.Name)
	}
	return node, false, nil
}

func (r *reader) property() (Property, error) {
	code, err := r.u8()
	if err != nil {
		return Property{}, err
	}
	prop := Property{Type: code}
	switch code {
	case 'Y':
		b, err := r.take(2)
		if err != nil {
			return prop, err
		}
		prop.Value = int16(binary.LittleEndian.Uint16(b))
	case 'C':
		b, err := r.u8()
		if err != nil {
			return prop, err
		}
		prop.Value = b&1 == 1
	case 'I':
		v, err := r.u32()
		if err != nil {
			return prop, err
		}
		prop.Value = int32(v)
	case 'F':
		v, err := r.u32()
		if err != nil {
			return prop, err
		}
		prop.Value = math.Float32frombits(v)
	case 'D':
		v, err := r.u64()
		if err != nil {
			return prop, err
		}
		prop.Value = math.Float64frombits(v)
	case 'L':
		v, err := r.u64()
		if err != nil {
			return prop, err
		}
		prop.Value = int64(v)
	case 'S', 'R':
		n, err := r.u32()
		if err != nil {
			return prop, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return prop, err
		}
		if code == 'S' {
			prop.Value = string(b)
		} else {
			prop.Value = append([]byte(nil), b...)
		}
	case 'f', 'd', 'l', 'i', 'b':
		v, err := r.array(code)
		if err != nil {
			return prop, err
		}
		prop.Value = v
	default:
		return prop, r.fail("unknown property type %q", code)
	}
	return prop, nil
}

func elementSize(code byte) int {
	switch code {
	case 'd', 'l':
		return 8
	case 'f', 'i':
		return 4
	default:
		return 1
	}
}

func (r *reader) array(code byte) (any, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	encoding, err := r.u32()
	if err != nil {
		return nil, err
	}
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	payload, err := r.take(int(size))
	if err != nil {
		return nil, err
	}
	want := int(count) * elementSize(code)
	if want > maxArrayBytes {
		return nil, r.fail("array of %d elements exceeds size limit", count)
	}
	switch encoding {
	case 0:
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, r.fail("array inflate: %v", err)
		}
		raw := make([]byte, want)
		_, err = io.ReadFull(zr, raw)
		_ = zr.Close()
		if err != nil {
			return nil, r.fail("array inflate: %v", err)
		}
		payload = raw
	default:
		return nil, r.fail("unknown array encoding %d", encoding)
	}
	if len(payload) != want {
		return nil, r.fail("array of %d elements has %d bytes", count, len(payload))
	}
	return decodeArray(code, int(count), payload), nil
}

func decodeArray(code byte, count int, raw []byte) any {
	le := binary.LittleEndian
	switch code {
	case 'f':
		out := make([]float32, count)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(raw[i*4:]))
		}
		return out
	case 'd':
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(raw[i*8:]))
		}
		return out
	case 'l':
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(le.Uint64(raw[i*8:]))
		}
		return out
	case 'i':
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(le.Uint32(raw[i*4:]))
		}
		return out
	default:
		out := make([]bool, count)
		for i := range out {
			out[i] = raw[i]&1 == 1
		}
		return out
	}
}
