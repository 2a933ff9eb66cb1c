package manifest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"

	"meshpatch/internal/fbx"
)

// DefaultPrecision is the number of decimals kept when hashing transforms.
const DefaultPrecision = 4

const serializationTag = "meshpatch-manifest-v2"

// Kind classifies a node.
type Kind uint8

const (
	KindOther Kind = iota
	KindBone
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindBone:
		return "bone"
	case KindMesh:
		return "mesh"
	default:
		return "other"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "bone":
		*k = KindBone
	case "mesh":
		*k = KindMesh
	case "other":
		*k = KindOther
	default:
		return fmt.Errorf("unknown node kind %q", text)
	}
	return nil
}

// NodeDescriptor is one entry of a manifest.
type NodeDescriptor struct {
	Name string `json:"name"`
	// Parent is the index of the parent node, or -1 for roots.
	Parent        int    `json:"parent"`
	Kind          Kind   `json:"kind"`
	TransformHash uint64 `json:"transform_hash"`
}

// Manifest is the structural fingerprint of a model file.
type Manifest struct {
	ID string `json:"id"`
	// Precision is the number of decimals the transform hashes were built
	// with. Manifests of one file at different precisions have different IDs.
	Precision int              `json:"precision"`
	Nodes     []NodeDescriptor `json:"nodes"`
}

// Option customizes Build.
type Option func(*options)

type options struct {
	precision int
}

// WithPrecision sets the number of decimals kept when hashing transforms.
func WithPrecision(decimals int) Option {
	return func(o *options) {
		if decimals >= 0 {
			o.precision = decimals
		}
	}
}

// Build parses model bytes into a manifest.
func Build(data []byte, opts ...Option) (*Manifest, error) {
	o := options{precision: DefaultPrecision}
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := fbx.Parse(data)
	if err != nil {
		return nil, &ParseError{Kind: Malformed, Err: err}
	}
	models, err := doc.Models()
	if err != nil {
		return nil, &ParseError{Kind: Malformed, Err: err}
	}
	if len(models) == 0 {
		return nil, &ParseError{Kind: Empty}
	}
	return FromNodes(o.precision, orderDepthFirst(models, o.precision)), nil
}

// BuildFile reads path and builds its manifest. Errors carry the path.
func BuildFile(path string, opts ...Option) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := Build(data, opts...)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	return m, nil
}

// FromNodes wraps an already ordered node list whose transform hashes were
// computed at precision, and computes its ID.
func FromNodes(precision int, nodes []NodeDescriptor) *Manifest {
	return &Manifest{ID: ComputeID(precision, nodes), Precision: precision, Nodes: nodes}
}

// ComputeID hashes the canonical serialization of precision and nodes.
func ComputeID(precision int, nodes []NodeDescriptor) string {
	h := sha256.New()
	h.Write([]byte(serializationTag))
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(precision))
	h.Write(buf[:n])
	for _, node := range nodes {
		n := binary.PutUvarint(buf[:], uint64(len(node.Name)))
		h.Write(buf[:n])
		h.Write([]byte(node.Name))
		n = binary.PutVarint(buf[:], int64(node.Parent))
		h.Write(buf[:n])
		h.Write([]byte{byte(node.Kind)})
		binary.LittleEndian.PutUint64(buf[:8], node.TransformHash)
		h.Write(buf[:8])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func orderDepthFirst(models []fbx.Model, precision int) []NodeDescriptor {
	index := make(map[int64]int, len(models))
	for i, m := range models {
		index[m.ID] = i
	}
	children := make(map[int64][]int)
	var roots []int
	for i, m := range models {
		if _, ok := index[m.Parent]; m.Parent == 0 || !ok {
			roots = append(roots, i)
			continue
		}
		children[m.Parent] = append(children[m.Parent], i)
	}

	nodes := make([]NodeDescriptor, 0, len(models))
	var visit func(i, parent int)
	visit = func(i, parent int) {
		m := models[i]
		self := len(nodes)
		nodes = append(nodes, NodeDescriptor{
			Name:          m.Name,
			Parent:        parent,
			Kind:          kindOf(m),
			TransformHash: HashTransform(precision, m.Translation, m.Rotation, m.Scaling),
		})
		for _, c := range children[m.ID] {
			visit(c, self)
		}
	}
	for _, r := range roots {
		visit(r, -1)
	}
	return nodes
}

func kindOf(m fbx.Model) Kind {
	switch {
	case m.IsBone():
		return KindBone
	case m.IsMesh():
		return KindMesh
	default:
		return KindOther
	}
}

// HashTransform quantizes each component to the given number of decimals and
// returns the FNV-64a hash of the quantized values.
func HashTransform(precision int, vecs ...fbx.Vec3) uint64 {
	scale := math.Pow10(precision)
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range vecs {
		for _, c := range v {
			binary.LittleEndian.PutUint64(buf[:], uint64(quantize(c, scale)))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

func quantize(v, scale float64) int64 {
	switch {
	case math.IsNaN(v):
		return math.MinInt64
	case math.IsInf(v, 1):
		return math.MaxInt64
	case math.IsInf(v, -1):
		return math.MinInt64 + 1
	}
	const limit = 1 << 62
	q := math.Round(v * scale)
	switch {
	case q > limit:
		return limit
	case q < -limit:
		return -limit
	}
	// Round(-0.00001 * scale) is -0, which converts to 0.
	return int64(q)
}

// Depths returns the hierarchy depth of each node (roots are 0). Parents
// always precede children in a manifest, so one pass suffices.
func (m *Manifest) Depths() []int {
	depths := make([]int, len(m.Nodes))
	for i, n := range m.Nodes {
		if n.Parent >= 0 && n.Parent < i {
			depths[i] = depths[n.Parent] + 1
		}
	}
	return depths
}

// Describe renders one indented line per node, used for diff reports.
func (m *Manifest) Describe() []string {
	depths := m.Depths()
	lines := make([]string, len(m.Nodes))
	for i, n := range m.Nodes {
		lines[i] = fmt.Sprintf("%s%s (%s) %016x", strings.Repeat("  ", depths[i]), n.Name, n.Kind, n.TransformHash)
	}
	return lines
}
