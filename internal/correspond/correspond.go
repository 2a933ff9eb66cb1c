package correspond

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"meshpatch/internal/manifest"
	"meshpatch/internal/match"
)

// DefaultFuzzyThreshold is the minimum name similarity for a fuzzy link.
const DefaultFuzzyThreshold = 0.6

// MatchKind records how a link was made.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
)

// Link pairs a base node index with a modified node index.
type Link struct {
	Base       int       `json:"base"`
	Modified   int       `json:"modified"`
	Match      MatchKind `json:"match"`
	Similarity float32   `json:"similarity"`
}

// Map is the alignment between two manifests. Links are sorted by Base and
// each index appears at most once per side.
type Map struct {
	Links             []Link  `json:"links"`
	UnmatchedBase     []int   `json:"unmatched_base"`
	UnmatchedModified []int   `json:"unmatched_modified"`
	Confidence        float32 `json:"confidence"`
}

// Option customizes Align.
type Option func(*options)

type options struct {
	fuzzyThreshold float64
}

// WithFuzzyThreshold sets the minimum similarity for fuzzy links.
func WithFuzzyThreshold(threshold float64) Option {
	return func(o *options) {
		if threshold > 0 && threshold <= 1 {
			o.fuzzyThreshold = threshold
		}
	}
}

// Align computes the correspondence between base and modified. It never
// mutates its inputs and always returns a map; nil manifests count as empty.
func Align(base, modified *manifest.Manifest, opts ...Option) Map {
	o := options{fuzzyThreshold: DefaultFuzzyThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	a := newAligner(nodesOf(base), nodesOf(modified))
	a.exactPass()
	a.fuzzyPass(o.fuzzyThreshold)
	return a.result()
}

func nodesOf(m *manifest.Manifest) []manifest.NodeDescriptor {
	if m == nil {
		return nil
	}
	return m.Nodes
}

type aligner struct {
	base, mod           []manifest.NodeDescriptor
	baseDepth, modDepth []int
	fwd, rev            []int
	links               []Link
}

func newAligner(base, mod []manifest.NodeDescriptor) *aligner {
	a := &aligner{
		base:      base,
		mod:       mod,
		baseDepth: (&manifest.Manifest{Nodes: base}).Depths(),
		modDepth:  (&manifest.Manifest{Nodes: mod}).Depths(),
		fwd:       make([]int, len(base)),
		rev:       make([]int, len(mod)),
	}
	for i := range a.fwd {
		a.fwd[i] = -1
	}
	for j := range a.rev {
		a.rev[j] = -1
	}
	return a
}

// parentState reports whether pairing base i with modified j is allowed and,
// if so, whether it is parent-consistent (both roots, or parents linked to
// each other).
func (a *aligner) parentState(i, j int) (allowed, consistent bool) {
	p, q := a.base[i].Parent, a.mod[j].Parent
	if p < 0 && q < 0 {
		return true, true
	}
	if p >= 0 && a.fwd[p] >= 0 {
		return a.fwd[p] == q, a.fwd[p] == q
	}
	if q >= 0 && a.rev[q] >= 0 {
		// q is linked to some base node other than p.
		return false, false
	}
	return true, false
}

func (a *aligner) link(i, j int, kind MatchKind, similarity float64) {
	a.fwd[i] = j
	a.rev[j] = i
	a.links = append(a.links, Link{Base: i, Modified: j, Match: kind, Similarity: float32(similarity)})
}

// candidate is a possible partner for one base node.
type candidate struct {
	index      int
	similarity float64
	consistent bool
}

// better orders candidates: higher similarity, then parent-consistent, then
// lexicographically earlier name, then lower index.
func (a *aligner) better(x, y candidate) bool {
	if x.similarity != y.similarity {
		return x.similarity > y.similarity
	}
	if x.consistent != y.consistent {
		return x.consistent
	}
	if nx, ny := a.mod[x.index].Name, a.mod[y.index].Name; nx != ny {
		return nx < ny
	}
	return x.index < y.index
}

func (a *aligner) exactPass() {
	for i, bn := range a.base {
		best := candidate{index: -1}
		for j, mn := range a.mod {
			if a.rev[j] >= 0 || mn.Name != bn.Name || a.modDepth[j] != a.baseDepth[i] {
				continue
			}
			_, consistent := a.parentState(i, j)
			c := candidate{index: j, similarity: 1, consistent: consistent}
			if best.index < 0 || a.better(c, best) {
				best = c
			}
		}
		if best.index >= 0 {
			a.link(i, best.index, MatchExact, 1)
		}
	}
}

func (a *aligner) fuzzyPass(threshold float64) {
	normMod := make([]string, len(a.mod))
	for j, mn := range a.mod {
		normMod[j] = match.NormalizeName(mn.Name)
	}
	for i, bn := range a.base {
		if a.fwd[i] >= 0 {
			continue
		}
		normBase := match.NormalizeName(bn.Name)
		best := candidate{index: -1}
		for j, mn := range a.mod {
			if a.rev[j] >= 0 || mn.Kind != bn.Kind {
				continue
			}
			allowed, consistent := a.parentState(i, j)
			if !allowed {
				continue
			}
			sim := match.LevenshteinNormalized(normBase, normMod[j])
			if sim < threshold {
				continue
			}
			c := candidate{index: j, similarity: sim, consistent: consistent}
			if best.index < 0 || a.better(c, best) {
				best = c
			}
		}
		if best.index >= 0 {
			a.link(i, best.index, MatchFuzzy, best.similarity)
		}
	}
}

func (a *aligner) result() Map {
	m := Map{
		Links:             make([]Link, 0, len(a.links)),
		UnmatchedBase:     make([]int, 0),
		UnmatchedModified: make([]int, 0),
	}
	var exact, fuzzy int
	for i, j := range a.fwd {
		if j < 0 {
			m.UnmatchedBase = append(m.UnmatchedBase, i)
		}
	}
	for j, i := range a.rev {
		if i < 0 {
			m.UnmatchedModified = append(m.UnmatchedModified, j)
		}
	}
	// Links were appended in two passes; emit them in base order.
	byBase := make(map[int]Link, len(a.links))
	for _, l := range a.links {
		byBase[l.Base] = l
		if l.Match == MatchExact {
			exact++
		} else {
			fuzzy++
		}
	}
	for i := range a.base {
		if l, ok := byBase[i]; ok {
			m.Links = append(m.Links, l)
		}
	}
	m.Confidence = Confidence(exact, fuzzy, len(a.base), len(a.mod))
	return m
}

// Confidence computes (exact + 0.5*fuzzy) / max(baseCount, modifiedCount),
// or 0 when both manifests are empty.
func Confidence(exact, fuzzy, baseCount, modifiedCount int) float32 {
	denom := max(baseCount, modifiedCount)
	if denom == 0 {
		return 0
	}
	return float32((float64(exact) + 0.5*float64(fuzzy)) / float64(denom))
}

// Advisory reports whether the map's confidence is below threshold.
func (m Map) Advisory(threshold float64) bool {
	return float64(m.Confidence) < threshold
}

// Counts returns the number of exact and fuzzy links.
func (m Map) Counts() (exact, fuzzy int) {
	for _, l := range m.Links {
		if l.Match == MatchExact {
			exact++
		} else {
			fuzzy++
		}
	}
	return exact, fuzzy
}

// Lookup returns the modified index linked to base index i.
func (m Map) Lookup(i int) (int, bool) {
	for _, l := range m.Links {
		if l.Base == i {
			return l.Modified, true
		}
	}
	return 0, false
}

// ID is a stable hash of the links, used to reference the map from applied
// state records.
func (m Map) ID() string {
	h := sha256.New()
	h.Write([]byte("meshpatch-correspondence-v1"))
	var buf [binary.MaxVarintLen64]byte
	for _, l := range m.Links {
		n := binary.PutUvarint(buf[:], uint64(l.Base))
		h.Write(buf[:n])
		n = binary.PutUvarint(buf[:], uint64(l.Modified))
		h.Write(buf[:n])
		h.Write([]byte(l.Match))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
