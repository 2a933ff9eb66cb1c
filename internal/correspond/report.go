package correspond

import (
	"fmt"
	"strings"

	"meshpatch/internal/manifest"
)

// Report is the user-facing summary of a map, carrying enough detail to
// decide whether to proceed with an advisory map.
type Report struct {
	Confidence        float32  `json:"confidence"`
	Threshold         float64  `json:"threshold"`
	Advisory          bool     `json:"advisory"`
	Exact             int      `json:"exact"`
	Fuzzy             int      `json:"fuzzy"`
	UnmatchedBase     []string `json:"unmatched_base"`
	UnmatchedModified []string `json:"unmatched_modified"`
}

// NewReport resolves unmatched indices to node names. Either manifest may be
// nil, in which case indices are shown instead of names.
func NewReport(m Map, base, modified *manifest.Manifest, threshold float64) Report {
	exact, fuzzy := m.Counts()
	return Report{
		Confidence:        m.Confidence,
		Threshold:         threshold,
		Advisory:          m.Advisory(threshold),
		Exact:             exact,
		Fuzzy:             fuzzy,
		UnmatchedBase:     names(base, m.UnmatchedBase),
		UnmatchedModified: names(modified, m.UnmatchedModified),
	}
}

func names(m *manifest.Manifest, indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		if m != nil && i >= 0 && i < len(m.Nodes) {
			out = append(out, m.Nodes[i].Name)
			continue
		}
		out = append(out, fmt.Sprintf("#%d", i))
	}
	return out
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "confidence %.2f (threshold %.2f): %d exact, %d fuzzy", r.Confidence, r.Threshold, r.Exact, r.Fuzzy)
	if len(r.UnmatchedBase) > 0 {
		fmt.Fprintf(&b, "; unmatched base nodes: %s", strings.Join(r.UnmatchedBase, ", "))
	}
	if len(r.UnmatchedModified) > 0 {
		fmt.Fprintf(&b, "; unmatched modified nodes: %s", strings.Join(r.UnmatchedModified, ", "))
	}
	return b.String()
}
