package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Ref is an opaque identity token.
type Ref string

// NewRef returns a random ref formatted as a 32-character lowercase hex GUID.
func NewRef() Ref {
	return Ref(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// IsZero reports whether the ref is empty.
func (r Ref) IsZero() bool { return strings.TrimSpace(string(r)) == "" }

func (r Ref) String() string { return string(r) }

// Policy selects how a reconstructed output's identity is chosen.
type Policy string

const (
	// PolicyPreserve keeps the target base file's identity on the output.
	PolicyPreserve Policy = "preserve"
	// PolicyRebind assigns the derived asset's identity to the output.
	PolicyRebind Policy = "rebind"
)

// PolicyFor maps the author-facing overrideOriginalReferences switch to a
// policy: overriding the original references means the output takes the
// original's identity.
func PolicyFor(overrideOriginalReferences bool) Policy {
	if overrideOriginalReferences {
		return PolicyPreserve
	}
	return PolicyRebind
}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyPreserve, PolicyRebind:
		return p, nil
	}
	return "", fmt.Errorf("unknown identity policy %q (want %q or %q)", s, PolicyPreserve, PolicyRebind)
}
