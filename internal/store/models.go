package store

import (
	"time"

	"meshpatch/internal/correspond"
	"meshpatch/internal/identity"
)

// UIHints are the presentation fields an author attaches to a derived asset.
type UIHints struct {
	FriendlyName string `json:"friendly_name"`
	Category     string `json:"category,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

// Asset is the persisted metadata of a derived asset. The patch payload lives
// in the blob store under PatchHash.
type Asset struct {
	ID                 string `json:"id"`
	BaseManifestID     string `json:"base_manifest_id"`
	DerivedManifestID  string `json:"derived_manifest_id"`
	BaseContentHash    string `json:"base_content_hash"`
	DerivedContentHash string `json:"derived_content_hash"`
	PatchHash          string `json:"patch_hash"`
	PatchSize          int64  `json:"patch_size"`
	// TransformPrecision is the manifest precision both manifest IDs were
	// built with; candidate bases must be fingerprinted the same way.
	TransformPrecision int            `json:"transform_precision"`
	Correspondence     correspond.Map `json:"correspondence"`
	// Report names the nodes the correspondence left unmatched.
	Report             correspond.Report `json:"report"`
	UIHints            UIHints           `json:"ui_hints"`
	BaseIdentity       identity.Ref      `json:"base_identity,omitempty"`
	DerivedIdentity    identity.Ref      `json:"derived_identity"`
	Policy             identity.Policy   `json:"policy"`
	SourceBasePath     string            `json:"source_base_path,omitempty"`
	SourceModifiedPath string            `json:"source_modified_path,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Confidence returns the correspondence confidence recorded at build time.
func (a *Asset) Confidence() float32 { return a.Correspondence.Confidence }

// Status is the lifecycle state of an applied patch.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusRebuilding Status = "rebuilding"
)

// Output is one file produced by applying a patch.
type Output struct {
	Path          string       `json:"path"`
	Identity      identity.Ref `json:"identity,omitempty"`
	PriorIdentity identity.Ref `json:"prior_identity,omitempty"`
	HadPrior      bool         `json:"had_prior"`
	ContentHash   string       `json:"content_hash"`
	Size          int64        `json:"size"`
}

// Outcome returns the identity repair record for the output.
func (o Output) Outcome(policy identity.Policy, owner string) identity.Outcome {
	return identity.Outcome{
		Path:     o.Path,
		Identity: o.Identity,
		Prior:    o.PriorIdentity,
		HadPrior: o.HadPrior,
		Policy:   policy,
		Owner:    owner,
	}
}

// State is the persisted record of one application of a derived asset to one
// target.
type State struct {
	ID               string       `json:"id"`
	DerivedAssetID   string       `json:"derived_asset_id"`
	TargetPath       string       `json:"target_path"`
	TargetManifestID string       `json:"target_manifest_id"`
	TargetIdentity   identity.Ref `json:"target_identity,omitempty"`
	// BasePath is the candidate file the patch was decoded against. It equals
	// TargetPath unless the base was located elsewhere.
	BasePath            string          `json:"base_path"`
	OutputPath          string          `json:"output_path"`
	CorrespondenceMapID string          `json:"correspondence_map_id"`
	Confidence          float32         `json:"confidence"`
	ConfidenceOverride  *float32        `json:"confidence_override,omitempty"`
	Confirmed           bool            `json:"confirmed"`
	Enabled             bool            `json:"enabled"`
	Status              Status          `json:"status"`
	Policy              identity.Policy `json:"policy"`
	Outputs             []Output        `json:"outputs"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
