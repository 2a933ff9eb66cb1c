package apply

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"meshpatch/internal/config"
	"meshpatch/internal/correspond"
	"meshpatch/internal/derived"
	"meshpatch/internal/fileutil"
	"meshpatch/internal/identity"
	"meshpatch/internal/locate"
	"meshpatch/internal/logging"
	"meshpatch/internal/manifest"
	"meshpatch/internal/patchcodec"
	"meshpatch/internal/store"
	"meshpatch/internal/textutil"
)

// Locator supplies base candidates when the target does not match. Candidate
// manifests are built at precision.
type Locator interface {
	FindCandidates(ctx context.Context, manifestID string, precision int) ([]locate.Candidate, error)
	PromptForFile(ctx context.Context) (locate.Candidate, bool, error)
}

// Request describes one application of a derived asset to a target.
type Request struct {
	DerivedAssetID string
	TargetPath     string
	// OutputPath defaults to the target itself under the preserve policy and
	// to "<target stem>.<asset slug><ext>" next to the target otherwise. An
	// output equal to the target patches it in place; the original bytes are
	// kept and restored by Remove.
	OutputPath string
	// ConfidenceOverride replaces the correspondence confidence recorded at
	// build time.
	ConfidenceOverride *float32
	// CorrespondenceMapID, when set, must name the asset's own map.
	CorrespondenceMapID string
	// Policy defaults to the existing state's policy, then the asset's.
	Policy identity.Policy
	// Confirmed allows applying an advisory correspondence.
	Confirmed bool
	// StateID re-applies an existing state. When empty, a state already
	// producing OutputPath for the same asset is reused.
	StateID string
}

// Result is a completed application.
type Result struct {
	State    *store.State
	BasePath string
	Report   correspond.Report
	// Replaced is true when an existing state was re-applied.
	Replaced bool
}

// Applicator applies derived assets and manages applied states.
type Applicator struct {
	cfg      *config.Config
	store    *store.Store
	assets   *derived.Builder
	locator  Locator
	host     identity.Host
	repairer *identity.Repairer
	decode   func(base, patch []byte) ([]byte, error)
	logger   *slog.Logger
}

// NewApplicator constructs an Applicator using the sidecar identity host.
// locator may be nil, in which case only the target itself is considered.
func NewApplicator(cfg *config.Config, st *store.Store, assets *derived.Builder, locator Locator, logger *slog.Logger) *Applicator {
	return NewApplicatorWithDependencies(cfg, st, assets, locator, identity.SidecarHost{}, logger)
}

// NewApplicatorWithDependencies allows injecting collaborators (used in tests).
func NewApplicatorWithDependencies(cfg *config.Config, st *store.Store, assets *derived.Builder, locator Locator, host identity.Host, logger *slog.Logger) *Applicator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Applicator{
		cfg:      cfg,
		store:    st,
		assets:   assets,
		locator:  locator,
		host:     host,
		repairer: identity.NewRepairer(host, st, logger),
		decode:   patchcodec.Decode,
		logger:   logging.NewComponentLogger(logger, "apply"),
	}
}

// DefaultOutputPath names the output for an asset applied to target.
func DefaultOutputPath(target, friendlyName string) string {
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(filepath.Base(target), ext)
	return filepath.Join(filepath.Dir(target), stem+"."+textutil.Slug(friendlyName)+ext)
}

// Apply reconstructs the derived file for req and records the applied state.
func (a *Applicator) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	asset, err := a.assets.Get(ctx, req.DerivedAssetID)
	if err != nil {
		return nil, err
	}
	if req.CorrespondenceMapID != "" && req.CorrespondenceMapID != asset.Correspondence.ID() {
		return nil, &ApplyError{Kind: MapMismatch, DerivedAssetID: asset.ID, MapID: req.CorrespondenceMapID}
	}
	targetPath, err := filepath.Abs(req.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}
	// The policy decides the default output, so it is settled first.
	policy := req.Policy
	outputPath := strings.TrimSpace(req.OutputPath)
	if req.StateID != "" {
		st, err := a.existingState(ctx, req.StateID, asset.ID, "")
		if err != nil {
			return nil, err
		}
		if policy == "" {
			policy = st.Policy
		}
		if outputPath == "" {
			outputPath = st.OutputPath
		}
	}
	if policy == "" {
		policy = asset.Policy
	}
	if policy, err = identity.ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	switch {
	case outputPath != "":
	case policy == identity.PolicyPreserve:
		outputPath = targetPath
	default:
		outputPath = DefaultOutputPath(targetPath, asset.UIHints.FriendlyName)
	}
	if outputPath, err = filepath.Abs(outputPath); err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	unlock, err := a.lockOutput(ctx, outputPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prev, err := a.existingState(ctx, req.StateID, asset.ID, outputPath)
	if err != nil {
		return nil, err
	}
	if req.Policy == "" && prev != nil {
		policy = prev.Policy
	}
	inPlace := outputPath == targetPath
	if inPlace && policy != identity.PolicyPreserve {
		return nil, fmt.Errorf("output %s would overwrite the target; patching in place requires the %s policy",
			outputPath, identity.PolicyPreserve)
	}

	confidence := asset.Confidence()
	if req.ConfidenceOverride != nil {
		confidence = *req.ConfidenceOverride
	}
	threshold := a.cfg.Matching.ConfidenceThreshold
	report := asset.Report
	report.Confidence = confidence
	report.Threshold = threshold
	report.Advisory = float64(confidence) < threshold
	if report.Advisory && !req.Confirmed {
		return nil, &ApplyError{
			Kind:           LowConfidence,
			DerivedAssetID: asset.ID,
			BaseManifestID: asset.BaseManifestID,
			TargetPath:     targetPath,
			Report:         &report,
		}
	}

	stateID := req.StateID
	if stateID == "" && prev != nil {
		stateID = prev.ID
	}
	if stateID == "" {
		stateID = uuid.NewString()
	}
	ctx = logging.WithDerivedID(logging.WithStateID(ctx, stateID), asset.ID)
	logger := logging.WithContext(ctx, a.logger)

	targetIdentity, _, err := a.host.ResolveIdentity(ctx, targetPath)
	if err != nil {
		return nil, fmt.Errorf("resolve target identity: %w", err)
	}
	if policy == identity.PolicyPreserve && !inPlace && !targetIdentity.IsZero() {
		// The target would keep its identity and the output would take a
		// copy of it.
		return nil, fmt.Errorf("target %s holds identity %s; the %s policy hands it to the output only when the target is patched in place",
			targetPath, targetIdentity, identity.PolicyPreserve)
	}
	prevOut := previousOutput(prev, outputPath)
	if targetIdentity.IsZero() && prevOut != nil && policy == identity.PolicyPreserve {
		// Keep the identity generated on the first apply stable across rebuilds.
		targetIdentity = prevOut.Identity
	}

	// Once patched in place, the target holds the output; the base is read
	// from the kept original instead.
	original := OriginalPath(a.cfg.Paths.DataDir, stateID, targetPath)
	targetSource := targetPath
	if inPlace && fileutil.Exists(original) {
		targetSource = original
	}
	payload, err := asset.Payload(ctx)
	if err != nil {
		return nil, err
	}
	base, err := a.resolveBase(ctx, asset, targetPath, targetSource, payload)
	if err != nil {
		return nil, err
	}

	keptOriginal := false
	if inPlace && !fileutil.Exists(original) {
		if err := keepOriginal(targetPath, original); err != nil {
			return nil, err
		}
		keptOriginal = true
	}
	backup, err := moveAside(outputPath)
	if err != nil {
		return nil, discardOriginal(original, keptOriginal, err)
	}
	rollbackFile := func(cause error) error {
		if err := restoreOutput(outputPath, backup); err != nil {
			cause = errors.Join(cause, err)
		}
		return discardOriginal(original, keptOriginal, cause)
	}
	if err := fileutil.WriteFileAtomic(outputPath, base.output, 0o644); err != nil {
		return nil, rollbackFile(fmt.Errorf("write output: %w", err))
	}

	outcome, err := a.repairer.Repair(ctx, identity.RepairRequest{
		OutputPath:      outputPath,
		Policy:          policy,
		TargetIdentity:  targetIdentity,
		DerivedIdentity: asset.DerivedIdentity,
		Owner:           asset.ID,
	})
	if err != nil {
		return nil, rollbackFile(err)
	}

	output := store.Output{
		Path:          outputPath,
		Identity:      outcome.Identity,
		PriorIdentity: outcome.Prior,
		HadPrior:      outcome.HadPrior,
		ContentHash:   fileutil.HashBytes(base.output),
		Size:          int64(len(base.output)),
	}
	if prevOut != nil {
		// Revert must restore what the path had before the first apply.
		output.PriorIdentity = prevOut.PriorIdentity
		output.HadPrior = prevOut.HadPrior
	}
	state := &store.State{
		ID:                  stateID,
		DerivedAssetID:      asset.ID,
		TargetPath:          targetPath,
		TargetManifestID:    base.targetManifestID,
		TargetIdentity:      targetIdentity,
		BasePath:            base.path,
		OutputPath:          outputPath,
		CorrespondenceMapID: asset.Correspondence.ID(),
		Confidence:          confidence,
		ConfidenceOverride:  req.ConfidenceOverride,
		Confirmed:           req.Confirmed,
		Enabled:             true,
		Status:              store.StatusApplied,
		Policy:              policy,
		Outputs:             []store.Output{output},
	}
	if prev != nil {
		state.CreatedAt = prev.CreatedAt
	}
	if err := a.store.SaveState(ctx, state); err != nil {
		if revertErr := a.repairer.Revert(ctx, outcome); revertErr != nil {
			err = errors.Join(err, revertErr)
		}
		if prevOut != nil && !prevOut.Identity.IsZero() {
			if bindErr := a.store.Bind(ctx, identity.Binding{Ref: prevOut.Identity, Path: outputPath, Owner: asset.ID}); bindErr != nil {
				err = errors.Join(err, bindErr)
			}
		}
		return nil, rollbackFile(err)
	}

	if backup != "" {
		if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(logger, "failed to remove output backup", "backup_cleanup_failed",
				logging.Path(backup), logging.Error(err),
				logging.String(logging.FieldImpact, "a stale backup file remains next to the output"),
				logging.String(logging.FieldErrorHint, "delete the file manually"))
		}
	}
	a.cleanupPrevious(ctx, prev, outputPath, outcome.Identity)

	logger.Info("patch applied",
		logging.Path(outputPath),
		logging.String("base_path", base.path),
		logging.String("identity", string(outcome.Identity)),
		logging.String("policy", string(policy)),
		logging.Confidence(confidence),
		logging.Bool("replaced", prev != nil))
	return &Result{State: state, BasePath: base.path, Report: report, Replaced: prev != nil}, nil
}

func (a *Applicator) existingState(ctx context.Context, stateID, assetID, outputPath string) (*store.State, error) {
	if stateID != "" {
		st, err := a.store.GetState(ctx, stateID)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, fmt.Errorf("applied state %s: %w", stateID, store.ErrNotFound)
		}
		if st.DerivedAssetID != assetID {
			return nil, fmt.Errorf("applied state %s belongs to derived asset %s", stateID, st.DerivedAssetID)
		}
		return st, nil
	}
	st, err := a.store.FindStateByOutput(ctx, outputPath)
	if err != nil {
		return nil, err
	}
	if st != nil && st.DerivedAssetID != assetID {
		return nil, fmt.Errorf("output %s is produced by applied state %s of another derived asset", outputPath, st.ID)
	}
	return st, nil
}

func previousOutput(prev *store.State, path string) *store.Output {
	if prev == nil {
		return nil
	}
	for i := range prev.Outputs {
		if prev.Outputs[i].Path == path {
			return &prev.Outputs[i]
		}
	}
	return nil
}

// cleanupPrevious drops what the previous application left behind that the
// new one no longer uses. Failures only leave stale files, so they are logged.
func (a *Applicator) cleanupPrevious(ctx context.Context, prev *store.State, outputPath string, current identity.Ref) {
	if prev == nil {
		return
	}
	logger := logging.WithContext(ctx, a.logger)
	for _, out := range prev.Outputs {
		if out.Path == outputPath {
			if !out.Identity.IsZero() && out.Identity != current {
				if err := a.store.Unbind(ctx, out.Identity, out.Path); err != nil {
					logger.Debug("failed to release replaced identity", logging.Error(err))
				}
			}
			_ = removeIfExists(hiddenPath(out.Path))
			continue
		}
		if err := a.repairer.Revert(ctx, out.Outcome(prev.Policy, prev.DerivedAssetID)); err != nil {
			logger.Debug("failed to revert replaced output identity", logging.Path(out.Path), logging.Error(err))
		}
		if err := a.discardOutput(prev, out); err != nil {
			logger.Debug("failed to remove replaced output", logging.Path(out.Path), logging.Error(err))
		}
	}
}

type resolvedBase struct {
	path             string
	output           []byte
	targetManifestID string
}

// resolveBase tries the target, then corpus candidates, then the user, and
// returns the first candidate the patch decodes against. Candidates are
// fingerprinted at the precision the asset was built with, never the local
// configuration's.
// The target's bytes are read from targetSource.
func (a *Applicator) resolveBase(ctx context.Context, asset *derived.DerivedAsset, targetPath, targetSource string, payload []byte) (resolvedBase, error) {
	var (
		res      resolvedBase
		diverged []string
		rejected []string
		tried    = make(map[string]struct{})
	)
	logger := logging.WithContext(ctx, a.logger)

	try := func(c locate.Candidate) (manifestID string, ok bool, err error) {
		if _, seen := tried[c.Path]; seen {
			return "", false, nil
		}
		tried[c.Path] = struct{}{}
		m, err := manifest.Build(c.Data, manifest.WithPrecision(asset.TransformPrecision))
		if err != nil || m.ID != asset.BaseManifestID {
			rejected = append(rejected, c.Path)
			if err == nil {
				return m.ID, false, nil
			}
			return "", false, nil
		}
		out, err := a.decode(c.Data, payload)
		switch {
		case err == nil:
			res.path = c.Path
			res.output = out
			return m.ID, true, nil
		case errors.Is(err, patchcodec.ErrBaseMismatch):
			diverged = append(diverged, c.Path)
			logger.Info("candidate diverged from patch base", logging.Path(c.Path), logging.Error(err))
			return m.ID, false, nil
		default:
			return m.ID, false, fmt.Errorf("decode patch against %s: %w", c.Path, err)
		}
	}

	if data, err := os.ReadFile(targetSource); err != nil {
		logger.Debug("target unreadable", logging.Path(targetSource), logging.Error(err))
	} else {
		id, ok, err := try(locate.Candidate{Path: targetPath, Data: data})
		res.targetManifestID = id
		if err != nil || ok {
			return res, err
		}
	}

	if a.locator != nil {
		candidates, err := a.locator.FindCandidates(ctx, asset.BaseManifestID, asset.TransformPrecision)
		if err != nil {
			return res, fmt.Errorf("find base candidates: %w", err)
		}
		for _, c := range candidates {
			if _, ok, err := try(c); err != nil || ok {
				return res, err
			}
		}
		c, ok, err := a.locator.PromptForFile(ctx)
		if err != nil {
			return res, fmt.Errorf("prompt for base: %w", err)
		}
		if ok {
			if _, ok, err := try(c); err != nil || ok {
				return res, err
			}
		}
	}

	kind := NoBaseFound
	if len(diverged) > 0 {
		kind = BaseDiverged
	}
	return res, &ApplyError{
		Kind:           kind,
		DerivedAssetID: asset.ID,
		BaseManifestID: asset.BaseManifestID,
		TargetPath:     targetPath,
		Diverged:       diverged,
		Rejected:       rejected,
	}
}
