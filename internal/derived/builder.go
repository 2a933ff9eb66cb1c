package derived

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"meshpatch/internal/blobstore"
	"meshpatch/internal/config"
	"meshpatch/internal/correspond"
	"meshpatch/internal/fileutil"
	"meshpatch/internal/identity"
	"meshpatch/internal/logging"
	"meshpatch/internal/manifest"
	"meshpatch/internal/patchcodec"
	"meshpatch/internal/store"
	"meshpatch/internal/textutil"
)

// BuildRequest names the author's inputs.
type BuildRequest struct {
	BasePath     string
	ModifiedPath string
	Policy       identity.Policy
	UIHints      store.UIHints
}

// Builder produces derived assets and manages their lifecycle in the
// metadata and blob stores.
type Builder struct {
	cfg    *config.Config
	store  *store.Store
	blobs  *blobstore.Store
	host   identity.Host
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder constructs a Builder using the sidecar identity host.
func NewBuilder(cfg *config.Config, st *store.Store, logger *slog.Logger) *Builder {
	return NewBuilderWithDependencies(cfg, st, blobstore.New(cfg.BlobDir(), logger), identity.SidecarHost{}, logger)
}

// NewBuilderWithDependencies allows injecting collaborators (used in tests).
func NewBuilderWithDependencies(cfg *config.Config, st *store.Store, blobs *blobstore.Store, host identity.Host, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		cfg:    cfg,
		store:  st,
		blobs:  blobs,
		host:   host,
		logger: logging.NewComponentLogger(logger, "derived"),
		now:    time.Now,
	}
}

// Blobs returns the blob store holding patch payloads.
func (b *Builder) Blobs() *blobstore.Store { return b.blobs }

// Build computes the patch and correspondence between base and modified and
// records the result as a new derived asset.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*DerivedAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	policy := req.Policy
	if policy == "" {
		policy = identity.Policy(b.cfg.Apply.DefaultPolicy)
	}
	if _, err := identity.ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	baseData, baseManifest, err := b.readModel(req.BasePath)
	if err != nil {
		return nil, err
	}
	modData, modManifest, err := b.readModel(req.ModifiedPath)
	if err != nil {
		return nil, err
	}

	mapping := correspond.Align(baseManifest, modManifest,
		correspond.WithFuzzyThreshold(b.cfg.Matching.FuzzyThreshold))
	threshold := b.cfg.Matching.ConfidenceThreshold
	report := correspond.NewReport(mapping, baseManifest, modManifest, threshold)
	patch := patchcodec.Encode(baseData, modData)

	baseIdentity, _, err := b.host.ResolveIdentity(ctx, req.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base identity: %w", err)
	}
	derivedIdentity, ok, err := b.host.ResolveIdentity(ctx, req.ModifiedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve modified identity: %w", err)
	}
	if !ok {
		derivedIdentity = identity.NewRef()
	}

	hints := req.UIHints
	if strings.TrimSpace(hints.FriendlyName) == "" {
		hints.FriendlyName = textutil.FriendlyName(req.ModifiedPath)
	}

	patchHash, created, err := b.blobs.Put(patch)
	if err != nil {
		return nil, fmt.Errorf("store patch: %w", err)
	}

	asset := store.Asset{
		ID:                 uuid.NewString(),
		BaseManifestID:     baseManifest.ID,
		DerivedManifestID:  modManifest.ID,
		BaseContentHash:    fileutil.HashBytes(baseData),
		DerivedContentHash: fileutil.HashBytes(modData),
		PatchHash:          patchHash,
		PatchSize:          int64(len(patch)),
		TransformPrecision: baseManifest.Precision,
		Correspondence:     mapping,
		Report:             report,
		UIHints:            hints,
		BaseIdentity:       baseIdentity,
		DerivedIdentity:    derivedIdentity,
		Policy:             policy,
		SourceBasePath:     absPath(req.BasePath),
		SourceModifiedPath: absPath(req.ModifiedPath),
		CreatedAt:          b.now().UTC(),
	}
	if err := b.store.InsertAsset(ctx, &asset); err != nil {
		if created {
			if rmErr := b.blobs.Remove(patchHash); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove orphaned patch: %w", rmErr))
			}
		}
		return nil, err
	}

	logger := logging.WithContext(logging.WithDerivedID(ctx, asset.ID), b.logger)
	if report.Advisory {
		logging.WarnWithContext(logger, "correspondence below confidence threshold", "low_confidence",
			logging.Confidence(mapping.Confidence),
			logging.Float64("threshold", threshold),
			logging.String(logging.FieldImpact, "applying this asset requires confirmation"),
			logging.String(logging.FieldErrorHint, report.String()),
		)
	}
	logger.Info("derived asset built",
		logging.String("friendly_name", hints.FriendlyName),
		logging.ManifestID(asset.BaseManifestID),
		logging.Int64("patch_size", asset.PatchSize),
		logging.Bool("patch_reused", !created),
		logging.Confidence(mapping.Confidence),
	)
	return &DerivedAsset{Asset: asset, blobs: b.blobs}, nil
}

func (b *Builder) readModel(path string) ([]byte, *manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &BuildError{Kind: UnreadableInput, Path: path, Err: err}
	}
	m, err := manifest.Build(data, manifest.WithPrecision(b.cfg.Matching.TransformPrecision))
	if err != nil {
		return nil, nil, &BuildError{Kind: UnreadableInput, Path: path, Err: err}
	}
	return data, m, nil
}

// Get loads a derived asset by ID or unique ID prefix.
func (b *Builder) Get(ctx context.Context, idOrPrefix string) (*DerivedAsset, error) {
	id, err := b.store.ResolveAssetID(ctx, idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("derived asset %w", err)
	}
	asset, err := b.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("derived asset %s: %w", id, store.ErrNotFound)
	}
	return &DerivedAsset{Asset: *asset, blobs: b.blobs}, nil
}

// List returns all derived assets, newest first, without touching payloads.
func (b *Builder) List(ctx context.Context) ([]*DerivedAsset, error) {
	assets, err := b.store.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*DerivedAsset, 0, len(assets))
	for _, a := range assets {
		out = append(out, &DerivedAsset{Asset: *a, blobs: b.blobs})
	}
	return out, nil
}

// Delete removes a derived asset that has no applied states, and its patch
// blob when no other asset shares it.
func (b *Builder) Delete(ctx context.Context, id string) error {
	asset, err := b.store.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("derived asset %s: %w", id, store.ErrNotFound)
	}
	states, err := b.store.ListStates(ctx, id)
	if err != nil {
		return err
	}
	if len(states) > 0 {
		return fmt.Errorf("derived asset %s is applied %d time(s); remove the applied states first", id, len(states))
	}
	if err := b.store.DeleteAsset(ctx, id); err != nil {
		return err
	}
	refs, err := b.store.CountPatchReferences(ctx, asset.PatchHash)
	if err != nil {
		return err
	}
	if refs == 0 {
		if err := b.blobs.Remove(asset.PatchHash); err != nil {
			return fmt.Errorf("remove patch blob: %w", err)
		}
	}
	b.logger.Info("derived asset deleted", logging.String(logging.FieldDerivedID, id))
	return nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
