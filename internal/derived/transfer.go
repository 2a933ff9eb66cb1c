package derived

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"meshpatch/internal/fileutil"
	"meshpatch/internal/logging"
	"meshpatch/internal/patchcodec"
	"meshpatch/internal/store"
	"meshpatch/internal/textutil"
)

const (
	metadataSuffix = ".derived.json"
	// transferVersion 2 records the manifest precision with the asset.
	transferVersion = 2
)

// transferFile is the on-disk form of an exported derived asset.
type transferFile struct {
	FormatVersion int         `json:"format_version"`
	PatchFile     string      `json:"patch_file"`
	Asset         store.Asset `json:"asset"`
}

// Export writes <slug>.derived.json and <slug>.patch into dir and returns the
// metadata path.
func (b *Builder) Export(ctx context.Context, idOrPrefix, dir string) (string, error) {
	asset, err := b.Get(ctx, idOrPrefix)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	slug := textutil.Slug(asset.UIHints.FriendlyName) + "-" + shortID(asset.ID)
	patchName := slug + ".patch"
	if err := b.blobs.Export(asset.PatchHash, filepath.Join(dir, patchName)); err != nil {
		return "", fmt.Errorf("export patch: %w", err)
	}

	exported := asset.Asset
	// Author-local paths mean nothing on the receiving machine.
	exported.SourceBasePath = ""
	exported.SourceModifiedPath = ""
	data, err := json.MarshalIndent(transferFile{
		FormatVersion: transferVersion,
		PatchFile:     patchName,
		Asset:         exported,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	metaPath := filepath.Join(dir, slug+metadataSuffix)
	if err := fileutil.WriteFileAtomic(metaPath, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	b.logger.Info("derived asset exported",
		logging.String(logging.FieldDerivedID, asset.ID),
		logging.Path(metaPath))
	return metaPath, nil
}

// Import registers an exported derived asset. The patch file must hash to
// the recorded patch hash and carry the recorded base hash. Importing an
// asset that is already present returns the stored copy.
func (b *Builder) Import(ctx context.Context, metadataPath string) (*DerivedAsset, error) {
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, &BuildError{Kind: UnreadableInput, Path: metadataPath, Err: err}
	}
	var tf transferFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, &BuildError{Kind: UnreadableInput, Path: metadataPath, Err: err}
	}
	if tf.FormatVersion != transferVersion {
		return nil, &BuildError{Kind: UnreadableInput, Path: metadataPath,
			Err: fmt.Errorf("unsupported format version %d", tf.FormatVersion)}
	}
	asset := tf.Asset
	if asset.ID == "" || asset.PatchHash == "" || tf.PatchFile == "" || asset.TransformPrecision < 0 {
		return nil, &BuildError{Kind: UnreadableInput, Path: metadataPath, Err: errors.New("incomplete metadata")}
	}

	existing, err := b.store.GetAsset(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DerivedAsset{Asset: *existing, blobs: b.blobs}, nil
	}

	patchPath := filepath.Join(filepath.Dir(metadataPath), filepath.Base(tf.PatchFile))
	hadBlob := b.blobs.Has(asset.PatchHash)
	if err := b.blobs.Import(patchPath, asset.PatchHash); err != nil {
		return nil, fmt.Errorf("import patch: %w", err)
	}
	payload, err := b.blobs.Get(asset.PatchHash)
	if err == nil {
		var header patchcodec.Header
		header, err = patchcodec.Inspect(payload)
		switch {
		case err != nil:
		case header.BaseHash != asset.BaseContentHash:
			err = fmt.Errorf("patch base %s does not match metadata base %s",
				logging.ShortHash(header.BaseHash), logging.ShortHash(asset.BaseContentHash))
		case header.ResultHash != asset.DerivedContentHash:
			err = fmt.Errorf("patch result %s does not match metadata result %s",
				logging.ShortHash(header.ResultHash), logging.ShortHash(asset.DerivedContentHash))
		}
	}
	if err == nil {
		err = b.store.InsertAsset(ctx, &asset)
	}
	if err != nil {
		if !hadBlob {
			if rmErr := b.blobs.Remove(asset.PatchHash); rmErr != nil {
				err = errors.Join(err, rmErr)
			}
		}
		return nil, fmt.Errorf("import %s: %w", metadataPath, err)
	}
	b.logger.Info("derived asset imported",
		logging.String(logging.FieldDerivedID, asset.ID),
		logging.String("friendly_name", asset.UIHints.FriendlyName))
	return &DerivedAsset{Asset: asset, blobs: b.blobs}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
