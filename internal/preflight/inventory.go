package preflight

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"meshpatch/internal/blobstore"
	"meshpatch/internal/fileutil"
	"meshpatch/internal/store"
)

// Inventory summarizes what the stores hold and where they disagree.
type Inventory struct {
	Assets         int
	States         int
	DisabledStates int
	Blobs          int
	BlobBytes      int64
	// MissingBlobs lists assets whose patch payload is gone.
	MissingBlobs []string
	// OrphanBlobs lists payload hashes no asset references.
	OrphanBlobs []string
	// MissingOutputs lists enabled outputs that no longer exist on disk.
	MissingOutputs []string
}

// Healthy reports whether the inventory found no inconsistencies.
func (i Inventory) Healthy() bool {
	return len(i.MissingBlobs) == 0 && len(i.OrphanBlobs) == 0 && len(i.MissingOutputs) == 0
}

// TakeInventory cross-checks metadata against blobs and outputs on disk.
func TakeInventory(ctx context.Context, st *store.Store, blobs *blobstore.Store) (Inventory, error) {
	var inv Inventory

	assets, err := st.ListAssets(ctx)
	if err != nil {
		return inv, err
	}
	inv.Assets = len(assets)
	referenced := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		referenced[a.PatchHash] = struct{}{}
		if !blobs.Has(a.PatchHash) {
			inv.MissingBlobs = append(inv.MissingBlobs, a.ID)
		}
	}

	states, err := st.ListStates(ctx, "")
	if err != nil {
		return inv, err
	}
	inv.States = len(states)
	for _, s := range states {
		if !s.Enabled {
			inv.DisabledStates++
			continue
		}
		for _, out := range s.Outputs {
			if !fileutil.Exists(out.Path) {
				inv.MissingOutputs = append(inv.MissingOutputs, out.Path)
			}
		}
	}

	err = filepath.WalkDir(blobs.Root(), func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".patch") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		inv.Blobs++
		inv.BlobBytes += info.Size()
		hash := strings.TrimSuffix(d.Name(), ".patch")
		if _, ok := referenced[hash]; !ok {
			inv.OrphanBlobs = append(inv.OrphanBlobs, hash)
		}
		return nil
	})
	if err != nil {
		return inv, err
	}
	sort.Strings(inv.OrphanBlobs)
	return inv, nil
}
