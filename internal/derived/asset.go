package derived

import (
	"context"
	"fmt"

	"meshpatch/internal/blobstore"
	"meshpatch/internal/store"
)

// DerivedAsset is a built asset with lazy access to its patch payload.
type DerivedAsset struct {
	store.Asset
	blobs *blobstore.Store
}

// Payload reads the patch bytes from the blob store. Listing and showing
// assets never calls it.
func (d *DerivedAsset) Payload(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.blobs == nil {
		return nil, fmt.Errorf("derived asset %s has no blob store", d.ID)
	}
	data, err := d.blobs.Get(d.PatchHash)
	if err != nil {
		return nil, fmt.Errorf("load patch for %s: %w", d.ID, err)
	}
	return data, nil
}
