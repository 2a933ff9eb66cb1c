package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"meshpatch/internal/blobstore"
	"meshpatch/internal/identity"
	"meshpatch/internal/store"
	"meshpatch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryReadable("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckParentWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	if result := CheckParentWritable("cache", path); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("parent not created: %v", err)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_TestConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(testsupport.CorpusDir(cfg), 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	// config, data, blobs, logs, one search root, cache, database
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d: %+v", len(results), results)
	}
	if !AllPassed(results) {
		for _, r := range results {
			if !r.Passed {
				t.Errorf("check %q failed: %s", r.Name, r.Detail)
			}
		}
	}
}

func TestRunAll_ReportsMissingSearchRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := RunAll(context.Background(), cfg)
	if AllPassed(results) {
		t.Fatal("expected the missing corpus directory to fail")
	}
}

func TestRunAll_InvalidConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Matching.ConfidenceThreshold = 2
	results := RunAll(context.Background(), cfg)
	if results[0].Name != "Configuration" || results[0].Passed {
		t.Fatalf("expected configuration failure first, got %+v", results[0])
	}
}

func TestTakeInventory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs := blobstore.New(cfg.BlobDir(), nil)
	ctx := context.Background()

	kept, _, err := blobs.Put([]byte("kept patch"))
	if err != nil {
		t.Fatal(err)
	}
	orphan, _, err := blobs.Put([]byte("orphan patch"))
	if err != nil {
		t.Fatal(err)
	}
	for id, hash := range map[string]string{"with-blob": kept, "without-blob": "ab" + kept[2:]} {
		if err := st.InsertAsset(ctx, &store.Asset{ID: id, PatchHash: hash, Policy: identity.PolicyRebind}); err != nil {
			t.Fatal(err)
		}
	}
	gone := filepath.Join(t.TempDir(), "missing.fbx")
	if err := st.SaveState(ctx, &store.State{
		ID:             "state",
		DerivedAssetID: "with-blob",
		OutputPath:     gone,
		Enabled:        true,
		Status:         store.StatusApplied,
		Policy:         identity.PolicyRebind,
		Outputs:        []store.Output{{Path: gone}},
	}); err != nil {
		t.Fatal(err)
	}

	inv, err := TakeInventory(ctx, st, blobs)
	if err != nil {
		t.Fatalf("TakeInventory: %v", err)
	}
	if inv.Assets != 2 || inv.States != 1 || inv.Blobs != 2 {
		t.Fatalf("unexpected counts: %+v", inv)
	}
	if len(inv.MissingBlobs) != 1 || inv.MissingBlobs[0] != "without-blob" {
		t.Fatalf("missing blobs = %v", inv.MissingBlobs)
	}
	if len(inv.OrphanBlobs) != 1 || inv.OrphanBlobs[0] != orphan {
		t.Fatalf("orphan blobs = %v", inv.OrphanBlobs)
	}
	if len(inv.MissingOutputs) != 1 || inv.Healthy() {
		t.Fatalf("missing outputs = %v", inv.MissingOutputs)
	}
}
