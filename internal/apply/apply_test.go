package apply_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"meshpatch/internal/apply"
	"meshpatch/internal/config"
	"meshpatch/internal/derived"
	"meshpatch/internal/fbx"
	"meshpatch/internal/identity"
	"meshpatch/internal/locate"
	"meshpatch/internal/patchcodec"
	"meshpatch/internal/store"
	"meshpatch/internal/testsupport"
)

func baseScene() testsupport.Scene {
	return testsupport.Chain("Hips", "Spine", "Head").With(
		testsupport.SceneNode{Name: "Body", Class: "Mesh", Parent: "Hips"},
	)
}

type env struct {
	cfg      *config.Config
	store    *store.Store
	builder  *derived.Builder
	app      *apply.Applicator
	asset    *derived.DerivedAsset
	modified []byte
	target   string
	project  string
	decodes  int
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	builder := derived.NewBuilder(cfg, st, nil)

	authorDir := filepath.Join(testsupport.BaseDir(cfg), "author")
	basePath := testsupport.WriteFBX(t, filepath.Join(authorDir, "Avatar.fbx"), baseScene())
	modPath := testsupport.WriteFBX(t, filepath.Join(authorDir, "Outfit.fbx"),
		baseScene().With(testsupport.SceneNode{Name: "Hat", Class: "Mesh", Parent: "Head"}))
	asset, err := builder.Build(context.Background(), derived.BuildRequest{BasePath: basePath, ModifiedPath: modPath})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	project := filepath.Join(testsupport.BaseDir(cfg), "project")
	e := &env{
		cfg:      cfg,
		store:    st,
		builder:  builder,
		asset:    asset,
		modified: testsupport.ReadFile(t, modPath),
		project:  project,
		target:   testsupport.WriteFBX(t, filepath.Join(project, "Avatar.fbx"), baseScene()),
	}
	e.app = e.newApplicator(locate.NewScanner(cfg, nil))
	return e
}

func (e *env) newApplicator(locator apply.Locator) *apply.Applicator {
	app := apply.NewApplicator(e.cfg, e.store, e.builder, locator, nil)
	app.SetDecoder(func(base, patch []byte) ([]byte, error) {
		e.decodes++
		return patchcodec.Decode(base, patch)
	})
	return app
}

func (e *env) request() apply.Request {
	return apply.Request{DerivedAssetID: e.asset.ID, TargetPath: e.target}
}

func (e *env) outputPath() string {
	return filepath.Join(e.project, "Avatar.outfit.fbx")
}

func assertNoOutput(t *testing.T, e *env) {
	t.Helper()
	if _, err := os.Stat(e.outputPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output must not exist, stat err = %v", err)
	}
	states, err := e.store.ListStates(context.Background(), "")
	if err != nil || len(states) != 0 {
		t.Fatalf("expected no applied states, got %d (%v)", len(states), err)
	}
}

func TestApplyReconstructsAndIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.State.OutputPath != e.outputPath() {
		t.Fatalf("output path = %s, want %s", res.State.OutputPath, e.outputPath())
	}
	first := testsupport.ReadFile(t, e.outputPath())
	if !bytes.Equal(first, e.modified) {
		t.Fatal("reconstructed output differs from the modified file")
	}
	if !res.State.Enabled || res.State.Status != store.StatusApplied || res.Replaced {
		t.Fatalf("unexpected state: %+v", res.State)
	}
	if res.State.TargetManifestID != e.asset.BaseManifestID || res.State.BasePath != e.target {
		t.Fatalf("state base fields: %+v", res.State)
	}
	ref, ok, err := identity.SidecarHost{}.ResolveIdentity(ctx, e.outputPath())
	if err != nil || !ok || ref != e.asset.DerivedIdentity {
		t.Fatalf("output identity = %q, %v, %v; want derived identity", ref, ok, err)
	}

	again, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !again.Replaced || again.State.ID != res.State.ID {
		t.Fatalf("second apply should replace state %s, got %+v", res.State.ID, again.State)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.outputPath()), first) {
		t.Fatal("second apply produced different bytes")
	}
	stored, err := e.store.GetState(ctx, res.State.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Outputs) != 1 || stored.Outputs[0].ContentHash != res.State.Outputs[0].ContentHash {
		t.Fatalf("outputs duplicated or changed: %+v", stored.Outputs)
	}
	if stored.Outputs[0].HadPrior {
		t.Fatal("re-apply must keep the original prior identity record")
	}
}

func TestApplyBaseDivergedWritesNothing(t *testing.T) {
	e := newEnv(t)
	reexport := baseScene()
	reexport.CompressArrays = true
	testsupport.WriteFBX(t, e.target, reexport)

	_, err := e.app.Apply(context.Background(), e.request())
	if !errors.Is(err, apply.ErrBaseDiverged) {
		t.Fatalf("expected ErrBaseDiverged, got %v", err)
	}
	var applyErr *apply.ApplyError
	if !errors.As(err, &applyErr) || len(applyErr.Diverged) != 1 || applyErr.Diverged[0] != e.target {
		t.Fatalf("expected diverged target in error, got %#v", err)
	}
	assertNoOutput(t, e)
}

func TestApplyFindsRelocatedBase(t *testing.T) {
	e := newEnv(t)
	testsupport.WriteFBX(t, e.target, testsupport.Chain("Root", "Tail"))
	moved := testsupport.WriteFBX(t, filepath.Join(testsupport.CorpusDir(e.cfg), "old", "renamed.fbx"), baseScene())

	res, err := e.app.Apply(context.Background(), e.request())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.BasePath != moved || res.State.BasePath != moved {
		t.Fatalf("base path = %s, want %s", res.BasePath, moved)
	}
	if res.State.TargetManifestID == e.asset.BaseManifestID {
		t.Fatal("target manifest id should record the mismatching target")
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.outputPath()), e.modified) {
		t.Fatal("output differs from the modified file")
	}
}

func TestApplyFingerprintsAtAssetPrecision(t *testing.T) {
	ctx := context.Background()
	scene := testsupport.Chain("Hips", "Spine")
	scene.Nodes[1].Translation = fbx.Vec3{0, 0.123456, 0}

	authorCfg := testsupport.NewConfig(t, testsupport.WithTransformPrecision(2))
	author := derived.NewBuilder(authorCfg, testsupport.MustOpenStore(t, authorCfg), nil)
	authorDir := filepath.Join(testsupport.BaseDir(authorCfg), "author")
	basePath := testsupport.WriteFBX(t, filepath.Join(authorDir, "Avatar.fbx"), scene)
	modPath := testsupport.WriteFBX(t, filepath.Join(authorDir, "Outfit.fbx"),
		scene.With(testsupport.SceneNode{Name: "Hat", Class: "Mesh", Parent: "Spine"}))
	built, err := author.Build(ctx, derived.BuildRequest{BasePath: basePath, ModifiedPath: modPath})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	metaPath, err := author.Export(ctx, built.ID, filepath.Join(testsupport.BaseDir(authorCfg), "export"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// The consumer keeps the default precision.
	consumerCfg := testsupport.NewConfig(t)
	consumerStore := testsupport.MustOpenStore(t, consumerCfg)
	consumer := derived.NewBuilder(consumerCfg, consumerStore, nil)
	imported, err := consumer.Import(ctx, metaPath)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.TransformPrecision != 2 {
		t.Fatalf("imported precision = %d, want 2", imported.TransformPrecision)
	}
	app := apply.NewApplicator(consumerCfg, consumerStore, consumer, locate.NewScanner(consumerCfg, nil), nil)

	baseData := testsupport.ReadFile(t, basePath)
	project := filepath.Join(testsupport.BaseDir(consumerCfg), "project")
	target := filepath.Join(project, "Avatar.fbx")
	writeBytes(t, target, baseData)
	res, err := app.Apply(ctx, apply.Request{DerivedAssetID: imported.ID, TargetPath: target, Confirmed: true})
	if err != nil {
		t.Fatalf("Apply to a copy of the base: %v", err)
	}
	if res.BasePath != target || !bytes.Equal(testsupport.ReadFile(t, res.State.OutputPath), testsupport.ReadFile(t, modPath)) {
		t.Fatalf("unexpected result for identical target: %+v", res.State)
	}

	// A relocated copy is found by the corpus scan at the same precision.
	other := testsupport.WriteFBX(t, filepath.Join(project, "Other.fbx"), testsupport.Chain("Root", "Tail"))
	moved := filepath.Join(testsupport.CorpusDir(consumerCfg), "old", "renamed.fbx")
	writeBytes(t, moved, baseData)
	res, err = app.Apply(ctx, apply.Request{DerivedAssetID: imported.ID, TargetPath: other, Confirmed: true})
	if err != nil {
		t.Fatalf("Apply via corpus scan: %v", err)
	}
	if res.BasePath != moved {
		t.Fatalf("base path = %s, want %s", res.BasePath, moved)
	}
}

func writeBytes(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApplyNoBaseFound(t *testing.T) {
	e := newEnv(t)
	testsupport.WriteFBX(t, e.target, testsupport.Chain("Root", "Tail"))

	_, err := e.app.Apply(context.Background(), e.request())
	if !errors.Is(err, apply.ErrNoBaseFound) {
		t.Fatalf("expected ErrNoBaseFound, got %v", err)
	}
	var applyErr *apply.ApplyError
	if !errors.As(err, &applyErr) || len(applyErr.Rejected) != 1 {
		t.Fatalf("expected rejected target in error, got %#v", err)
	}
	assertNoOutput(t, e)
}

type stubLocator struct {
	prompt   locate.Candidate
	prompted bool
}

func (s *stubLocator) FindCandidates(context.Context, string, int) ([]locate.Candidate, error) {
	return nil, nil
}

func (s *stubLocator) PromptForFile(context.Context) (locate.Candidate, bool, error) {
	s.prompted = true
	return s.prompt, s.prompt.Path != "", nil
}

func TestApplyFallsBackToPrompt(t *testing.T) {
	e := newEnv(t)
	testsupport.WriteFBX(t, e.target, testsupport.Chain("Root", "Tail"))
	picked := filepath.Join(testsupport.BaseDir(e.cfg), "downloads", "avatar_copy.fbx")
	testsupport.WriteFBX(t, picked, baseScene())

	locator := &stubLocator{prompt: locate.Candidate{Path: picked, Data: testsupport.ReadFile(t, picked)}}
	res, err := e.newApplicator(locator).Apply(context.Background(), e.request())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !locator.prompted || res.BasePath != picked {
		t.Fatalf("expected prompted base %s, got %s", picked, res.BasePath)
	}

	// A picked file with the wrong structure is rejected.
	other := newEnv(t)
	testsupport.WriteFBX(t, other.target, testsupport.Chain("Root", "Tail"))
	wrong := &stubLocator{prompt: locate.Candidate{Path: other.target, Data: testsupport.ReadFile(t, other.target)}}
	if _, err := other.newApplicator(wrong).Apply(context.Background(), other.request()); !errors.Is(err, apply.ErrNoBaseFound) {
		t.Fatalf("expected ErrNoBaseFound, got %v", err)
	}
}

func TestApplyRejectsForeignCorrespondenceMap(t *testing.T) {
	e := newEnv(t)
	req := e.request()
	req.CorrespondenceMapID = "0123456789abcdef"
	_, err := e.app.Apply(context.Background(), req)
	if !errors.Is(err, apply.ErrMapMismatch) {
		t.Fatalf("err = %v, want map mismatch", err)
	}
	assertNoOutput(t, e)

	req.CorrespondenceMapID = e.asset.Correspondence.ID()
	res, err := e.app.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply with the asset's map: %v", err)
	}
	if res.State.CorrespondenceMapID != e.asset.Correspondence.ID() {
		t.Fatalf("state map = %s", res.State.CorrespondenceMapID)
	}
}

func TestApplyLowConfidenceNeedsConfirmation(t *testing.T) {
	e := newEnv(t)
	low := float32(0.5)
	req := e.request()
	req.ConfidenceOverride = &low

	_, err := e.app.Apply(context.Background(), req)
	if !errors.Is(err, apply.ErrLowConfidence) {
		t.Fatalf("expected ErrLowConfidence, got %v", err)
	}
	var applyErr *apply.ApplyError
	if !errors.As(err, &applyErr) || applyErr.Report == nil || !applyErr.Report.Advisory {
		t.Fatalf("expected advisory report, got %#v", err)
	}
	if len(applyErr.Report.UnmatchedModified) != 1 || applyErr.Report.UnmatchedModified[0] != "Hat" {
		t.Fatalf("report should name unmatched nodes: %+v", applyErr.Report)
	}
	if e.decodes != 0 {
		t.Fatal("codec ran for an unconfirmed advisory map")
	}
	assertNoOutput(t, e)

	req.Confirmed = true
	res, err := e.app.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("confirmed Apply: %v", err)
	}
	if res.State.Confidence != low || !res.State.Confirmed {
		t.Fatalf("state confidence = %v confirmed = %v", res.State.Confidence, res.State.Confirmed)
	}
}

func TestToggleDoesNotRunCodec(t *testing.T) {
	e := newEnv(t, testsupport.WithHiddenDisabledOutputs())
	ctx := context.Background()
	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatal(err)
	}
	if e.decodes != 1 {
		t.Fatalf("decodes = %d, want 1", e.decodes)
	}

	disabled, err := e.app.Toggle(ctx, res.State.ID, false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if disabled.Enabled {
		t.Fatal("state still enabled")
	}
	if _, err := os.Stat(e.outputPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("hidden output still visible")
	}
	if _, err := os.Stat(e.outputPath() + ".disabled"); err != nil {
		t.Fatalf("hidden output missing: %v", err)
	}

	enabled, err := e.app.Toggle(ctx, res.State.ID[:8], true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !enabled.Enabled {
		t.Fatal("state still disabled")
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.outputPath()), e.modified) {
		t.Fatal("output not restored on enable")
	}
	if e.decodes != 1 {
		t.Fatalf("toggle ran the codec: decodes = %d", e.decodes)
	}
	if len(enabled.Outputs) != 1 || enabled.Outputs[0] != res.State.Outputs[0] {
		t.Fatalf("toggle changed outputs: %+v", enabled.Outputs)
	}
}

func TestRebuildReplacesOutputs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.outputPath(), []byte("edited by hand"), 0o644); err != nil {
		t.Fatal(err)
	}

	rebuilt, err := e.app.Rebuild(ctx, res.State.ID)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if rebuilt.State.ID != res.State.ID || rebuilt.State.Status != store.StatusApplied {
		t.Fatalf("unexpected rebuilt state: %+v", rebuilt.State)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.outputPath()), e.modified) {
		t.Fatal("rebuild did not restore the reconstructed bytes")
	}
	if len(rebuilt.State.Outputs) != 1 || rebuilt.State.Outputs[0].Identity != res.State.Outputs[0].Identity {
		t.Fatalf("rebuild changed identity or output count: %+v", rebuilt.State.Outputs)
	}
	if !rebuilt.State.CreatedAt.Equal(res.State.CreatedAt) {
		t.Fatal("rebuild must keep the creation time")
	}
}

func TestRebuildFailureKeepsPreviousOutputs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatal(err)
	}
	reexport := baseScene()
	reexport.CompressArrays = true
	testsupport.WriteFBX(t, e.target, reexport)

	if _, err := e.app.Rebuild(ctx, res.State.ID); !errors.Is(err, apply.ErrBaseDiverged) {
		t.Fatalf("expected ErrBaseDiverged, got %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.outputPath()), e.modified) {
		t.Fatal("failed rebuild touched the previous output")
	}
	st, err := e.store.GetState(ctx, res.State.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != store.StatusApplied || len(st.Outputs) != 1 || st.Outputs[0].ContentHash != res.State.Outputs[0].ContentHash {
		t.Fatalf("state changed by failed rebuild: %+v", st)
	}
}

func TestRemoveRevertsIdentityAndDeletesOutput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := identity.SidecarHost{}

	// The output path already holds a file with its own identity.
	if err := os.WriteFile(e.outputPath(), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := host.BindIdentity(ctx, e.outputPath(), "00000000000000000000000000000001"); err != nil {
		t.Fatal(err)
	}

	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatal(err)
	}
	if out := res.State.Outputs[0]; !out.HadPrior || out.PriorIdentity != "00000000000000000000000000000001" {
		t.Fatalf("prior identity not recorded: %+v", out)
	}

	if err := e.app.Remove(ctx, res.State.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(e.outputPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("output not deleted")
	}
	ref, ok, err := host.ResolveIdentity(ctx, e.outputPath())
	if err != nil || !ok || ref != "00000000000000000000000000000001" {
		t.Fatalf("prior identity not restored: %q %v %v", ref, ok, err)
	}
	if st, _ := e.store.GetState(ctx, res.State.ID); st != nil {
		t.Fatal("state not deleted")
	}
	if b, _ := e.store.Binding(ctx, e.asset.DerivedIdentity); b != nil {
		t.Fatalf("tracker still holds %+v", b)
	}
}

func TestRemoveWithoutPriorIdentityDropsSidecar(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.app.Apply(ctx, e.request())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.app.Remove(ctx, res.State.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(identity.SidecarPath(e.outputPath())); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("sidecar created by apply was not removed")
	}
}

// identitiesIn maps each identity found on the files in dir to those files.
func identitiesIn(t *testing.T, dir string) map[identity.Ref][]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[identity.Ref][]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".fbx" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ref, ok, err := identity.SidecarHost{}.ResolveIdentity(context.Background(), path)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			out[ref] = append(out[ref], path)
		}
	}
	return out
}

func TestApplyPreservePolicyPatchesTargetInPlace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const targetRef = "11111111111111111111111111111111"
	if err := (identity.SidecarHost{}).BindIdentity(ctx, e.target, targetRef); err != nil {
		t.Fatal(err)
	}
	original := testsupport.ReadFile(t, e.target)

	req := e.request()
	req.Policy = identity.PolicyPreserve
	res, err := e.app.Apply(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.State.OutputPath != e.target {
		t.Fatalf("output path = %s, want the target %s", res.State.OutputPath, e.target)
	}
	if res.State.Outputs[0].Identity != targetRef || res.State.TargetIdentity != targetRef {
		t.Fatalf("output identity = %q, want target identity", res.State.Outputs[0].Identity)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), e.modified) {
		t.Fatal("target was not patched in place")
	}
	for ref, paths := range identitiesIn(t, e.project) {
		if len(paths) > 1 {
			t.Fatalf("identity %s carried by %v", ref, paths)
		}
	}

	// Rebuilding reads the kept original, not the patched target.
	if _, err := e.app.Rebuild(ctx, res.State.ID); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), e.modified) {
		t.Fatal("rebuild changed the patched target")
	}

	if err := e.app.Remove(ctx, res.State.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), original) {
		t.Fatal("remove did not restore the original target")
	}
	ref, ok, err := identity.SidecarHost{}.ResolveIdentity(ctx, e.target)
	if err != nil || !ok || ref != targetRef {
		t.Fatalf("target identity after remove = %q, %v, %v", ref, ok, err)
	}
	if _, err := os.Stat(apply.OriginalPath(e.cfg.Paths.DataDir, res.State.ID, e.target)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("kept original not cleaned up: %v", err)
	}
}

func TestApplyPreserveRefusesSecondCopyOfTargetIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := (identity.SidecarHost{}).BindIdentity(ctx, e.target, "11111111111111111111111111111111"); err != nil {
		t.Fatal(err)
	}
	req := e.request()
	req.Policy = identity.PolicyPreserve
	req.OutputPath = e.outputPath()
	if _, err := e.app.Apply(ctx, req); err == nil {
		t.Fatal("expected preserve to a separate output to be refused")
	}
	assertNoOutput(t, e)
	if e.decodes != 0 {
		t.Fatal("codec ran for a refused apply")
	}
}

func TestApplyPreserveWithoutTargetIdentityMayWriteSeparately(t *testing.T) {
	e := newEnv(t)
	req := e.request()
	req.Policy = identity.PolicyPreserve
	req.OutputPath = e.outputPath()
	res, err := e.app.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.State.Outputs[0].Identity.IsZero() || res.State.Outputs[0].Identity == e.asset.DerivedIdentity {
		t.Fatalf("expected a fresh identity, got %q", res.State.Outputs[0].Identity)
	}
	for ref, paths := range identitiesIn(t, e.project) {
		if len(paths) > 1 {
			t.Fatalf("identity %s carried by %v", ref, paths)
		}
	}
}

func TestApplyRebindRefusesInPlaceOutput(t *testing.T) {
	e := newEnv(t)
	req := e.request()
	req.OutputPath = e.target
	if _, err := e.app.Apply(context.Background(), req); err == nil {
		t.Fatal("expected in-place output under rebind to be refused")
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), testsupport.BuildFBX(t, baseScene())) {
		t.Fatal("target modified")
	}
}

func TestToggleHidesInPlaceOutputBehindOriginal(t *testing.T) {
	e := newEnv(t, testsupport.WithHiddenDisabledOutputs())
	ctx := context.Background()
	original := testsupport.ReadFile(t, e.target)
	req := e.request()
	req.Policy = identity.PolicyPreserve
	res, err := e.app.Apply(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.app.Toggle(ctx, res.State.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), original) {
		t.Fatal("disabled in-place output should show the original")
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target+".disabled"), e.modified) {
		t.Fatal("patched output not kept while disabled")
	}

	if _, err := e.app.Toggle(ctx, res.State.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, e.target), e.modified) {
		t.Fatal("enabled in-place output should show the patched file")
	}
	if _, err := os.Stat(e.target + ".disabled"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("hidden output left behind")
	}
}

func TestApplyIdentityCollisionWritesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.app.Apply(ctx, e.request()); err != nil {
		t.Fatal(err)
	}

	// An unrelated asset that claims the same derived identity.
	authorDir := filepath.Join(testsupport.BaseDir(e.cfg), "other-author")
	otherMod := testsupport.WriteFBX(t, filepath.Join(authorDir, "Cape.fbx"),
		baseScene().With(testsupport.SceneNode{Name: "Cape", Class: "Mesh", Parent: "Spine"}))
	if err := (identity.SidecarHost{}).BindIdentity(ctx, otherMod, e.asset.DerivedIdentity); err != nil {
		t.Fatal(err)
	}
	otherBase := testsupport.WriteFBX(t, filepath.Join(authorDir, "Avatar.fbx"), baseScene())
	other, err := e.builder.Build(ctx, derived.BuildRequest{BasePath: otherBase, ModifiedPath: otherMod})
	if err != nil {
		t.Fatal(err)
	}

	capeOut := filepath.Join(e.project, "Avatar.cape.fbx")
	_, err = e.app.Apply(ctx, apply.Request{DerivedAssetID: other.ID, TargetPath: e.target, OutputPath: capeOut})
	if !errors.Is(err, identity.ErrIdentityCollision) {
		t.Fatalf("expected ErrIdentityCollision, got %v", err)
	}
	if _, err := os.Stat(capeOut); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("colliding apply left an output")
	}
	if _, err := os.Stat(identity.SidecarPath(capeOut)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("colliding apply left a sidecar")
	}
	states, _ := e.store.ListStates(ctx, other.ID)
	if len(states) != 0 {
		t.Fatal("colliding apply recorded a state")
	}
}

func TestApplyWaitsForOutputLock(t *testing.T) {
	e := newEnv(t)
	e.cfg.Apply.LockTimeoutSeconds = 1
	held := flock.New(apply.LockPath(e.cfg.Paths.DataDir, e.outputPath()))
	if err := os.MkdirAll(filepath.Dir(held.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := held.Lock(); err != nil {
		t.Fatal(err)
	}
	defer held.Unlock()

	if _, err := e.app.Apply(context.Background(), e.request()); !errors.Is(err, apply.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	assertNoOutput(t, e)
}
