package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"meshpatch/internal/fbx"
	"meshpatch/internal/manifest"
	"meshpatch/internal/testsupport"
)

func build(t *testing.T, scene testsupport.Scene, opts ...manifest.Option) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Build(testsupport.BuildFBX(t, scene), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestBuildOrdersDepthFirst(t *testing.T) {
	// File order interleaves the two branches; the manifest must not.
	scene := testsupport.Scene{Nodes: []testsupport.SceneNode{
		{Name: "Hips", Class: "Root"},
		{Name: "LeftLeg", Class: "LimbNode", Parent: "Hips"},
		{Name: "Spine", Class: "LimbNode", Parent: "Hips"},
		{Name: "LeftFoot", Class: "LimbNode", Parent: "LeftLeg"},
		{Name: "Head", Class: "LimbNode", Parent: "Spine"},
		{Name: "Body", Class: "Mesh"},
	}}
	m := build(t, scene)

	type row struct {
		Name   string
		Parent int
		Kind   manifest.Kind
	}
	var got []row
	for _, n := range m.Nodes {
		got = append(got, row{n.Name, n.Parent, n.Kind})
	}
	want := []row{
		{"Hips", -1, manifest.KindBone},
		{"LeftLeg", 0, manifest.KindBone},
		{"LeftFoot", 1, manifest.KindBone},
		{"Spine", 0, manifest.KindBone},
		{"Head", 3, manifest.KindBone},
		{"Body", -1, manifest.KindMesh},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 1, 2, 0}, m.Depths()); diff != "" {
		t.Fatalf("depths mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestIDIsStable(t *testing.T) {
	scene := testsupport.Chain("Hips", "Spine", "Head")

	first := build(t, scene)
	second := build(t, scene)
	if first.ID != second.ID {
		t.Fatalf("independent builds disagree: %s vs %s", first.ID, second.ID)
	}
	if len(first.ID) != 64 {
		t.Fatalf("expected hex sha256 id, got %q", first.ID)
	}

	// Same structure, different bytes.
	reexport := scene
	reexport.CompressArrays = true
	reexport.Version = 7500
	reexport.Seed = 3
	if got := build(t, reexport).ID; got != first.ID {
		t.Fatalf("re-export changed manifest id: %s vs %s", got, first.ID)
	}
}

func TestManifestIDTracksStructure(t *testing.T) {
	base := testsupport.Chain("Hips", "Spine", "Head")
	baseID := build(t, base).ID

	renamed := testsupport.Chain("Hips", "Spine", "Skull")

	reparented := testsupport.Chain("Hips", "Spine", "Head")
	reparented.Nodes[2].Parent = "Hips"

	moved := testsupport.Chain("Hips", "Spine", "Head")
	moved.Nodes[1].Translation = fbx.Vec3{0, 0.001, 0}

	reclassed := testsupport.Chain("Hips", "Spine", "Head")
	reclassed.Nodes[2].Class = "Mesh"

	for name, scene := range map[string]testsupport.Scene{
		"renamed":    renamed,
		"reparented": reparented,
		"moved":      moved,
		"reclassed":  reclassed,
	} {
		if build(t, scene).ID == baseID {
			t.Fatalf("%s: manifest id did not change", name)
		}
	}
}

func TestTransformDriftBelowPrecisionIsIgnored(t *testing.T) {
	base := testsupport.Chain("Hips", "Spine")
	base.Nodes[1].Translation = fbx.Vec3{0, 10.5, 0}

	drifted := testsupport.Chain("Hips", "Spine")
	drifted.Nodes[1].Translation = fbx.Vec3{0, 10.500001, -0.000001}

	if build(t, base).ID != build(t, drifted).ID {
		t.Fatal("sub-precision drift changed the manifest id")
	}
	if build(t, base, manifest.WithPrecision(8)).ID == build(t, drifted, manifest.WithPrecision(8)).ID {
		t.Fatal("drift should be visible at higher precision")
	}
}

func TestManifestRecordsPrecision(t *testing.T) {
	scene := testsupport.Chain("Hips", "Spine")

	coarse := build(t, scene, manifest.WithPrecision(2))
	fine := build(t, scene)
	if coarse.Precision != 2 || fine.Precision != manifest.DefaultPrecision {
		t.Fatalf("unexpected precisions %d and %d", coarse.Precision, fine.Precision)
	}
	if coarse.ID == fine.ID {
		t.Fatal("manifests built at different precisions share an id")
	}
	if got := manifest.ComputeID(coarse.Precision, coarse.Nodes); got != coarse.ID {
		t.Fatalf("ComputeID = %s, want %s", got, coarse.ID)
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := manifest.Build([]byte("not a model")); !errors.Is(err, manifest.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	empty := testsupport.BuildFBX(t, testsupport.Scene{})
	_, err := manifest.Build(empty)
	if !errors.Is(err, manifest.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	var pe *manifest.ParseError
	if !errors.As(err, &pe) || pe.Kind != manifest.Empty {
		t.Fatalf("expected *ParseError of kind Empty, got %#v", err)
	}
}

func TestBuildFileCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.fbx")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := manifest.BuildFile(path)
	var pe *manifest.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Path != path {
		t.Fatalf("expected path %q, got %q", path, pe.Path)
	}
}

func TestDescribeIndentsByDepth(t *testing.T) {
	m := build(t, testsupport.Chain("Hips", "Spine"))
	lines := m.Describe()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0][:4] != "Hips" || lines[1][:7] != "  Spine" {
		t.Fatalf("unexpected describe output: %q", lines)
	}
}
