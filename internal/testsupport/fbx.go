package testsupport

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"

	"meshpatch/internal/fbx"
)

// SceneNode describes one model in a fixture scene. Parent names another
// node in the same scene; empty means root. A zero Scaling becomes 1,1,1.
type SceneNode struct {
	Name        string
	Class       string
	Parent      string
	Translation fbx.Vec3
	Rotation    fbx.Vec3
	Scaling     fbx.Vec3
}

// Scene is a minimal FBX scene used as a test fixture.
type Scene struct {
	// Version defaults to 7400 (32-bit offsets).
	Version uint32
	Nodes   []SceneNode
	// CompressArrays stores geometry arrays zlib-compressed, which changes
	// the file bytes without changing the structure.
	CompressArrays bool
	// Seed perturbs the generated vertex data.
	Seed int
}

// Chain returns a scene of bones where each node is the child of the previous.
func Chain(names ...string) Scene {
	var s Scene
	for i, name := range names {
		node := SceneNode{Name: name, Class: "LimbNode"}
		if i > 0 {
			node.Parent = names[i-1]
		}
		s.Nodes = append(s.Nodes, node)
	}
	return s
}

// With returns a copy of the scene with extra nodes appended.
func (s Scene) With(nodes ...SceneNode) Scene {
	out := s
	out.Nodes = append(append([]SceneNode(nil), s.Nodes...), nodes...)
	return out
}

// Document converts the scene into an FBX node tree.
func (s Scene) Document() *fbx.Document {
	version := s.Version
	if version == 0 {
		version = 7400
	}
	ids := make(map[string]int64, len(s.Nodes))
	for i, node := range s.Nodes {
		ids[node.Name] = int64(1000 + i)
	}

	objects := &fbx.Node{Name: "Objects"}
	conns := &fbx.Node{Name: "Connections"}
	for i, node := range s.Nodes {
		class := node.Class
		if class == "" {
			class = "Null"
		}
		scaling := node.Scaling
		if scaling == (fbx.Vec3{}) {
			scaling = fbx.Vec3{1, 1, 1}
		}
		id := ids[node.Name]
		objects.Children = append(objects.Children, &fbx.Node{
			Name:       "Model",
			Properties: fbx.Props(id, fbx.ObjectName(node.Name, "Model"), class),
			Children: []*fbx.Node{{
				Name: "Properties70",
				Children: []*fbx.Node{
					transformProp("Lcl Translation", node.Translation),
					transformProp("Lcl Rotation", node.Rotation),
					transformProp("Lcl Scaling", scaling),
				},
			}},
		})
		parent := int64(0)
		if node.Parent != "" {
			parent = ids[node.Parent]
		}
		conns.Children = append(conns.Children, &fbx.Node{Name: "C", Properties: fbx.Props("OO", id, parent)})

		if class == "Mesh" {
			geomID := int64(5000 + i)
			objects.Children = append(objects.Children, &fbx.Node{
				Name:       "Geometry",
				Properties: fbx.Props(geomID, fbx.ObjectName(node.Name, "Geometry"), "Mesh"),
				Children: []*fbx.Node{
					{Name: "Vertices", Properties: fbx.Props(vertices(node.Name, s.Seed))},
					{Name: "PolygonVertexIndex", Properties: fbx.Props([]int32{0, 1, -3, 3, 4, -6})},
				},
			})
			conns.Children = append(conns.Children, &fbx.Node{Name: "C", Properties: fbx.Props("OO", geomID, id)})
		}
	}

	return &fbx.Document{
		Version: version,
		Nodes: []*fbx.Node{
			{
				Name: "FBXHeaderExtension",
				Children: []*fbx.Node{
					{Name: "FBXVersion", Properties: fbx.Props(int32(version))},
					{Name: "Creator", Properties: fbx.Props("meshpatch fixture")},
				},
			},
			objects,
			conns,
		},
	}
}

func transformProp(name string, v fbx.Vec3) *fbx.Node {
	return &fbx.Node{Name: "P", Properties: fbx.Props(name, name, "", "A", v[0], v[1], v[2])}
}

func vertices(name string, seed int) []float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	base := float64(h.Sum32()%1000) / 100
	out := make([]float64, 48)
	for i := range out {
		out[i] = base + float64(i)*0.25 + float64(seed)
	}
	return out
}

// BuildFBX encodes the scene and fails the test on error.
func BuildFBX(t testing.TB, s Scene) []byte {
	t.Helper()
	var opts []fbx.EncodeOption
	if s.CompressArrays {
		opts = append(opts, fbx.WithCompressedArrays())
	}
	data, err := fbx.Encode(s.Document(), opts...)
	if err != nil {
		t.Fatalf("encode fixture scene: %v", err)
	}
	return data
}

// WriteFBX encodes the scene to path, creating parent directories.
func WriteFBX(t testing.TB, path string, s Scene) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, BuildFBX(t, s), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
