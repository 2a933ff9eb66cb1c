package fbx

import (
	"fmt"
	"strings"
)

// Vec3 is an XYZ triple.
type Vec3 [3]float64

// Model is one Objects/Model node with its resolved local transform and parent.
type Model struct {
	ID    int64
	Name  string
	Class string
	// Parent is the ID of the parent model, or 0 for scene roots.
	Parent      int64
	Translation Vec3
	Rotation    Vec3
	Scaling     Vec3
}

// IsBone reports whether the model is part of a skeleton.
func (m Model) IsBone() bool {
	switch m.Class {
	case "LimbNode", "Root", "Limb":
		return true
	}
	return false
}

// IsMesh reports whether the model carries geometry.
func (m Model) IsMesh() bool {
	return m.Class == "Mesh"
}

const nameSeparator = "\x00\x01"

// ObjectName formats a display name and class into the name\x00\x01Class
// form used for object names in binary files.
func ObjectName(name, class string) string {
	return name + nameSeparator + class
}

// SplitObjectName returns the display part of a binary object name.
func SplitObjectName(raw string) string {
	if i := strings.Index(raw, nameSeparator); i >= 0 {
		return raw[:i]
	}
	// ASCII exports use "Model::Name".
	if i := strings.Index(raw, "::"); i >= 0 {
		return raw[i+2:]
	}
	return raw
}

// Models returns every Objects/Model node in file order with parents resolved
// from "OO" connections. Connections to non-model objects leave the model a
// root.
func (d *Document) Models() ([]Model, error) {
	objects := d.Find("Objects")
	if objects == nil {
		return nil, nil
	}
	var models []Model
	index := make(map[int64]int)
	for _, node := range objects.Children {
		if node.Name != "Model" {
			continue
		}
		id, ok := node.Int64(0)
		if !ok {
			return nil, fmt.Errorf("%w: model without id", ErrMalformed)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate model id %d", ErrMalformed, id)
		}
		m := Model{
			ID:      id,
			Name:    SplitObjectName(node.String(1)),
			Class:   node.String(2),
			Scaling: Vec3{1, 1, 1},
		}
		readTransform(node.Child("Properties70"), &m)
		index[id] = len(models)
		models = append(models, m)
	}

	if conns := d.Find("Connections"); conns != nil {
		for _, c := range conns.Children {
			if c.Name != "C" || c.String(0) != "OO" {
				continue
			}
			child, ok1 := c.Int64(1)
			parent, ok2 := c.Int64(2)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%w: connection without object ids", ErrMalformed)
			}
			ci, ok := index[child]
			if !ok {
				continue
			}
			if _, ok := index[parent]; !ok || parent == child {
				continue
			}
			models[ci].Parent = parent
		}
	}
	if err := checkAcyclic(models, index); err != nil {
		return nil, err
	}
	return models, nil
}

func readTransform(props *Node, m *Model) {
	if props == nil {
		return
	}
	for _, p := range props.Children {
		if p.Name != "P" {
			continue
		}
		var target *Vec3
		switch p.String(0) {
		case "Lcl Translation":
			target = &m.Translation
		case "Lcl Rotation":
			target = &m.Rotation
		case "Lcl Scaling":
			target = &m.Scaling
		default:
			continue
		}
		for axis := 0; axis < 3; axis++ {
			if v, ok := p.Float64(4 + axis); ok {
				target[axis] = v
			}
		}
	}
}

func checkAcyclic(models []Model, index map[int64]int) error {
	for i := range models {
		seen := 0
		for p := models[i].Parent; p != 0; p = models[index[p]].Parent {
			seen++
			if seen > len(models) {
				return fmt.Errorf("%w: model hierarchy cycle at %q", ErrMalformed, models[i].Name)
			}
		}
	}
	return nil
}
