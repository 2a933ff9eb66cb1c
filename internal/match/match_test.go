package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a        string
		b        string
		expected int
	}{
		{"", "", 0},
		{"hips", "hips", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"a", "b", 1},
		{"kitten", "sitting", 3},
		{"spine", "spine1", 1},
		{"Hello", "hello", 1},
		// Rune-aware: each kana is one edit unit.
		{"左腕", "右腕", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, Levenshtein(tt.a, tt.b))
			assert.Equal(t, tt.expected, Levenshtein(tt.b, tt.a), "symmetry")
		})
	}
}

func TestLevenshteinNormalized(t *testing.T) {
	assert.InDelta(t, 1.0, LevenshteinNormalized("", ""), 1e-9)
	assert.InDelta(t, 1.0, LevenshteinNormalized("head", "head"), 1e-9)
	assert.InDelta(t, 0.0, LevenshteinNormalized("abc", "xyz"), 1e-9)
	assert.InDelta(t, 1.0-3.0/7.0, LevenshteinNormalized("kitten", "sitting"), 1e-9)
	assert.InDelta(t, 0.5, LevenshteinNormalized("左腕", "右腕"), 1e-9)
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"mixamorig:LeftUpLeg": "leftupleg",
		"Armature|Hips":       "hips",
		"Upper_Arm.L":         "upperarmleft",
		"thigh_r":             "thighright",
		"HTMLRoot":            "htmlroot",
		"Spine1":              "spine1",
		"":                    "",
		"trailing:":           "trailing",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), "NormalizeName(%q)", in)
	}
}

func TestSimilarityFoldsNamingConventions(t *testing.T) {
	require.InDelta(t, 1.0, Similarity("mixamorig:LeftArm", "Left_Arm"), 1e-9)
	require.InDelta(t, 1.0, Similarity("UpperArm.L", "upper_arm_left"), 1e-9)

	near := Similarity("Spine", "Spine1")
	far := Similarity("Spine", "LeftFoot")
	assert.Greater(t, near, 0.6)
	assert.Less(t, far, near)
}
