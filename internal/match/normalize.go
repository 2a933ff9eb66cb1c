package match

import (
	"strings"
	"unicode"
)

// sideTokens folds the common abbreviations for left/right limbs.
var sideTokens = map[string]string{
	"l":     "left",
	"r":     "right",
	"lft":   "left",
	"rgt":   "right",
	"left":  "left",
	"right": "right",
}

// NormalizeName converts a node name to a canonical form for fuzzy matching.
// It drops namespace prefixes ("mixamorig:", "Armature|"), splits CamelCase
// and separators into tokens, lowercases them, expands side abbreviations,
// and joins the result.
//
// Examples:
//   - "mixamorig:LeftUpLeg" -> "leftupleg"
//   - "Upper_Arm.L" -> "upperarmleft"
//   - "thigh_r" -> "thighright"
func NormalizeName(s string) string {
	if i := strings.LastIndexAny(s, ":|"); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	tokens := tokenize(s)
	var b strings.Builder
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if side, ok := sideTokens[tok]; ok {
			tok = side
		}
		b.WriteString(tok)
	}
	return b.String()
}

// tokenize splits a CamelCase or separated string into tokens.
// Examples:
//   - "LeftUpLeg" -> ["Left", "Up", "Leg"]
//   - "Upper_Arm.L" -> ["Upper", "Arm", "L"]
//   - "HTMLRoot" -> ["HTML", "Root"]
func tokenize(s string) []string {
	if s == "" {
		return nil
	}

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		if isSeparator(r) {
			flush()
			continue
		}
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Lower->Upper starts a token; so does the last capital of an
			// acronym that is followed by lowercase ("HTMLRoot").
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current.WriteRune(r)
	}
	flush()
	return tokens
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == ' ' || r == ':' || r == '|'
}
