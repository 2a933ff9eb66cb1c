// Package match provides node-name normalization and Levenshtein similarity
// scoring for fuzzy node alignment.
//
// Key functions:
//   - NormalizeName: folds rig naming conventions into a comparable form
//   - Levenshtein: computes edit distance between strings
//   - Similarity: normalized similarity in [0, 1] of two node names
package match
