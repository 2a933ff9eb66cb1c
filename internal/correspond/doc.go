// Package correspond aligns the nodes of two manifests.
//
// Align links nodes in two passes. The exact pass links nodes with the same
// name at the same depth. The fuzzy pass links the remaining nodes of the same
// kind whose normalized names are similar enough, as long as the link keeps
// parent relationships consistent: a child may only match a node under the
// counterpart of its matched parent. Nodes left over stay unmatched.
//
// Confidence weighs exact links 1 and fuzzy links 0.5 against the size of the
// larger manifest. A map whose confidence is below the configured threshold is
// advisory and must not be applied without confirmation.
package correspond
