// Package manifest derives the structural fingerprint of a model file.
//
// A manifest is the depth-first list of named nodes (bones, meshes, other
// transforms) with parent links and a hash of each node's local transform.
// Its ID is a SHA-256 over a canonical serialization of that list, with
// transforms quantized to a fixed number of decimals first so that lossless
// re-exports with tiny numeric drift keep the same ID.
package manifest
