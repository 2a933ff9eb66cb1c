// Package fbx reads and writes the binary FBX container used by the model
// files meshpatch fingerprints.
//
// Only the container layer is handled: node records, typed properties, and
// (optionally zlib-compressed) arrays. Models resolves the small slice of
// scene semantics the manifest needs: Objects/Model nodes, their local
// transforms from Properties70, and the model-to-model parent links recorded
// under Connections.
package fbx
