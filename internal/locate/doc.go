// Package locate finds base model files by manifest ID when the target an
// applied patch names does not match.
//
// The Scanner walks the configured search roots and fingerprints each model
// file it finds. Manifest IDs are cached in a JSON file keyed by path, size
// and modification time, so repeated scans only parse files that changed:
//
//	[locator]
//	search_roots = ["~/Projects/Avatars"]
//	extensions = [".fbx"]
//	manifest_cache_path = "~/.cache/meshpatch/manifests.json"
//
// When the scan finds nothing, an optional Prompter asks the user for a path.
package locate
