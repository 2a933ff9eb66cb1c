// Package patchcodec encodes and applies binary deltas between two byte
// buffers.
//
// A patch is a fixed header (magic, version, SHA-256 of the base and of the
// result, both lengths, instruction counts) followed by a zlib-compressed
// stream of copy and insert instructions. The instructions come from a
// rolling-hash block matcher over the base. Decode refuses to run unless the
// supplied base hashes to the recorded value, and it verifies the result hash
// before returning, so a patch never yields wrong bytes.
package patchcodec
