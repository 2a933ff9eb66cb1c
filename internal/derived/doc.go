// Package derived builds and distributes derived assets: a binary patch from
// a base model to a modified model together with the structural
// correspondence between them.
//
// Builder.Build is the author-side entry point. Patch bytes go to the
// content-addressed blob store, metadata to the SQLite store; a failed
// metadata insert removes a newly written blob. Export and Import move a
// derived asset between machines as a JSON metadata file plus its patch.
package derived
