// Package store persists derived asset metadata, applied patch states, and
// identity bindings in SQLite.
//
// Patch payloads are not stored here; rows reference them by content hash in
// the blob store, so listing assets never touches patch bytes. The schema is
// embedded from schema.sql and guarded by a schema_version row: a database
// written by a different version is rejected with ErrSchemaMismatch rather
// than migrated. Writes retry on SQLITE_BUSY with bounded backoff.
package store
