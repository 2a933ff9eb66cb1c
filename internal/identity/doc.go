// Package identity repairs the identity references of reconstructed files.
//
// An identity Ref is an opaque token the surrounding asset host uses to
// resolve "this logical asset" independent of its path (a GUID in a .meta
// sidecar for Unity-style hosts). After the applicator writes an output, the
// Repairer either carries the target's identity over to it (preserve) or
// binds the derived asset's identity to it (rebind). Every repair records the
// output's prior identity so Revert can restore it, and a Tracker guards
// against taking over an identity another tracked asset already owns.
package identity
