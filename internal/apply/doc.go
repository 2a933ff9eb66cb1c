// Package apply reconstructs derived files on the consumer side and manages
// the lifecycle of each application.
//
// Apply locates a base whose manifest matches the derived asset (the target
// itself, a corpus candidate, or a file the user names), decodes the patch,
// writes the output, repairs its identity and records an applied state. The
// operation is all-or-nothing: any failure after the output is written
// restores the previous file and identity.
//
// Toggle, Rebuild and Remove drive the state afterwards. Toggle never runs
// the codec; Rebuild keeps the previous outputs when it fails.
package apply
