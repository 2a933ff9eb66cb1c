// Package preflight provides readiness checks for the filesystem paths and
// stores meshpatch depends on.
//
// The CLI "meshpatch doctor" command runs RunAll and TakeInventory. Each
// directory check verifies existence and access with access(2) so permission
// problems surface before a build or apply fails halfway.
package preflight
