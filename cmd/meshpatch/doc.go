// Package main hosts the meshpatch CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls on
// the derived-asset builder, the applicator, and the locator. It centralizes
// configuration resolution, logger setup, and exit-code mapping so commands
// can focus on presentation.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
