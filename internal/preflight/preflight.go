package preflight

import (
	"context"
	"fmt"

	"meshpatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config. The data and
// blob directories must be writable; search roots only need to be readable.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckConfig(cfg),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Blob directory", cfg.BlobDir()),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	for i, root := range cfg.Locator.SearchRoots {
		results = append(results, CheckDirectoryReadable(fmt.Sprintf("Search root %d", i+1), root))
	}
	if cfg.Locator.ManifestCachePath != "" {
		results = append(results, CheckParentWritable("Manifest cache", cfg.Locator.ManifestCachePath))
	}
	results = append(results, CheckDatabase(ctx, cfg))
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
