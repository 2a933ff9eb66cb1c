package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meshpatch/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the locator's manifest cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached manifest ids by path",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, err := ctx.scanner()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cache := scanner.Cache()
			if cache.Count() == 0 {
				fmt.Fprintln(out, "Manifest cache is empty")
				return nil
			}
			entries := cache.List()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Path,
					valueOr(logging.ShortHash(e.ManifestID), "(not a model)"),
					humanize.Bytes(uint64(e.Size)),
					humanize.Time(e.CachedAt),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Path", "Manifest", "Size", "Cached"},
				rows, 2,
			))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget all cached manifest ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, err := ctx.scanner()
			if err != nil {
				return err
			}
			cache := scanner.Cache()
			count := cache.Count()
			if err := cache.Clear(); err != nil {
				return fmt.Errorf("clear manifest cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache entries\n", count)
			return nil
		},
	}
}
