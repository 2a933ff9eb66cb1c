package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meshpatch/internal/blobstore"
	"meshpatch/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the metadata store, and blob consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			lines := renderSectionHeader("Preflight", colorize)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if !preflight.AllPassed(results) {
				return errors.New("preflight checks failed")
			}

			defer ctx.close()
			st, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			inv, err := preflight.TakeInventory(cmd.Context(), st, blobstore.New(cfg.BlobDir(), nil))
			if err != nil {
				return fmt.Errorf("inventory: %w", err)
			}

			lines = append([]string{""}, renderSectionHeader("Inventory", colorize)...)
			lines = append(lines,
				renderStatusLine("Derived assets", statusInfo, fmt.Sprintf("%d", inv.Assets), colorize),
				renderStatusLine("Applied states", statusInfo, fmt.Sprintf("%d (%d disabled)", inv.States, inv.DisabledStates), colorize),
				renderStatusLine("Patch blobs", statusInfo, fmt.Sprintf("%d (%s)", inv.Blobs, humanize.Bytes(uint64(inv.BlobBytes))), colorize),
			)
			for _, id := range inv.MissingBlobs {
				lines = append(lines, renderStatusLine("Missing patch", statusError, "asset "+id, colorize))
			}
			for _, hash := range inv.OrphanBlobs {
				lines = append(lines, renderStatusLine("Orphan patch", statusWarn, hash, colorize))
			}
			for _, path := range inv.MissingOutputs {
				lines = append(lines, renderStatusLine("Missing output", statusWarn, path+" (run applied rebuild)", colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if len(inv.MissingBlobs) > 0 {
				return errors.New("derived assets are missing their patch payloads")
			}
			return nil
		},
	}
}
