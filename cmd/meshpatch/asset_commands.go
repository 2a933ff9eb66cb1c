package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meshpatch/internal/derived"
	"meshpatch/internal/identity"
	"meshpatch/internal/logging"
	"meshpatch/internal/store"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var hints store.UIHints
	var overrideRefs bool

	cmd := &cobra.Command{
		Use:   "build <base> <modified>",
		Short: "Record the edit from base to modified as a derived asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			req := derived.BuildRequest{
				BasePath:     args[0],
				ModifiedPath: args[1],
				UIHints:      hints,
			}
			if cmd.Flags().Changed("override-original-references") {
				req.Policy = identity.PolicyFor(overrideRefs)
			}
			asset, err := builder.Build(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Built derived asset %s (%s)\n", asset.ID, asset.UIHints.FriendlyName)
			fmt.Fprintf(out, "  Patch:       %s\n", humanize.Bytes(uint64(asset.PatchSize)))
			fmt.Fprintf(out, "  Policy:      %s\n", asset.Policy)
			fmt.Fprintf(out, "  Correspond:  %s\n", asset.Report)
			if asset.Report.Advisory {
				fmt.Fprintln(out, renderStatusLine("Correspondence", statusWarn,
					"advisory; applying will require confirmation", shouldColorize(out)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hints.FriendlyName, "name", "", "Display name (defaults to the modified file's name)")
	cmd.Flags().StringVar(&hints.Category, "category", "", "Display category")
	cmd.Flags().StringVar(&hints.Thumbnail, "thumbnail", "", "Thumbnail path or URL")
	cmd.Flags().BoolVar(&overrideRefs, "override-original-references", false, "Outputs take over the target's identity (preserve policy)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List derived assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			assets, err := builder.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				records := make([]store.Asset, 0, len(assets))
				for _, a := range assets {
					records = append(records, a.Asset)
				}
				return writeJSON(cmd, records)
			}

			out := cmd.OutOrStdout()
			if len(assets) == 0 {
				fmt.Fprintln(out, "No derived assets")
				return nil
			}
			rows := make([][]string, 0, len(assets))
			for _, a := range assets {
				rows = append(rows, []string{
					logging.ShortHash(a.ID),
					a.UIHints.FriendlyName,
					a.UIHints.Category,
					fmt.Sprintf("%.2f", a.Confidence()),
					string(a.Policy),
					humanize.Bytes(uint64(a.PatchSize)),
					humanize.Time(a.CreatedAt),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Name", "Category", "Confidence", "Policy", "Patch", "Created"},
				rows, 3, 5,
			))
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut, yamlOut bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a derived asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(jsonOut, yamlOut)
			if err != nil {
				return err
			}
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			asset, err := builder.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format != "text" {
				return writeStructured(cmd, format, asset.Asset)
			}

			states, err := ctx.store.ListStates(cmd.Context(), asset.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := renderSectionHeader(asset.UIHints.FriendlyName, colorize)
			lines = append(lines,
				fmt.Sprintf("ID:               %s", asset.ID),
				fmt.Sprintf("Category:         %s", valueOr(asset.UIHints.Category, "-")),
				fmt.Sprintf("Base manifest:    %s", asset.BaseManifestID),
				fmt.Sprintf("Derived manifest: %s", asset.DerivedManifestID),
				fmt.Sprintf("Patch:            %s (%s)", logging.ShortHash(asset.PatchHash), humanize.Bytes(uint64(asset.PatchSize))),
				fmt.Sprintf("Policy:           %s", asset.Policy),
				fmt.Sprintf("Identity:         %s", asset.DerivedIdentity),
				fmt.Sprintf("Correspondence:   %s", asset.Report),
				fmt.Sprintf("Applied:          %d time(s)", len(states)),
				fmt.Sprintf("Created:          %s", asset.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			)
			if asset.SourceBasePath != "" {
				lines = append(lines, fmt.Sprintf("Built from:       %s -> %s", asset.SourceBasePath, asset.SourceModifiedPath))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "Output as YAML")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a derived asset that is not applied anywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			asset, err := builder.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := builder.Delete(cmd.Context(), asset.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted derived asset %s (%s)\n", asset.ID, asset.UIHints.FriendlyName)
			return nil
		},
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a derived asset's metadata and patch for distribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			metaPath, err := builder.Export(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", metaPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Destination directory")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.derived.json>",
		Short: "Register an exported derived asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			asset, err := builder.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported derived asset %s (%s)\n", asset.ID, asset.UIHints.FriendlyName)
			return nil
		},
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
