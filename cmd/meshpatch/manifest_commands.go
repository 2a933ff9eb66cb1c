package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"meshpatch/internal/config"
	"meshpatch/internal/correspond"
	"meshpatch/internal/manifest"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "manifest <file>",
		Short: "Print the structural manifest of a model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			m, err := buildManifest(cfg, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, m)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest %s (%d nodes)\n", m.ID, len(m.Nodes))
			for _, line := range m.Describe() {
				fmt.Fprintf(out, "  %s\n", line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.AddCommand(newManifestDiffCommand(ctx))
	return cmd
}

func newManifestDiffCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <base> <modified>",
		Short: "Compare the node hierarchies of two model files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base, err := buildManifest(cfg, args[0])
			if err != nil {
				return err
			}
			modified, err := buildManifest(cfg, args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if base.ID == modified.ID {
				fmt.Fprintf(out, "Manifests are identical (%s)\n", base.ID)
				return nil
			}
			fmt.Fprintf(out, "--- %s (%s)\n+++ %s (%s)\n", args[0], base.ID, args[1], modified.ID)
			writeLineDiff(out, base.Describe(), modified.Describe(), shouldColorize(out))

			m := correspond.Align(base, modified, correspond.WithFuzzyThreshold(cfg.Matching.FuzzyThreshold))
			report := correspond.NewReport(m, base, modified, cfg.Matching.ConfidenceThreshold)
			fmt.Fprintf(out, "Correspondence: %s\n", report)
			return nil
		},
	}
}

func buildManifest(cfg *config.Config, path string) (*manifest.Manifest, error) {
	return manifest.BuildFile(path, manifest.WithPrecision(cfg.Matching.TransformPrecision))
}

// writeLineDiff prints a unified-style listing of two line sequences.
func writeLineDiff(out io.Writer, from, to []string, colorize bool) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(joinLines(from), joinLines(to))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	if colorize {
		added.EnableColor()
		removed.EnableColor()
	} else {
		added.DisableColor()
		removed.DisableColor()
	}
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				fmt.Fprintln(out, added.Sprint("+ "+line))
			case diffmatchpatch.DiffDelete:
				fmt.Fprintln(out, removed.Sprint("- "+line))
			default:
				fmt.Fprintln(out, "  "+line)
			}
		}
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
