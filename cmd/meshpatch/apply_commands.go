package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meshpatch/internal/apply"
	"meshpatch/internal/identity"
	"meshpatch/internal/logging"
	"meshpatch/internal/store"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var req apply.Request
	var policy string
	var confidence float32
	var prompt bool

	cmd := &cobra.Command{
		Use:   "apply <id> <target>",
		Short: "Reconstruct a derived asset against a target base file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DerivedAssetID = args[0]
			req.TargetPath = args[1]
			if policy != "" {
				parsed, err := identity.ParsePolicy(policy)
				if err != nil {
					return err
				}
				req.Policy = parsed
			}
			if cmd.Flags().Changed("confidence") {
				if confidence < 0 || confidence > 1 {
					return fmt.Errorf("--confidence must be between 0 and 1")
				}
				req.ConfidenceOverride = &confidence
			}

			defer ctx.close()
			applicator, err := ctx.applicator(cmd, prompt)
			if err != nil {
				return err
			}
			res, err := applicator.Apply(cmd.Context(), req)
			if errors.Is(err, apply.ErrLowConfidence) && !req.Confirmed && isTerminal(cmd.InOrStdin()) {
				var confirmed bool
				confirmed, err = confirmLowConfidence(cmd, ctx.input(cmd), err)
				if err == nil && !confirmed {
					return errors.New("apply cancelled")
				}
				if err == nil {
					req.Confirmed = true
					res, err = applicator.Apply(cmd.Context(), req)
				}
			}
			if err != nil {
				return err
			}
			printApplyResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.OutputPath, "out", "o", "", "Output path (defaults to <target>.<asset-name><ext>, or the target itself under preserve)")
	cmd.Flags().StringVar(&policy, "policy", "", "Identity policy: preserve or rebind (defaults to the asset's)")
	cmd.Flags().Float32Var(&confidence, "confidence", 0, "Override the recorded correspondence confidence")
	cmd.Flags().StringVar(&req.CorrespondenceMapID, "map", "", "Correspondence map id (defaults to the asset's)")
	cmd.Flags().BoolVarP(&req.Confirmed, "yes", "y", false, "Apply even when the correspondence is advisory")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Ask for the base file when none is found")
	return cmd
}

func confirmLowConfidence(cmd *cobra.Command, in *bufio.Reader, cause error) (bool, error) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, renderStatusLine("Correspondence", statusWarn, cause.Error(), shouldColorize(out)))
	fmt.Fprint(out, "Apply anyway? [y/N] ")
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printApplyResult(cmd *cobra.Command, res *apply.Result) {
	out := cmd.OutOrStdout()
	st := res.State
	verb := "Applied"
	if res.Replaced {
		verb = "Re-applied"
	}
	fmt.Fprintf(out, "%s state %s -> %s\n", verb, st.ID, st.OutputPath)
	if res.BasePath != st.TargetPath {
		fmt.Fprintf(out, "  Base located at %s\n", res.BasePath)
	}
	fmt.Fprintf(out, "  Policy:     %s\n", st.Policy)
	fmt.Fprintf(out, "  Confidence: %.2f\n", st.Confidence)
	for _, o := range st.Outputs {
		fmt.Fprintf(out, "  Output:     %s (%s, identity %s)\n", o.Path, humanize.Bytes(uint64(o.Size)), valueOr(string(o.Identity), "-"))
	}
}

func newAppliedCommand(ctx *commandContext) *cobra.Command {
	appliedCmd := &cobra.Command{
		Use:   "applied",
		Short: "Manage applied patch states",
	}
	appliedCmd.AddCommand(newAppliedListCommand(ctx))
	appliedCmd.AddCommand(newAppliedToggleCommand(ctx, true))
	appliedCmd.AddCommand(newAppliedToggleCommand(ctx, false))
	appliedCmd.AddCommand(newAppliedRebuildCommand(ctx))
	appliedCmd.AddCommand(newAppliedRemoveCommand(ctx))
	return appliedCmd
}

func newAppliedListCommand(ctx *commandContext) *cobra.Command {
	var assetID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List applied states",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			builder, err := ctx.builder()
			if err != nil {
				return err
			}
			if assetID != "" {
				asset, err := builder.Get(cmd.Context(), assetID)
				if err != nil {
					return err
				}
				assetID = asset.ID
			}
			states, err := ctx.store.ListStates(cmd.Context(), assetID)
			if err != nil {
				return err
			}
			if jsonOut {
				if states == nil {
					states = []*store.State{}
				}
				return writeJSON(cmd, states)
			}

			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, "No applied states")
				return nil
			}
			names := map[string]string{}
			assets, err := builder.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range assets {
				names[a.ID] = a.UIHints.FriendlyName
			}
			rows := make([][]string, 0, len(states))
			for _, st := range states {
				rows = append(rows, []string{
					logging.ShortHash(st.ID),
					names[st.DerivedAssetID],
					st.OutputPath,
					yesNo(st.Enabled),
					string(st.Status),
					string(st.Policy),
					humanize.Time(st.UpdatedAt),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"State", "Asset", "Output", "Enabled", "Status", "Policy", "Updated"},
				rows,
			))
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Only states of this derived asset")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newAppliedToggleCommand(ctx *commandContext, enabled bool) *cobra.Command {
	use, short, verb := "enable <state>", "Enable an applied state", "Enabled"
	if !enabled {
		use, short, verb = "disable <state>", "Disable an applied state without deleting its outputs", "Disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			applicator, err := ctx.applicator(cmd, false)
			if err != nil {
				return err
			}
			st, err := applicator.Toggle(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s state %s (%s)\n", verb, st.ID, st.OutputPath)
			return nil
		},
	}
}

func newAppliedRebuildCommand(ctx *commandContext) *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:   "rebuild <state>",
		Short: "Re-apply a state with its stored inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			applicator, err := ctx.applicator(cmd, prompt)
			if err != nil {
				return err
			}
			res, err := applicator.Rebuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printApplyResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Ask for the base file when none is found")
	return cmd
}

func newAppliedRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <state>",
		Aliases: []string{"rm"},
		Short:   "Delete a state's outputs and restore prior identities",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			applicator, err := ctx.applicator(cmd, false)
			if err != nil {
				return err
			}
			st, err := applicator.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := applicator.Remove(cmd.Context(), st.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed state %s (%d output(s))\n", st.ID, len(st.Outputs))
			return nil
		},
	}
}
