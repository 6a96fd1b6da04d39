package main

import (
	"github.com/spf13/cobra"
)

var deltaSummaryOnly bool

var deltaCmd = &cobra.Command{
	Use:   "delta <baseline> <target>",
	Short: "Show what changed between two versions",
	Long: `Compares two versions of a project and lists the artifacts and trace links
that were added, modified or removed from baseline to target. Versions are
given as numbers, ids or "latest".

Examples:
  rtm delta -p payments 1.0.0 1.1.0
  rtm delta -p payments 1.0.0 latest --summary --format=json`,
	Args: cobra.ExactArgs(2),
	RunE: runDelta,
}

func init() {
	deltaCmd.Flags().BoolVar(&deltaSummaryOnly, "summary", false, "Only print the counts")
	rootCmd.AddCommand(deltaCmd)
}

func runDelta(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, baseline, err := a.version(ctx, projectRef, args[0])
	if err != nil {
		return err
	}
	_, target, err := a.version(ctx, projectRef, args[1])
	if err != nil {
		return err
	}

	delta, err := a.service.Delta(ctx, baseline.ID, target.ID)
	if err != nil {
		return err
	}

	resp := &DeltaResponseCLI{
		Project:  p.Name,
		Baseline: baseline.String(),
		Target:   target.String(),
		Summary:  delta.Summary(),
	}
	if !deltaSummaryOnly {
		resp.Delta = delta
	}
	return render(resp)
}
