package main

import (
	"github.com/spf13/cobra"

	"rtm/internal/model"
)

var matrixVersion string

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Inspect the trace matrix of a version",
	Long: `The trace matrix counts, per pair of artifact types, how many live trace
links run from the source type to the target type and how many of them were
generated or approved. It is maintained by every commit.

Examples:
  rtm matrix list -p payments --version=1.1.0
  rtm matrix get requirement test -p payments
  rtm matrix verify -p payments --version=1.0.0
  rtm matrix rebuild -p payments --version=1.0.0`,
}

var matrixGetCmd = &cobra.Command{
	Use:   "get <source-type> <target-type>",
	Short: "Show one trace matrix cell",
	Args:  cobra.ExactArgs(2),
	RunE:  runMatrixGet,
}

var matrixListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the non-empty trace matrix cells",
	Args:  cobra.NoArgs,
	RunE:  runMatrixList,
}

var matrixVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the stored cells with a recomputation from the log",
	Args:  cobra.NoArgs,
	RunE:  runMatrixVerify,
}

var matrixRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Replace the stored cells with a recomputation from the log",
	Args:  cobra.NoArgs,
	RunE:  runMatrixRebuild,
}

func init() {
	matrixCmd.PersistentFlags().StringVar(&matrixVersion, "version", "latest", "Version (number, id or latest)")

	matrixCmd.AddCommand(matrixGetCmd)
	matrixCmd.AddCommand(matrixListCmd)
	matrixCmd.AddCommand(matrixVerifyCmd)
	matrixCmd.AddCommand(matrixRebuildCmd)
	rootCmd.AddCommand(matrixCmd)
}

// withMatrixVersion opens the app and resolves --project and --version.
func withMatrixVersion(cmd *cobra.Command, fn func(a *app, p *model.Project, v *model.ProjectVersion) error) error {
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, v, err := a.version(cmd.Context(), projectRef, matrixVersion)
	if err != nil {
		return err
	}
	return fn(a, p, v)
}

func runMatrixGet(cmd *cobra.Command, args []string) error {
	return withMatrixVersion(cmd, func(a *app, p *model.Project, v *model.ProjectVersion) error {
		counts, err := a.service.GetAggregate(cmd.Context(), v.ID, args[0], args[1])
		if err != nil {
			return err
		}
		entry := model.MatrixEntry{
			VersionID:    v.ID,
			TypePair:     model.TypePair{SourceType: args[0], TargetType: args[1]},
			MatrixCounts: counts,
		}
		return render(&MatrixResponseCLI{Project: p.Name, Version: v.String(), Entries: []model.MatrixEntry{entry}})
	})
}

func runMatrixList(cmd *cobra.Command, args []string) error {
	return withMatrixVersion(cmd, func(a *app, p *model.Project, v *model.ProjectVersion) error {
		entries, err := a.service.ListAggregates(cmd.Context(), v.ID)
		if err != nil {
			return err
		}
		return render(&MatrixResponseCLI{Project: p.Name, Version: v.String(), Entries: entries})
	})
}

func runMatrixVerify(cmd *cobra.Command, args []string) error {
	return withMatrixVersion(cmd, func(a *app, p *model.Project, v *model.ProjectVersion) error {
		mismatches, err := a.service.VerifyAggregates(cmd.Context(), v.ID)
		if err != nil {
			return err
		}
		return render(&MatrixVerifyResponseCLI{
			Project:    p.Name,
			Version:    v.String(),
			Consistent: len(mismatches) == 0,
			Mismatches: mismatches,
		})
	})
}

func runMatrixRebuild(cmd *cobra.Command, args []string) error {
	return withMatrixVersion(cmd, func(a *app, p *model.Project, v *model.ProjectVersion) error {
		entries, err := a.service.RebuildAggregates(cmd.Context(), v.ID)
		if err != nil {
			return err
		}
		a.logger.Info("Rebuilt trace matrix", "version", v.String(), "cells", len(entries))
		return render(&MatrixResponseCLI{Project: p.Name, Version: v.String(), Entries: entries, Rebuilt: true})
	})
}
