package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rtm/internal/manifest"
	"rtm/internal/versioning"
)

var (
	snapshotVersion string
	snapshotFull    bool
	snapshotExport  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Reconstruct a project as of a version",
	Long: `Reconstructs the artifacts and trace links of a project as they were at a
version and prints their statistics and content digest. Two versions with the
same digest hold the same state.

--export writes the state as a complete-set manifest that 'rtm commit' can
replay into another version.

Examples:
  rtm snapshot -p payments --version=1.1.0
  rtm snapshot -p payments --version=latest --full --format=json
  rtm snapshot -p payments --version=1.1.0 --export=baseline.yaml`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

var historyCmd = &cobra.Command{
	Use:   "history <artifact-id>",
	Short: "List every recorded change of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotVersion, "version", "latest", "Version (number, id or latest)")
	snapshotCmd.Flags().BoolVar(&snapshotFull, "full", false, "Include every artifact and trace link")
	snapshotCmd.Flags().StringVar(&snapshotExport, "export", "", "Write the state as a manifest (.yaml, .toml, .json)")
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(historyCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
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

	p, v, err := a.version(ctx, projectRef, snapshotVersion)
	if err != nil {
		return err
	}
	snapshot, err := a.service.ResolveProjectAt(ctx, v.ID)
	if err != nil {
		return err
	}

	resp := &SnapshotResponseCLI{
		Project: p.Name,
		Version: v.String(),
		Digest:  versioning.Digest(snapshot),
		Stats:   versioning.Stats(snapshot),
	}
	if snapshotFull {
		resp.Snapshot = snapshot
	}

	if snapshotExport != "" {
		format, err := manifest.FormatFromPath(snapshotExport)
		if err != nil {
			return err
		}
		f, err := os.Create(snapshotExport)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		encodeErr := manifest.FromSnapshot(snapshot).Encode(f, format)
		if err := f.Close(); err != nil && encodeErr == nil {
			encodeErr = err
		}
		if encodeErr != nil {
			return encodeErr
		}
		resp.Exported = snapshotExport
		a.logger.Info("Exported snapshot", "version", v.String(), "path", snapshotExport)
	}
	return render(resp)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.service.History(ctx, args[0])
	if err != nil {
		return err
	}

	resp := &HistoryResponseCLI{BaseID: args[0], Versions: make([]HistoryEntryCLI, 0, len(rows))}
	for _, row := range rows {
		label := row.VersionID
		if v, err := a.service.FindVersion(ctx, row.ProjectID, row.VersionID); err == nil {
			label = v.String()
		}
		resp.Versions = append(resp.Versions, HistoryEntryCLI{
			Version:      label,
			Modification: row.Kind,
			Content:      row.Content,
		})
	}
	return render(resp)
}
