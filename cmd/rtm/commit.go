package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/jobs"
	"rtm/internal/manifest"
)

var (
	commitFile         string
	commitVersion      string
	commitMode         string
	commitAllOrNothing bool
	commitAsync        bool
	commitWait         time.Duration
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit artifacts and trace links to a version",
	Long: `Commits the artifacts and trace links of a manifest file (YAML, TOML or
JSON) to a project version. Entities that fail validation are reported and
skipped unless --all-or-nothing is set, in which case nothing is written.

With --async the commit is queued and executed by 'rtm worker'.

Examples:
  rtm commit -p payments --version=1.2.0 --file=release.yaml
  rtm commit -p payments --file=export.toml --mode=complete-set
  rtm commit -p payments --version=latest --file=links.json --async --wait=30s`,
	Args: cobra.NoArgs,
	RunE: runCommit,
}

func init() {
	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "Manifest file (.yaml, .yml, .toml, .json)")
	commitCmd.Flags().StringVar(&commitVersion, "version", "", "Target version (number, id or latest); overrides the manifest")
	commitCmd.Flags().StringVar(&commitMode, "mode", "", "Commit mode (incremental, complete-set); overrides the manifest")
	commitCmd.Flags().BoolVar(&commitAllOrNothing, "all-or-nothing", false, "Reject the whole commit if any entity fails")
	commitCmd.Flags().BoolVar(&commitAsync, "async", false, "Queue the commit for a worker")
	commitCmd.Flags().DurationVar(&commitWait, "wait", 0, "With --async, wait up to this long for the job to finish")
	_ = commitCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}

	m, err := manifest.Load(commitFile)
	if err != nil {
		return rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid manifest", err)
	}
	if cmd.Flags().Changed("version") {
		m.Version = commitVersion
	}
	if cmd.Flags().Changed("mode") {
		m.Mode = commitMode
	}
	if cmd.Flags().Changed("all-or-nothing") {
		m.AllOrNothing = &commitAllOrNothing
	}
	if m.Version == "" {
		return rtmerrors.New(rtmerrors.InvalidArgument, "no target version: set --version or 'version' in the manifest")
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, v, err := a.version(ctx, projectRef, m.Version)
	if err != nil {
		return err
	}
	req, err := m.Request(v.ID, a.cfg.Commit.AllOrNothing)
	if err != nil {
		return err
	}

	if commitAsync {
		store := a.jobStore()
		job := jobs.NewJob(p.ID, req)
		if err := store.CreateJob(ctx, job); err != nil {
			return err
		}
		a.logger.Info("Queued commit job", "job_id", job.ID, "version", v.String())

		if commitWait > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, commitWait)
			defer cancel()
			if job, err = store.Wait(waitCtx, job.ID, 250*time.Millisecond); err != nil && job == nil {
				return err
			}
		}
		resp := &CommitResponseCLI{Project: p.Name, Version: v.String(), JobID: job.ID, Status: string(job.Status), Result: job.Result}
		if err := render(resp); err != nil {
			return err
		}
		if job.Status == jobs.JobFailed {
			return fmt.Errorf("commit job failed: %s", job.Error)
		}
		return nil
	}

	result, commitErr := a.service.Commit(ctx, req)
	if commitErr != nil && !rtmerrors.Is(commitErr, rtmerrors.CommitRejected) {
		return commitErr
	}

	status := "committed"
	switch {
	case commitErr != nil:
		status = "rejected"
	case result.HasErrors():
		status = "partially committed"
	}
	if err := render(&CommitResponseCLI{Project: p.Name, Version: v.String(), Status: status, Result: result}); err != nil {
		return err
	}
	return commitErr
}
