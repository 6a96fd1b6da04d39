package main

import (
	"github.com/spf13/cobra"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/jobs"
)

var (
	jobsStatus []string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and cancel queued commit jobs",
	Long: `Commits submitted with 'rtm commit --async' are persisted as jobs and run by
'rtm worker'.

Examples:
  rtm jobs list --status=queued,running
  rtm jobs show 3f0c...
  rtm jobs cancel 3f0c...`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	jobsListCmd.Flags().StringSliceVar(&jobsStatus, "status", nil, "Filter by status (queued, running, completed, failed, cancelled)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := jobs.ListJobsOptions{Limit: jobsLimit}
	for _, s := range jobsStatus {
		status, ok := jobs.ParseJobStatus(s)
		if !ok {
			return rtmerrors.Newf(rtmerrors.InvalidArgument, "unknown job status %q", s)
		}
		opts.Status = append(opts.Status, status)
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if ref := flags.GetString("project"); ref != "" {
		p, err := a.project(ctx, ref)
		if err != nil {
			return err
		}
		opts.ProjectID = p.ID
	}

	resp, err := a.jobStore().ListJobs(ctx, opts)
	if err != nil {
		return err
	}
	return render(resp)
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.jobStore().GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return rtmerrors.Newf(rtmerrors.InvalidArgument, "job %s not found", args[0])
	}
	return render(job)
}

// runJobsCancel only reaches queued jobs; a running job belongs to a worker
// process and is cancelled by stopping that worker.
func runJobsCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.jobStore()
	cancelled, err := store.CancelQueued(ctx, args[0])
	if err != nil {
		return err
	}
	job, err := store.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return rtmerrors.Newf(rtmerrors.InvalidArgument, "job %s not found", args[0])
	}
	if !cancelled {
		if job.Status == jobs.JobRunning {
			return rtmerrors.Newf(rtmerrors.InvalidArgument, "job %s is running; stop the worker to interrupt it", job.ID)
		}
		return rtmerrors.Newf(rtmerrors.InvalidArgument, "job %s is already %s", job.ID, job.Status)
	}
	a.logger.Info("Cancelled job", "job_id", job.ID)
	return render(job)
}
