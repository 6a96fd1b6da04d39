package main

import (
	"github.com/spf13/cobra"

	"rtm/internal/model"
)

var versionIncrement string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage project versions",
	Long: `Create and list the versions of a project. Versions are ordered by
major.minor.revision; a new version starts from the state of its predecessor.

Examples:
  rtm version create 1.0.0 -p payments
  rtm version next --increment=minor -p payments
  rtm version list -p payments`,
}

var versionCreateCmd = &cobra.Command{
	Use:   "create <major.minor.revision>",
	Short: "Create a version with an explicit number",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionCreate,
}

var versionNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Create the version following the latest one",
	Args:  cobra.NoArgs,
	RunE:  runVersionNext,
}

var versionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the versions of a project",
	Args:  cobra.NoArgs,
	RunE:  runVersionList,
}

func init() {
	versionNextCmd.Flags().StringVar(&versionIncrement, "increment", "revision", "Component to bump (major, minor, revision)")

	versionCmd.AddCommand(versionCreateCmd)
	versionCmd.AddCommand(versionNextCmd)
	versionCmd.AddCommand(versionListCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersionCreate(cmd *cobra.Command, args []string) error {
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	major, minor, revision, err := model.ParseVersionTriple(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(cmd.Context(), projectRef)
	if err != nil {
		return err
	}
	v, err := a.service.CreateVersion(cmd.Context(), p.ID, major, minor, revision)
	if err != nil {
		return err
	}
	return render(v)
}

func runVersionNext(cmd *cobra.Command, args []string) error {
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	inc, err := model.ParseVersionIncrement(versionIncrement)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(cmd.Context(), projectRef)
	if err != nil {
		return err
	}
	v, err := a.service.NextVersion(cmd.Context(), p.ID, inc)
	if err != nil {
		return err
	}
	return render(v)
}

func runVersionList(cmd *cobra.Command, args []string) error {
	projectRef, err := projectFlag(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.project(cmd.Context(), projectRef)
	if err != nil {
		return err
	}
	versions, err := a.service.ListVersions(cmd.Context(), p.ID)
	if err != nil {
		return err
	}
	return render(&VersionsResponseCLI{Project: p.Name, Versions: versions})
}
