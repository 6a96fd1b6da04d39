package main

import (
	"github.com/spf13/cobra"
)

var projectDescription string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Create and list projects. A project owns artifacts, trace links and an
ordered list of versions.

Examples:
  rtm project create payments --description="Payment service"
  rtm project list`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.service.CreateProject(cmd.Context(), args[0], projectDescription)
	if err != nil {
		return err
	}
	return render(p)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.service.ListProjects(cmd.Context())
	if err != nil {
		return err
	}
	return render(&ProjectsResponseCLI{Projects: projects})
}
