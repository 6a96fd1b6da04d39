package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rtm/internal/storage"
	"rtm/internal/version"
)

var (
	// flags bound to RTM_ROOT, RTM_FORMAT and RTM_PROJECT
	flags = viper.New()

	verbosity int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "rtm",
	Short: "rtm - versioned requirements traceability store",
	Long: `rtm keeps artifacts (requirements, designs, code, tests) and the trace links
between them under version control. Every commit targets a project version;
any version can be reconstructed, compared with another, and summarized as a
trace matrix.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(version.Full(storage.CurrentSchemaVersion) + "\n")

	pf := rootCmd.PersistentFlags()
	pf.String("root", "", "Workspace directory holding .rtm/ (default: current directory)")
	pf.String("format", string(FormatHuman), "Output format (json, human)")
	pf.StringP("project", "p", "", "Project name or id")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all logs")

	for _, name := range []string{"root", "format", "project"} {
		_ = flags.BindPFlag(name, pf.Lookup(name))
	}
	flags.SetEnvPrefix("RTM")
	flags.AutomaticEnv()
}

// outputFormat returns the validated --format value.
func outputFormat() (OutputFormat, error) {
	switch f := OutputFormat(flags.GetString("format")); f {
	case FormatJSON, FormatHuman:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or human)", f)
	}
}

// projectFlag returns --project or an error naming the command.
func projectFlag(cmd *cobra.Command) (string, error) {
	ref := flags.GetString("project")
	if ref == "" {
		return "", fmt.Errorf("%s requires --project", cmd.CommandPath())
	}
	return ref, nil
}
