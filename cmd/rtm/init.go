package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rtm/internal/config"
	"rtm/internal/storage"
)

var (
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an rtm workspace",
	Long: `Creates a .rtm/ directory with a default config.toml and an empty database
in the workspace root.

Examples:
  rtm init
  rtm init --root=/srv/traceability
  rtm init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config.toml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	configPath := filepath.Join(root, config.DirName, "config.toml")
	if _, statErr := os.Stat(configPath); statErr == nil && !initForce {
		// Already initialized is success
		fmt.Println("rtm already initialized.")
		fmt.Printf("Configuration at: %s\n", configPath)
		fmt.Println("\nRun 'rtm init --force' to rewrite the default configuration.")
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	schema, err := a.db.SchemaVersion(cmd.Context())
	if err != nil {
		return err
	}
	a.logger.Info("Initialized workspace", "root", root, "schema", schema)

	fmt.Printf("Initialized rtm workspace in %s\n", filepath.Join(root, config.DirName))
	fmt.Printf("Database: %s (schema v%d of v%d)\n", a.db.Path(), schema, storage.CurrentSchemaVersion)
	return nil
}
