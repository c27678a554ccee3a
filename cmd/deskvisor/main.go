package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "deskvisor",
		Short: "Desktop shell that supervises a local backend service",
		Long: `Deskvisor starts a bundled backend service on a free loopback port,
shows a placeholder window until the service answers, then loads it. The
service and all of its children are stopped when the window closes, on
SIGINT/SIGTERM, or when the shell is torn down.

Examples:
  deskvisor run --config deskvisor.toml
  deskvisor run --binary ./server
  deskvisor run --dev                 # backend started by hand on dev_url
  deskvisor status`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.StateDir, "state-dir", "", "run-state directory (default: user cache dir)")
	return root
}

func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the service and the window, block until closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), *globalFlags, *runFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&runFlags.Dev, "dev", false, "development mode: do not spawn, use dev_url")
	cmd.Flags().StringVar(&runFlags.Binary, "binary", "", "service binary (overrides service.binary)")
	cmd.Flags().BoolVar(&runFlags.NoBrowser, "no-browser", false, "do not open the placeholder in a browser")
	cmd.Flags().StringVar(&runFlags.OpsListen, "ops-listen", "", "ops endpoint address (overrides ops.listen)")
	return cmd
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running instance recorded in the state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(*globalFlags, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
