package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "shellcored",
		Short: "Process-orchestration daemon for the Deskwright desktop shell",
		Long: `shellcored supervises the external CLI commands the desktop UI is allowed
to run, bootstraps the backend and tool-service sidecars, and exposes the
supervisor over a local HTTP/websocket bridge.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to config.toml")
	root.PersistentFlags().StringVar(&globalFlags.APIUrl, "api-url", "http://127.0.0.1:8370/api", "bridge API base URL")

	root.AddCommand(
		createServeCommand(globalFlags),
		createExecCommand(globalFlags),
		createCancelCommand(globalFlags),
		createStatusCommand(globalFlags),
		createListCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the shellcored version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("shellcored", version)
		},
	}
}
