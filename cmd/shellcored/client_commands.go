package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskwright/shellcore/pkg/client"
)

func apiClient(globalFlags *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: globalFlags.APIUrl})
}

func requireDaemon(ctx context.Context, c *client.Client, apiURL string) error {
	if !c.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'shellcored serve'", apiURL)
	}
	return nil
}

func createExecCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Execute an allow-listed command through the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := apiClient(globalFlags)
			if err := requireDaemon(ctx, c, globalFlags.APIUrl); err != nil {
				return err
			}
			id, err := c.Execute(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func createCancelCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running process by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := apiClient(globalFlags)
			if err := requireDaemon(ctx, c, globalFlags.APIUrl); err != nil {
				return err
			}
			if err := c.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the record for a process id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := apiClient(globalFlags)
			if err := requireDaemon(ctx, c, globalFlags.APIUrl); err != nil {
				return err
			}
			view, err := c.Status(ctx, args[0])
			if err != nil {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func createListCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tracked processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := apiClient(globalFlags)
			if err := requireDaemon(ctx, c, globalFlags.APIUrl); err != nil {
				return err
			}
			views, err := c.List(ctx)
			if err != nil {
				return err
			}
			for _, v := range views {
				printView(v)
			}
			return nil
		},
	}
}

func printView(v client.ProcessView) {
	line := fmt.Sprintf("%s  %-10s %s", v.ID, v.Status, v.Command)
	if v.ExitCode != nil {
		line += fmt.Sprintf("  exit=%d", *v.ExitCode)
	}
	fmt.Println(line)
}
