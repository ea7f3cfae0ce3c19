package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func newRootCmd(e *env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "taskctl",
		Short:   "taskctl - terminal client for the task tracker",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&e.cfgEnv, "env", "", "Config environment (defaults to APP_ENV)")
	rootCmd.PersistentFlags().StringVar(&e.cfgDir, "config", "config", "Config directory")
	rootCmd.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(loginCmd(e))
	rootCmd.AddCommand(signupCmd(e))
	rootCmd.AddCommand(logoutCmd(e))
	rootCmd.AddCommand(whoamiCmd(e))
	rootCmd.AddCommand(tasksCmd(e))
	rootCmd.AddCommand(notificationsCmd(e))
	rootCmd.AddCommand(membersCmd(e))
	rootCmd.AddCommand(watchCmd(e))

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&env{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
