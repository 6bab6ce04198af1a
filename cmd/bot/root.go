package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookbot/internal/app"
	"bookbot/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "bookbot",
		Short:         "Telegram bot that searches Open Library",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFlag)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (json, yaml or toml)")

	rootCmd.AddCommand(newCheckConfigCommand(&configFlag))
	return rootCmd
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func newCheckConfigCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective log sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(*configFlag).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			lc := cfg.Logging.Logx()
			fmt.Fprintf(out, "config ok (lock file %s)\n", cfg.LockPath())
			fmt.Fprintf(out, "console: enabled=%t format=%s\n", lc.Console.Enabled, lc.Console.Format)
			for _, f := range lc.Files {
				level := f.Level
				if level == "" {
					level = lc.Level
				}
				fmt.Fprintf(out, "file %s: path=%s level=%s rotate=%s backups=%d filter=%q\n",
					f.Name, f.Path, strings.ToLower(level), f.Rotate, f.Backups, f.Filter)
			}
			fmt.Fprintf(out, "alert: enabled=%t webhook_set=%t match=%q\n",
				lc.Alert.Enabled, strings.TrimSpace(lc.Alert.WebhookURL) != "", lc.Alert.Match)
			return nil
		},
	}
}
