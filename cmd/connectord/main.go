// Command connectord runs a single connector node (§4.8), the same
// cobra root-command-with-subcommands shape as the teacher's
// cmd/synnergy/main.go (testnetCmd/tokensCmd).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/core/node"
	"github.com/agent-fabric/connector/internal/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags, matching the teacher's
// cmd/xchainserver convention of an unset-by-default dev build string.
var version = "dev"

func main() {
	root := &cobra.Command{Use: "connectord"}
	root.AddCommand(startCmd())
	root.AddCommand(validateConfigCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configPath, env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the connector node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, env)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config/default.yaml", "path to the base NodeConfig YAML file")
	cmd.Flags().StringVar(&env, "env", "", "environment overlay to merge (empty merges no overlay)")
	return cmd
}

func runStart(configPath, env string) error {
	cfg, err := config.Load(configPath, env)
	if err != nil {
		return fmt.Errorf("connectord: load config: %w", err)
	}

	if res := config.Validate(cfg); !res.OK() {
		for _, e := range res.Errors {
			log.For("connectord").WithField("field", e.Field).Error(e.Message)
		}
		return fmt.Errorf("connectord: %d fatal configuration error(s), refusing to start", len(res.Errors))
	} else {
		for _, w := range res.Warnings {
			log.For("connectord").WithField("field", w.Field).Warn(w.Message)
		}
	}

	orch, err := node.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("connectord: construct node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("connectord: start node: %w", err)
	}

	<-ctx.Done()
	log.For("connectord").Info("shutdown signal received, draining")

	grace := time.Duration(cfg.DrainTimeoutMs) * time.Millisecond
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return orch.Stop(shutdownCtx)
}

func validateConfigCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "validate-config [path]",
		Short: "validate a NodeConfig file against §6.6 without starting the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0], env)
			if err != nil {
				return fmt.Errorf("connectord: load config: %w", err)
			}
			res := config.Validate(cfg)
			for _, w := range res.Warnings {
				fmt.Printf("warning: %s: %s\n", w.Field, w.Message)
			}
			for _, e := range res.Errors {
				fmt.Printf("error: %s: %s\n", e.Field, e.Message)
			}
			if !res.OK() {
				return fmt.Errorf("connectord: %d fatal configuration error(s)", len(res.Errors))
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay to merge (empty merges no overlay)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the connectord build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
