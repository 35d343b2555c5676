// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/lanconnect/lanconnect/internal/config"
	"github.com/lanconnect/lanconnect/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the LAN Connect CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lanconnect",
		Short: "LAN Connect API server",
		Long: `LAN Connect serves the account, session and payment API used by the
LAN Connect frontend.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/lanconnect/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("lanconnect %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}

// loadConfig reads the configuration for cmd, applying its changed flags.
// Without --config it falls back to the XDG config file when one exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.ConfigFile()
	}
	return config.Load(path, cmd.Flags()) //nolint:wrapcheck // config errors carry oops codes
}
