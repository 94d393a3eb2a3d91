// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the MedAuth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medauth",
		Short: "MedAuth - identity and session service for hospital staff and patients",
		Long: `MedAuth authenticates hospital staff and patients, issues access and
refresh tokens, tracks login sessions, and enforces the password policy.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/medauth/config.yaml)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewBootstrapAdminCmd())
	cmd.AddCommand(NewPolicyCmd())

	return cmd
}
