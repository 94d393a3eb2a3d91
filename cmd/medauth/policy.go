// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medauth/medauth/internal/policy"
)

// NewPolicyCmd creates the policy subcommand.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the password policy",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyCheckCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the password requirements",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("Passwords must meet every requirement:")
			for _, r := range policy.Rules() {
				cmd.Printf("  - %s [%s]\n", r.Requirement, r.Code)
			}
		},
	}
}

func newPolicyCheckCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Score a password read from stdin",
		Long: `Read a password from the first line of standard input and report its
strength and any unmet requirements. The command fails when the password
would be rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), "")
			if err != nil {
				return err
			}
			res := policy.Evaluate(password, username)

			cmd.Printf("Strength: %s (score %d)\n", res.Label, res.Score)
			for _, v := range res.Violations {
				cmd.Printf("  - %s\n", v)
			}
			for _, w := range res.Warnings {
				cmd.Printf("  ! %s\n", w)
			}
			if !res.Valid() {
				return oops.Code("PASSWORD_POLICY_VIOLATION").
					With("violations", len(res.Violations)).
					Errorf("password does not meet the policy")
			}
			cmd.Println("Password meets the policy")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "warn when the password contains this username")
	return cmd
}
