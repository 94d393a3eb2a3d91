// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/postgres"
	"github.com/medauth/medauth/internal/store"
)

// EnvAdminPassword supplies the bootstrap password without a prompt.
const EnvAdminPassword = "MEDAUTH_ADMIN_PASSWORD"

type adminInput struct {
	Email         string
	Username      string
	FirstName     string
	LastName      string
	Password      string
	RequireChange bool
}

// NewBootstrapAdminCmd creates the bootstrap-admin subcommand.
func NewBootstrapAdminCmd() *cobra.Command {
	var in adminInput
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first administrator account",
		Long: `Create an administrator in the PostgreSQL database named by DATABASE_URL.

The password is read from MEDAUTH_ADMIN_PASSWORD or, when that is unset,
from the first line of standard input. It must satisfy the password policy.
Running the command again once the account exists changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), EnvAdminPassword)
			if err != nil {
				return err
			}
			in.Password = password

			url, err := getDatabaseURL()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := store.Open(ctx, url, store.OpenOptions{})
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
			}
			defer pool.Close()

			users, patients, doctors, _, _ := postgres.Repositories(pool)
			creds, err := auth.NewCredentialStore(auth.StoreDeps{
				Users:    users,
				Patients: patients,
				Doctors:  doctors,
				Tx:       postgres.NewTransactor(pool),
				Hasher:   auth.NewArgon2idHasher(),
			})
			if err != nil {
				return err
			}
			return bootstrapAdmin(ctx, creds, in, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "administrator email address")
	cmd.Flags().StringVar(&in.Username, "username", "admin", "administrator username")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "System", "administrator first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "Administrator", "administrator last name")
	cmd.Flags().BoolVar(&in.RequireChange, "require-password-change", true, "force a password change at first login")
	_ = cmd.MarkFlagRequired("email") //nolint:errcheck // flag is defined above

	return cmd
}

// bootstrapAdmin creates the administrator. An existing account with the
// same email or username is reported and left untouched.
func bootstrapAdmin(ctx context.Context, creds *auth.CredentialStore, in adminInput, out io.Writer) error {
	u, err := creds.Create(ctx, auth.NewUser{
		Email:                  in.Email,
		Username:               in.Username,
		FirstName:              in.FirstName,
		LastName:               in.LastName,
		Role:                   auth.RoleAdmin,
		Password:               in.Password,
		PasswordChangeRequired: in.RequireChange,
	})
	if errors.Is(err, auth.ErrConflict) {
		fmt.Fprintf(out, "An account named %q or %q already exists; nothing to do\n", in.Username, in.Email)
		return nil
	}
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintln(out, verr.Message+":")
		for _, v := range verr.Violations {
			fmt.Fprintf(out, "  - %s\n", v)
		}
		return err
	}
	if err != nil {
		return oops.Code("BOOTSTRAP_ADMIN_FAILED").Wrap(err)
	}

	fmt.Fprintf(out, "Created administrator %s (id %d)\n", u.Username, u.ID)
	if u.PasswordChangeRequired {
		fmt.Fprintln(out, "The password must be changed at first login")
	}
	return nil
}

// readSecret returns the env variable when env names one that is set,
// otherwise the first line of r.
func readSecret(r io.Reader, env string) (string, error) {
	if env != "" {
		if v := getenv(env); v != "" {
			return v, nil
		}
	}
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", oops.Code("SECRET_READ_FAILED").Wrap(err)
		}
		if env == "" {
			return "", oops.Code("SECRET_MISSING").Errorf("no password given on stdin")
		}
		return "", oops.Code("SECRET_MISSING").Errorf("no password given: set %s or pipe it on stdin", env)
	}
	secret := strings.TrimRight(sc.Text(), "\r")
	if secret == "" {
		return "", oops.Code("SECRET_MISSING").Errorf("empty password")
	}
	return secret, nil
}
