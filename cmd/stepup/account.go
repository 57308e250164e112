// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/postgres"
	"github.com/holomush/stepup/internal/store"
)

// Default timeout for account commands.
const defaultAccountTimeout = 30 * time.Second

// AccountDeps contains injectable dependencies for the account commands.
type AccountDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.ConnectConfig) (Pool, error)

	// Hasher hashes account secrets.
	// Default: auth.NewArgon2idHasher
	Hasher auth.CredentialHasher
}

func (d *AccountDeps) withDefaults() *AccountDeps {
	out := &AccountDeps{}
	if d != nil {
		*out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = connectPool
	}
	if out.Hasher == nil {
		out.Hasher = auth.NewArgon2idHasher()
	}
	return out
}

// accountAddConfig holds flags for account add.
type accountAddConfig struct {
	subject string
	email   string
	name    string
	secret  string
	timeout time.Duration
}

// NewAccountCmd creates the account command.
func NewAccountCmd() *cobra.Command {
	return newAccountCmd(nil)
}

func newAccountCmd(deps *AccountDeps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts in the PostgreSQL store",
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cfg := &accountAddConfig{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account that can request passcodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAccountAdd(cmd, cfg, deps)
		},
	}
	add.Flags().StringVar(&cfg.subject, "subject", "", "account subject identifier")
	add.Flags().StringVar(&cfg.email, "email", "", "address passcodes are sent to")
	add.Flags().StringVar(&cfg.name, "name", "", "display name used in messages")
	add.Flags().StringVar(&cfg.secret, "secret", "", "account credential, stored as an argon2id hash")
	add.Flags().DurationVar(&cfg.timeout, "timeout", defaultAccountTimeout, "timeout for database operations")
	for _, name := range []string{"subject", "email", "secret"} {
		_ = add.MarkFlagRequired(name)
	}

	cmd.AddCommand(add)
	return cmd
}

func runAccountAdd(cmd *cobra.Command, cfg *accountAddConfig, deps *AccountDeps) error {
	databaseURL, err := databaseURLFrom(cmd)
	if err != nil {
		return err
	}

	hash, err := deps.Hasher.Hash(cfg.secret)
	if err != nil {
		return err
	}
	account, err := auth.NewAccount(cfg.subject, cfg.email, cfg.name, hash)
	if err != nil {
		return err
	}

	// cmd.Context() respects SIGINT/SIGTERM.
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	pool, err := deps.PoolFactory(ctx, store.ConnectConfig{DSN: databaseURL})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.NewAccountRepository(pool).Create(ctx, account); err != nil {
		if errors.Is(err, auth.ErrDuplicate) {
			return oops.Code("ACCOUNT_EXISTS").With("subject", account.Subject).Errorf("account %s already exists", account.Subject)
		}
		return err
	}

	cmd.Printf("Created account %s\n", account.Subject)
	return nil
}
