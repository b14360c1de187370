package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Encrypt and decrypt stored credentials with VAULT_SECRET",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "encrypt [value]",
			Short: "Encrypt a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := loadVault()
				if err != nil {
					return err
				}
				out, err := v.Encrypt(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "decrypt [value]",
			Short: "Decrypt a value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := loadVault()
				if err != nil {
					return err
				}
				out, ok := v.Decrypt(args[0])
				if !ok {
					return fmt.Errorf("value cannot be decrypted with the configured secret")
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "genkey",
			Short: "Print a fresh random VAULT_SECRET",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := vault.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			},
		},
	)
	return cmd
}

func loadVault() (*vault.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.VaultSecret == "" {
		return nil, fmt.Errorf("VAULT_SECRET is not set")
	}
	return vault.New(cfg.VaultSecret)
}
