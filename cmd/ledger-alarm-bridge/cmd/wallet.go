package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oshokin/ledger-alarm-bridge/internal/config"
	"github.com/oshokin/ledger-alarm-bridge/internal/wallet"
)

// walletPath resolves the wallet directory from --wallet or the configuration.
func walletPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("wallet"); path != "" {
		return path, nil
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	return settings.Identity.WalletPath, nil
}

func newWalletCommand() *cobra.Command {
	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage enrolled identities used to connect to the ledger.",
	}

	walletCmd.PersistentFlags().String("wallet", "", "wallet directory (defaults to identity.wallet_path)")
	walletCmd.AddCommand(newWalletImportCommand(), newWalletListCommand())

	return walletCmd
}

func newWalletImportCommand() *cobra.Command {
	var label, mspID, certPath, keyPath string

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store an enrolled X.509 identity in the wallet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := walletPath(cmd)
			if err != nil {
				return err
			}

			certificate, err := os.ReadFile(filepath.Clean(certPath))
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}

			privateKey, err := os.ReadFile(filepath.Clean(keyPath))
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}

			err = wallet.NewFileWallet(dir).Put(cmd.Context(), label, &wallet.Identity{
				MSPID:       mspID,
				Certificate: certificate,
				PrivateKey:  privateKey,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Identity %q imported into %s\n", label, dir)

			return nil
		},
	}

	importCmd.Flags().StringVar(&label, "label", config.DefaultIdentityLabel, "identity label")
	importCmd.Flags().StringVar(&mspID, "msp-id", "Org1MSP", "membership service provider ID")
	importCmd.Flags().StringVar(&certPath, "cert", "", "path to the PEM certificate")
	importCmd.Flags().StringVar(&keyPath, "key", "", "path to the PEM private key")

	_ = importCmd.MarkFlagRequired("cert")
	_ = importCmd.MarkFlagRequired("key")

	return importCmd
}

func newWalletListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the labels stored in the wallet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := walletPath(cmd)
			if err != nil {
				return err
			}

			labels, err := wallet.NewFileWallet(dir).List(cmd.Context())
			if err != nil {
				return err
			}

			for _, label := range labels {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), label)
			}

			return nil
		},
	}
}
