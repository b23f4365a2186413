package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/actionbridge/actionbridge/internal/domain/auth"
)

var keygenName string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Mint a new API key secret",
	Long: `Mint a new ak_live_ API key.

The secret is printed once and never stored; record it now. The prefix
and hash lines go into the catalog seed (or an admin-side key insert) so
the gateway can authenticate the secret later.

Examples:
  actionbridge keygen
  actionbridge keygen --name "ci agent"`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenName, "name", "agent key", "key name for the seed snippet")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	raw, prefix, hash, err := auth.Mint()
	if err != nil {
		return fmt.Errorf("minting key: %w", err)
	}

	fmt.Printf("API key (shown once, store it now):\n  %s\n\n", raw)
	fmt.Printf("Seed entry:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - account_id: <account>\n")
	fmt.Printf("      name: %q\n", keygenName)
	fmt.Printf("      key_prefix: %s\n", prefix)
	fmt.Printf("      key_hash: %s\n", hash)
	fmt.Printf("      mode: safe\n")
	fmt.Fprintln(os.Stderr, "\nThe secret above is not recoverable from the prefix or hash.")
	return nil
}
