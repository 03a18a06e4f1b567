package main

import (
	"encoding/base64"
	"fmt"

	"github.com/secura/vault/internal/envelope"
	"github.com/spf13/cobra"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random ENCRYPTION_KEY",
		Long:  "Prints a base64 encoded 256-bit key suitable for ENCRYPTION_KEY. Keep it: files sealed with a key cannot be read without it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := envelope.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
