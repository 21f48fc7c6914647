package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your pre-key bundles to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			n, err := appCtx.Register(cmd.Context(), passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Published %d bundles for %s\n", n, appCtx.User)
			return nil
		},
	}
}
