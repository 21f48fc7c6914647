package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/domain"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print your identity fingerprint, or the one a peer's session uses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				fp, err := appCtx.Messenger.PeerFingerprint(domain.UserID(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", args[0], fp)
				return nil
			}
			if err := requirePassphrase(); err != nil {
				return err
			}
			fp, err := appCtx.Identity.FingerprintIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
}
