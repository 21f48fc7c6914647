package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/crypto"
	"pulse/internal/domain"
)

// startSessionCmd performs the X3DH handshake against a peer's pre-key bundle
// and persists the new session. The handshake reaches the peer with the
// next message.
func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Establish a secure session with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			peer := domain.UserID(args[0])
			st, err := appCtx.Messenger.StartSession(cmd.Context(), passphrase, peer)
			if err != nil {
				return fmt.Errorf("starting session with %q: %w", peer, err)
			}
			fmt.Printf("Session %s with %s.\nPeer fingerprint: %s\n",
				st.SessionID, peer, crypto.FingerprintIdentity(st.PeerIdentityKey))
			return nil
		},
	}
}
