package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulse/internal/domain"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <conversation|peer>",
		Short: "Show how a conversation is protected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := resolveConversation(args[0])
			if err != nil {
				return err
			}
			st, err := appCtx.Messenger.SecurityStatus(conv)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (score %d)\n", conv, st.Description, st.Score)
			fmt.Printf("  level: %s, verified %d of %d\n", st.Level, st.VerifiedParticipants, st.ParticipantCount)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <peer> <fingerprint>...",
		Short: "Record that a peer's fingerprint was compared out of band",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := domain.UserID(args[0])
			// Fingerprints print as space separated groups; accept them quoted or not.
			fp := domain.Fingerprint(strings.ToUpper(strings.Join(strings.Fields(strings.Join(args[1:], " ")), " ")))
			if err := appCtx.Messenger.VerifyPeer(peer, fp); err != nil {
				return err
			}
			fmt.Printf("%s verified\n", peer)
			return nil
		},
	}
}
