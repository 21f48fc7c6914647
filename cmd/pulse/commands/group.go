package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"pulse/internal/domain"
)

func groupCmd() *cobra.Command {
	var pulseGroup bool
	cmd := &cobra.Command{
		Use:   "group <id> <member>...",
		Short: "Open a group conversation and share its key with the members",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			c := domain.Conversation{
				ID:           domain.ConversationID(args[0]),
				Type:         domain.ConversationGroupChat,
				Participants: []domain.UserID{appCtx.User},
			}
			if pulseGroup {
				c.Type = domain.ConversationPulseGroup
			}
			for _, m := range args[1:] {
				if u := domain.UserID(m); !slices.Contains(c.Participants, u) {
					c.Participants = append(c.Participants, u)
				}
			}
			if err := appCtx.Messenger.OpenConversation(c); err != nil {
				return err
			}
			key, err := appCtx.Messenger.RotateGroupKey(cmd.Context(), passphrase, c.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Opened %s with %d members, key v%d\n", c.ID, len(c.Participants), key.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pulseGroup, "pulse", false, "open a pulse group instead of a group chat")
	return cmd
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <group>",
		Short: "Rotate a group key and share the new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			key, err := appCtx.Messenger.RotateGroupKey(cmd.Context(), passphrase, domain.ConversationID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("%s now uses key v%d\n", args[0], key.Version)
			return nil
		},
	}
}
