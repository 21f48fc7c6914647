package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulse/internal/domain"
)

// send <conversation|peer> <message>: encrypt and send a text message.
func sendCmd() *cobra.Command {
	var mentions []string
	cmd := &cobra.Command{
		Use:   "send <conversation|peer> <message>...",
		Short: "Encrypt and send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			conv, err := resolveConversation(args[0])
			if err != nil {
				return err
			}
			var ms []domain.UserID
			for _, m := range mentions {
				ms = append(ms, domain.UserID(m))
			}
			body := domain.Text{Body: strings.Join(args[1:], " ")}
			id, err := appCtx.Messenger.Send(cmd.Context(), passphrase, conv, body, ms)
			if err != nil {
				if id != "" {
					return fmt.Errorf("message %s failed, retry with pulse resend: %w", id, err)
				}
				return err
			}
			fmt.Printf("sent %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "users to mention")
	return cmd
}

func resendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <conversation|peer> <message-id>",
		Short: "Retry a failed message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			conv, err := resolveConversation(args[0])
			if err != nil {
				return err
			}
			if err := appCtx.Messenger.Resend(cmd.Context(), passphrase, conv, domain.MessageID(args[1])); err != nil {
				return err
			}
			fmt.Printf("sent %s\n", args[1])
			return nil
		},
	}
}
