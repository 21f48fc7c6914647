package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/domain"
)

// recv: follow every open conversation for --wait, then print timelines.
func recvCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "recv [conversation|peer]",
		Short: "Fetch and decrypt new messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			var only domain.ConversationID
			if len(args) == 1 {
				conv, err := resolveConversation(args[0])
				if err != nil {
					return err
				}
				only = conv
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := appCtx.Messenger.Run(ctx, passphrase); err != nil {
				return err
			}

			for _, c := range appCtx.Messenger.Conversations() {
				if only != "" && c.ID != only {
					continue
				}
				msgs, err := appCtx.Messenger.Timeline(c.ID)
				if err != nil {
					return err
				}
				fmt.Printf("== %s (%s)\n", c.ID, c.Type)
				for _, m := range msgs {
					fmt.Printf("%s [%s] %s (%s): %s\n",
						m.CreatedAt.Local().Format(time.TimeOnly), m.ID, m.SenderID, m.Status, render(m.Payload))
				}
				if typing := appCtx.Messenger.TypingUsers(c.ID); len(typing) > 0 {
					fmt.Printf("   typing: %v\n", typing)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to follow the relay")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation|peer>",
		Short: "Mark delivered messages read and notify their senders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := resolveConversation(args[0])
			if err != nil {
				return err
			}
			n, err := appCtx.Messenger.MarkRead(cmd.Context(), conv)
			if err != nil {
				return err
			}
			fmt.Printf("marked %d messages read\n", n)
			return nil
		},
	}
}

func render(p domain.Payload) string {
	switch v := p.(type) {
	case domain.Text:
		return v.Body
	case domain.Image:
		return fmt.Sprintf("<image %s> %s", v.URL, v.Caption)
	case domain.Video:
		return fmt.Sprintf("<video %s %ds> %s", v.URL, v.DurationSeconds, v.Caption)
	case domain.Audio:
		return fmt.Sprintf("<audio %s %ds>", v.URL, v.DurationSeconds)
	case domain.Location:
		if v.LiveUntil != nil {
			return fmt.Sprintf("<live location %.5f,%.5f until %s>", v.Latitude, v.Longitude, v.LiveUntil.Local().Format(time.TimeOnly))
		}
		return fmt.Sprintf("<location %.5f,%.5f %s>", v.Latitude, v.Longitude, v.Label)
	case domain.Call:
		if v.Missed {
			return fmt.Sprintf("<missed %s call>", v.CallKind)
		}
		return fmt.Sprintf("<%s call %ds>", v.CallKind, v.DurationSeconds)
	case domain.System:
		return fmt.Sprintf("* %s %s", v.Event, v.Text)
	case domain.Unavailable:
		return fmt.Sprintf("<message unavailable: %s>", v.Reason)
	default:
		return fmt.Sprintf("<%T>", p)
	}
}
