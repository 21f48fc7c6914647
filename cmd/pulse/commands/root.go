package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"pulse/internal/app"
	"pulse/internal/config"
	"pulse/internal/domain"
)

const configFile = "pulse.toml"

// skipApp marks commands that run without a loaded app.
const skipApp = "pulse/skip-app"

var (
	home       string
	passphrase string
	appCtx     *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "pulse",
		Short:         "End-to-end encrypted conversations",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".pulse")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if cmd.Annotations[skipApp] != "" {
				return nil
			}
			return openApp()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.pulse)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		startSessionCmd(),
		groupCmd(),
		rotateCmd(),
		sendCmd(),
		resendCmd(),
		recvCmd(),
		readCmd(),
		statusCmd(),
		verifyCmd(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

func openApp() error {
	cfg, err := config.LoadFile(filepath.Join(home, configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("not initialised, run pulse init first")
		}
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Messenger.Restore(); err != nil {
		_ = a.Close()
		return err
	}
	appCtx = a
	return nil
}

func requirePassphrase() error {
	if passphrase == "" {
		return errors.New("passphrase required (-p)")
	}
	return nil
}

// resolveConversation returns the open conversation named arg, or the direct
// conversation with the user arg.
func resolveConversation(arg string) (domain.ConversationID, error) {
	for _, c := range appCtx.Messenger.Conversations() {
		if string(c.ID) == arg {
			return c.ID, nil
		}
	}
	return appCtx.Messenger.OpenDirect(domain.UserID(arg))
}
