package commands

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pulse/internal/app"
	"pulse/internal/config"
)

func initCmd() *cobra.Command {
	var user, relayURL string
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the config and create the identity keys",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			path := filepath.Join(home, configFile)
			cfg, err := config.LoadFile(path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				cfg = &config.Config{
					Account: &config.Account{User: user, RegistrationID: rand.Uint32N(16380) + 1},
					Relay:   &config.Relay{URL: relayURL},
				}
				if err := cfg.FixupAndValidate(home); err != nil {
					return err
				}
				// Keep the store path relative so the home dir can move.
				cfg.Store.Path = ""
				if err := config.Write(path, cfg); err != nil {
					return err
				}
				if cfg, err = config.LoadFile(path); err != nil {
					return err
				}
			case err != nil:
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			_, fp, err := a.Identity.CreateIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity for %s ready.\nFingerprint: %s\n", a.User, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "your user id")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
