package app

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/config"
	"pulse/internal/domain"
	"pulse/internal/lane"
	"pulse/internal/relay"
	"pulse/internal/services/identity"
	"pulse/internal/services/keyring"
	messagesvc "pulse/internal/services/message"
	prekeysvc "pulse/internal/services/prekey"
	sessionsvc "pulse/internal/services/session"
	"pulse/internal/store"
)

// App bundles the stores, services and clients of one local user.
type App struct {
	Config *config.Config
	User   domain.UserID

	DB        *store.DB
	Identity  *identity.Service
	PreKeys   *prekeysvc.Service
	Sessions  *sessionsvc.Service
	Keyring   *keyring.Service
	Relay     *relay.Client
	Messenger *messagesvc.Service

	lanes *lane.Lanes
	log   *logging.Logger
}

// Close stops the conversation lanes and closes the store.
func (a *App) Close() error {
	a.lanes.Halt()
	return a.DB.Close()
}

// Register rotates in a fresh signed pre-key, tops up the one-time pre-key
// inventory and publishes a batch of bundles to the relay. It returns the
// number of bundles published.
func (a *App) Register(ctx context.Context, passphrase string) (int, error) {
	if _, err := a.PreKeys.GenerateSignedPreKey(passphrase); err != nil {
		return 0, fmt.Errorf("signed pre-key: %w", err)
	}
	batch := a.Config.PreKeys.BundleBatch
	if _, err := a.PreKeys.Replenish(batch, a.Config.PreKeys.BatchSize); err != nil {
		return 0, fmt.Errorf("one-time pre-keys: %w", err)
	}
	bundles, err := a.PreKeys.BuildBundles(passphrase, a.User, a.Config.Account.RegistrationID, batch)
	if err != nil {
		return 0, err
	}
	err = a.Config.Retry.Policy().Do(ctx, func(ctx context.Context) error {
		return a.Relay.PublishBundles(ctx, a.User, bundles)
	})
	if err != nil {
		return 0, fmt.Errorf("publish bundles: %w", err)
	}
	if _, err := a.PreKeys.PurgeSignedPreKeys(time.Now(), config.Duration(a.Config.PreKeys.SignedPreKeyGraceMs)); err != nil {
		a.log.Warningf("Purging signed pre-keys: %v", err)
	}
	a.log.Noticef("Published %d bundles for %s", len(bundles), a.User)
	return len(bundles), nil
}
