package app

import (
	"fmt"
	"os"
	"path/filepath"

	"pulse/internal/config"
	"pulse/internal/domain"
	"pulse/internal/lane"
	"pulse/internal/log"
	"pulse/internal/presence"
	"pulse/internal/protocol/cipher"
	"pulse/internal/protocol/ratchet"
	"pulse/internal/relay"
	"pulse/internal/services/identity"
	"pulse/internal/services/keyring"
	messagesvc "pulse/internal/services/message"
	prekeysvc "pulse/internal/services/prekey"
	sessionsvc "pulse/internal/services/session"
	"pulse/internal/store"
)

// laneDepth is the number of operations queued per conversation.
const laneDepth = 32

// New constructs the dependency graph from cfg. The caller must Close the
// returned App.
func New(cfg *config.Config) (*App, error) {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	return NewWithLog(cfg, backend)
}

// NewWithLog is New with an explicit log backend.
func NewWithLog(cfg *config.Config, backend *log.Backend) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return nil, fmt.Errorf("app: create data directory: %w", err)
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	local := domain.UserID(cfg.Account.User)
	rc := relay.NewClient(
		cfg.Relay.URL,
		config.Duration(int64(cfg.Relay.RequestTimeoutMs)),
		config.Duration(int64(cfg.Relay.PollIntervalMs)),
		backend.GetLogger("relay"),
	)
	policy := cfg.Retry.Policy()

	ids := identity.New(db.Identities(), backend.GetLogger("identity"))
	prekeys := prekeysvc.New(db.Identities(), db.PreKeys(), backend.GetLogger("prekey"))
	sessions := sessionsvc.New(
		db.Identities(),
		prekeys,
		db.Sessions(),
		rc,
		policy,
		config.Duration(cfg.Sessions.SupersededGraceMs),
		backend.GetLogger("session"),
	)
	kr := keyring.New(db.ConversationKeys(), backend.GetLogger("keyring"))
	lanes := lane.New(laneDepth)

	msgs := messagesvc.New(messagesvc.Deps{
		Local:         local,
		Sessions:      sessions,
		Keyring:       kr,
		Transport:     rc,
		Conversations: db.Conversations(),
		Messages:      db.Messages(),
		Verifications: db.Verifications(),
		Cipher:        cipher.New(ratchet.New(cfg.Ratchet.MaxSkip)),
		Presence:      presence.New(config.Duration(int64(cfg.Presence.TypingTimeoutMs))),
		Lanes:         lanes,
		Retry:         policy,
		Log:           backend.GetLogger("message"),
		SecurityLog:   backend.GetLogger("security"),
	})

	return &App{
		Config:    cfg,
		User:      local,
		DB:        db,
		Identity:  ids,
		PreKeys:   prekeys,
		Sessions:  sessions,
		Keyring:   kr,
		Relay:     rc,
		Messenger: msgs,
		lanes:     lanes,
		log:       backend.GetLogger("app"),
	}, nil
}
