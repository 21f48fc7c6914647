// Package config implements the pulse client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"pulse/internal/log"
	"pulse/internal/retry"
)

const (
	defaultLogLevel            = "NOTICE"
	defaultRelayURL            = "http://127.0.0.1:8080"
	defaultPollIntervalMs      = 1000
	defaultRequestTimeoutMs    = 15000
	defaultStoreFile           = "pulse.db"
	defaultMaxSkip             = 1000
	defaultPreKeyBatch         = 20
	defaultBundleBatch         = 10
	defaultSignedPreKeyGraceMs = 7 * 24 * 60 * 60 * 1000
	defaultSupersededGraceMs   = 24 * 60 * 60 * 1000
	defaultTypingTimeoutMs     = 5000
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Account identifies the local user.
type Account struct {
	// User is the directory user id of this client.
	User string

	// RegistrationID is published in every pre-key bundle.
	RegistrationID uint32
}

func (a *Account) validate() error {
	if a.User == "" {
		return errors.New("config: Account: User is not set")
	}
	if strings.ContainsAny(a.User, ":/ ") {
		return fmt.Errorf("config: Account: User '%v' contains reserved characters", a.User)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch {
	case lvl == "":
		lCfg.Level = defaultLogLevel
		return nil
	case !log.ValidLevel(lvl):
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Store is the local persistence configuration.
type Store struct {
	// Path is the bbolt database file. Relative paths are resolved against
	// the data directory.
	Path string
}

// Relay is the relay client configuration.
type Relay struct {
	// URL is the relay base URL.
	URL string

	// PollIntervalMs is how often a subscription polls for new envelopes.
	PollIntervalMs int

	// RequestTimeoutMs bounds every HTTP request.
	RequestTimeoutMs int
}

// Ratchet tunes the symmetric ratchet.
type Ratchet struct {
	// MaxSkip bounds how far a receiving chain may jump ahead.
	MaxSkip int
}

// PreKeys tunes pre-key inventory management.
type PreKeys struct {
	// BatchSize is the number of one-time pre-keys generated per refill.
	BatchSize int

	// BundleBatch is the number of bundles published per registration.
	BundleBatch int

	// SignedPreKeyGraceMs is how long a replaced signed pre-key is kept.
	SignedPreKeyGraceMs int64
}

// Sessions tunes pairwise session lifecycle.
type Sessions struct {
	// SupersededGraceMs is how long a superseded session with unacknowledged
	// messages is kept.
	SupersededGraceMs int64
}

// Retry is the retry policy for transport and directory calls.
type Retry struct {
	MaxAttempts int
	BaseDelayMs int
	MaxDelayMs  int
	Jitter      float64
}

func (r *Retry) validate() error {
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("config: Retry: Jitter %v out of range [0,1]", r.Jitter)
	}
	if r.BaseDelayMs > r.MaxDelayMs {
		return fmt.Errorf("config: Retry: BaseDelayMs %d exceeds MaxDelayMs %d", r.BaseDelayMs, r.MaxDelayMs)
	}
	return nil
}

// Policy converts the configuration to a retry.Policy.
func (r *Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		Jitter:      r.Jitter,
	}
}

// Presence tunes ephemeral presence state.
type Presence struct {
	// TypingTimeoutMs is how long a typing indicator lasts without activity.
	TypingTimeoutMs int
}

// Config is the top level pulse client configuration.
type Config struct {
	Account  *Account
	Logging  *Logging
	Store    *Store
	Relay    *Relay
	Ratchet  *Ratchet
	PreKeys  *PreKeys
	Sessions *Sessions
	Retry    *Retry
	Presence *Presence
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration. dataDir anchors relative paths.
func (cfg *Config) FixupAndValidate(dataDir string) error {
	if cfg.Account == nil {
		return errors.New("config: No Account block was present")
	}
	if err := cfg.Account.validate(); err != nil {
		return err
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	if cfg.Store == nil {
		cfg.Store = &Store{}
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStoreFile
	}
	if !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dataDir, cfg.Store.Path)
	}

	if cfg.Relay == nil {
		cfg.Relay = &Relay{}
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = defaultRelayURL
	}
	if cfg.Relay.PollIntervalMs <= 0 {
		cfg.Relay.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.Relay.RequestTimeoutMs <= 0 {
		cfg.Relay.RequestTimeoutMs = defaultRequestTimeoutMs
	}

	if cfg.Ratchet == nil {
		cfg.Ratchet = &Ratchet{}
	}
	if cfg.Ratchet.MaxSkip <= 0 {
		cfg.Ratchet.MaxSkip = defaultMaxSkip
	}

	if cfg.PreKeys == nil {
		cfg.PreKeys = &PreKeys{}
	}
	if cfg.PreKeys.BatchSize <= 0 {
		cfg.PreKeys.BatchSize = defaultPreKeyBatch
	}
	if cfg.PreKeys.BundleBatch <= 0 {
		cfg.PreKeys.BundleBatch = defaultBundleBatch
	}
	if cfg.PreKeys.BundleBatch > cfg.PreKeys.BatchSize {
		return fmt.Errorf("config: PreKeys: BundleBatch %d exceeds BatchSize %d", cfg.PreKeys.BundleBatch, cfg.PreKeys.BatchSize)
	}
	if cfg.PreKeys.SignedPreKeyGraceMs <= 0 {
		cfg.PreKeys.SignedPreKeyGraceMs = defaultSignedPreKeyGraceMs
	}

	if cfg.Sessions == nil {
		cfg.Sessions = &Sessions{}
	}
	if cfg.Sessions.SupersededGraceMs <= 0 {
		cfg.Sessions.SupersededGraceMs = defaultSupersededGraceMs
	}

	if cfg.Retry == nil {
		cfg.Retry = &Retry{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		cfg.Retry.BaseDelayMs = int(retry.DefaultBaseDelay / time.Millisecond)
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = int(retry.DefaultMaxDelay / time.Millisecond)
	}
	if err := cfg.Retry.validate(); err != nil {
		return err
	}

	if cfg.Presence == nil {
		cfg.Presence = &Presence{}
	}
	if cfg.Presence.TypingTimeoutMs <= 0 {
		cfg.Presence.TypingTimeoutMs = defaultTypingTimeoutMs
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, dataDir string) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(dataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config. Relative paths resolve against the file's directory.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, filepath.Dir(f))
}

// Duration converts a millisecond setting to a time.Duration.
func Duration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
