package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)
	const basicConfig = `# A minimal configuration.
[Account]
  User = "alice"
`
	cfg, err := Load([]byte(basicConfig), "/data")
	require.NoError(err)
	require.Equal("NOTICE", cfg.Logging.Level)
	require.Equal(filepath.Join("/data", "pulse.db"), cfg.Store.Path)
	require.Equal(1000, cfg.Ratchet.MaxSkip)
	require.Equal(5000, cfg.Presence.TypingTimeoutMs)
	require.Equal(500*time.Millisecond, cfg.Retry.Policy().BaseDelay)
	require.Equal(24*time.Hour, Duration(cfg.Sessions.SupersededGraceMs))
}

func TestLoad_Overrides(t *testing.T) {
	require := require.New(t)
	const full = `
[Account]
  User = "bob"
  RegistrationID = 42

[Logging]
  Level = "debug"

[Store]
  Path = "/var/lib/pulse/bob.db"

[Relay]
  URL = "http://relay.example:9000"
  PollIntervalMs = 250

[Ratchet]
  MaxSkip = 64

[Retry]
  MaxAttempts = 2
  BaseDelayMs = 10
  MaxDelayMs = 20
  Jitter = 0.1
`
	cfg, err := Load([]byte(full), "/ignored")
	require.NoError(err)
	require.Equal(uint32(42), cfg.Account.RegistrationID)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("/var/lib/pulse/bob.db", cfg.Store.Path)
	require.Equal(250, cfg.Relay.PollIntervalMs)
	require.Equal(64, cfg.Ratchet.MaxSkip)
	require.Equal(2, cfg.Retry.Policy().MaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"missing account": `[Logging]
Level = "INFO"`,
		"bad level": `[Account]
User = "a"
[Logging]
Level = "CHATTY"`,
		"bad jitter": `[Account]
User = "a"
[Retry]
Jitter = 2.0`,
		"unknown key": `[Account]
User = "a"
Colour = "blue"`,
		"reserved user": `[Account]
User = "a:b"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body), "/data")
			require.Error(t, err)
		})
	}
}

func TestLoadFile_RelativeStore(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "pulse.toml")
	require.NoError(t, os.WriteFile(f, []byte("[Account]\nUser = \"carol\"\n[Store]\nPath = \"carol.db\"\n"), 0o600))

	cfg, err := LoadFile(f)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "carol.db"), cfg.Store.Path)
}

func TestWrite_RoundTrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	f := filepath.Join(dir, "pulse.toml")

	cfg := &Config{Account: &Account{User: "dave", RegistrationID: 7}}
	require.NoError(cfg.FixupAndValidate(dir))
	require.NoError(Write(f, cfg))

	st, err := os.Stat(f)
	require.NoError(err)
	require.Equal(os.FileMode(0o600), st.Mode().Perm())

	got, err := LoadFile(f)
	require.NoError(err)
	require.Equal("dave", got.Account.User)
	require.Equal(uint32(7), got.Account.RegistrationID)
	require.Equal(cfg.Store.Path, got.Store.Path)
	require.Equal(cfg.Retry.MaxAttempts, got.Retry.MaxAttempts)
}
