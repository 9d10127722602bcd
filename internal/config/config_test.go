package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Missing connection profile.
	cfg := Default()
	require.ErrorIs(t, Validate(cfg), errConnectionProfileRequired)

	// Static peer required without discovery.
	cfg = Default()
	cfg.Ledger.ConnectionProfile = "connection-org1.yaml"
	cfg.Ledger.Discovery.Enabled = false
	require.ErrorIs(t, Validate(cfg), errStaticPeerRequired)

	cfg.Ledger.Peer = "peer0.org1.example.com"
	require.NoError(t, Validate(cfg))

	// Bad alarm URL.
	cfg.Alarm.BaseURL = "localhost:8080"
	require.Error(t, Validate(cfg))

	cfg.Alarm.BaseURL = "ftp://sink"
	require.Error(t, Validate(cfg))

	// Bad listen address.
	cfg = Default()
	cfg.Ledger.ConnectionProfile = "connection-org1.yaml"
	cfg.HTTP.ListenAddress = "bad:address"
	require.Error(t, Validate(cfg))

	// Negative queue.
	cfg = Default()
	cfg.Ledger.ConnectionProfile = "connection-org1.yaml"
	cfg.Alarm.QueueSize = -1
	require.ErrorIs(t, Validate(cfg), errInvalidQueueSize)
}

// TestDefault verifies defaults mirror the sample network.
func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	require.Equal(t, DefaultChannel, cfg.Ledger.Channel)
	require.Equal(t, DefaultChaincode, cfg.Ledger.Chaincode)
	require.Equal(t, DefaultIdentityLabel, cfg.Identity.Label)
	require.Equal(t, DefaultAlarmBaseURL, cfg.Alarm.BaseURL)
	require.True(t, cfg.Ledger.Discovery.Enabled)
	require.True(t, cfg.Ledger.Discovery.AsLocalhost)
	require.True(t, cfg.Events.Enabled)
	require.Equal(t, DefaultCommitStatusTimeout, cfg.Ledger.Timeouts.CommitStatus)
}

// TestLoad_KeepsDefaultSwitches ensures omitted booleans keep their defaults
// while explicit values win.
func TestLoad_KeepsDefaultSwitches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	contents := []byte(`
ledger:
  connection_profile: connection-org1.json
  discovery:
    as_localhost: false
alarm:
  base_url: http://thingsboard:8080/
  timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, contents, DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Ledger.Discovery.Enabled)
	require.False(t, cfg.Ledger.Discovery.AsLocalhost)
	require.True(t, cfg.Events.Enabled)
	require.Equal(t, "http://thingsboard:8080", cfg.Alarm.BaseURL)
	require.Equal(t, 2*time.Second, cfg.Alarm.Timeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Ledger.ConnectionProfile = "connection-org1.yaml"
	cfg.Events.CheckpointFile = "events.checkpoint"
	cfg.Alarm.QueueSize = 8

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_MissingFile reports read errors.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
