package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ledger-alarm-bridge/internal/config"
	"github.com/oshokin/ledger-alarm-bridge/internal/service/bridge"
	"github.com/oshokin/ledger-alarm-bridge/internal/testutil"
	"github.com/oshokin/ledger-alarm-bridge/internal/wallet"
)

// reservePort returns a loopback address nothing listens on.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// TestRun_UnreachablePeer starts the real process wiring from a settings file
// while the gateway peer is down. The HTTP surface must keep serving and
// report both the failed listener and the failed transaction.
func TestRun_UnreachablePeer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	peerAddr := reservePort(t)
	listenAddr := reservePort(t)

	profilePath := filepath.Join(dir, "connection-org1.yaml")
	require.NoError(t, os.WriteFile(profilePath, fmt.Appendf(nil, `
name: test-network-org1
client:
  organization: Org1
organizations:
  Org1:
    mspid: Org1MSP
    peers: [peer0.org1.example.com]
peers:
  peer0.org1.example.com:
    url: grpc://%s
`, peerAddr), 0o600))

	walletPath := filepath.Join(dir, "wallet")
	certPEM, keyPEM := testutil.SelfSignedPEM(t, "appUser")
	require.NoError(t, wallet.NewFileWallet(walletPath).Put(context.Background(), "appUser",
		&wallet.Identity{MSPID: "Org1MSP", Certificate: certPEM, PrivateKey: keyPEM}))

	settings := config.Default()
	settings.Ledger.ConnectionProfile = profilePath
	settings.Ledger.Discovery.AsLocalhost = false
	settings.Ledger.Timeouts.Dial = 200 * time.Millisecond
	settings.Identity.WalletPath = walletPath
	settings.Events.CheckpointFile = filepath.Join(dir, "checkpoint.json")

	settingsPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(settingsPath, settings))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- bridge.Run(ctx, &bridge.Options{
			ConfigPath:    settingsPath,
			ListenAddress: listenAddr,
		})
	}()

	baseURL := "http://" + listenAddr

	var healthBody map[string]string

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/healthz") //nolint:noctx // Polling a local server.
		if err != nil {
			return false
		}

		defer resp.Body.Close()

		return resp.StatusCode == http.StatusServiceUnavailable &&
			json.NewDecoder(resp.Body).Decode(&healthBody) == nil
	}, 10*time.Second, 50*time.Millisecond)
	require.Equal(t, "failed", healthBody["listener"])

	require.Equal(t, http.StatusServiceUnavailable,
		post(t, baseURL+"/change-temperature", `{"id":"asset1","temperatureThreshold":30}`))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("bridge did not stop")
	}
}
