package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ledger-alarm-bridge/internal/testutil"
	"github.com/oshokin/ledger-alarm-bridge/internal/wallet"
)

func runWallet(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	c := newWalletCommand()
	c.SetArgs(args)
	c.SetOut(&out)
	c.SetErr(&out)

	err := c.ExecuteContext(context.Background())

	return out.String(), err
}

func TestWalletImportAndList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	walletDir := filepath.Join(dir, "wallet")

	certPEM, keyPEM := testutil.SelfSignedPEM(t, "appUser")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	out, err := runWallet(t, "import", "--wallet", walletDir, "--label", "appUser",
		"--msp-id", "Org1MSP", "--cert", certPath, "--key", keyPath)
	require.NoError(t, err)
	require.Contains(t, out, `Identity "appUser" imported`)

	id, err := wallet.NewFileWallet(walletDir).Get(context.Background(), "appUser")
	require.NoError(t, err)
	require.Equal(t, "Org1MSP", id.MSPID)

	out, err = runWallet(t, "list", "--wallet", walletDir)
	require.NoError(t, err)
	require.Equal(t, "appUser\n", out)
}

func TestWalletImport_RejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a pem"), 0o600))

	_, err := runWallet(t, "import", "--wallet", dir, "--cert", bogus, "--key", bogus)
	require.ErrorIs(t, err, wallet.ErrInvalidIdentity)

	_, err = runWallet(t, "import", "--wallet", dir, "--cert", filepath.Join(dir, "missing.pem"), "--key", bogus)
	require.ErrorContains(t, err, "read certificate")

	_, err = runWallet(t, "import", "--wallet", dir)
	require.Error(t, err)
}
