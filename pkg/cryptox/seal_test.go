package cryptox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/grabbit/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	cryptox.ResetMasterKeyForTesting()
	t.Setenv("GRABBIT_MASTER_KEY", "unit-test-master-key")

	blob := []byte(`{"access_token":"abc","refresh_token":"def"}`)

	sealed, err := cryptox.Seal(blob)
	require.NoError(t, err)
	require.NotEqual(t, blob, sealed)

	opened, err := cryptox.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, blob, opened)
}

func TestSealProducesFreshNonce(t *testing.T) {
	cryptox.ResetMasterKeyForTesting()
	t.Setenv("GRABBIT_MASTER_KEY", "unit-test-master-key")

	blob := []byte("same plaintext")

	a, err := cryptox.Seal(blob)
	require.NoError(t, err)
	b, err := cryptox.Seal(blob)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	cryptox.ResetMasterKeyForTesting()
	t.Setenv("GRABBIT_MASTER_KEY", "unit-test-master-key")

	sealed, err := cryptox.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF

	_, err = cryptox.Open(sealed)
	require.Error(t, err)
}

func TestOpenRejectsShortBlob(t *testing.T) {
	cryptox.ResetMasterKeyForTesting()
	t.Setenv("GRABBIT_MASTER_KEY", "unit-test-master-key")

	_, err := cryptox.Open([]byte("short"))
	require.Error(t, err)
}

func TestMasterKeyFromFile(t *testing.T) {
	cryptox.ResetMasterKeyForTesting()
	t.Cleanup(cryptox.ResetMasterKeyForTesting)

	keyFile := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("file-based-key-material"), 0o600))

	cryptox.SetMasterKeyPath(keyFile)
	t.Cleanup(func() { cryptox.SetMasterKeyPath("") })

	sealed, err := cryptox.Seal([]byte("payload"))
	require.NoError(t, err)

	opened, err := cryptox.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), opened)
}
