package kms

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempKeyring(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "keyring.json")
}

func TestNewLocalKMSGeneratesInitialKey(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)
	require.Equal(t, 1, k.ActiveVersion())
	require.Len(t, k.ActiveKey(), 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)

	ct, err := k.Encrypt(`{"url":"https://hooks.example.com"}`)
	require.NoError(t, err)
	require.NotEmpty(t, ct)
	require.Regexp(t, `^v1:`, ct)

	pt, err := k.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, `{"url":"https://hooks.example.com"}`, pt)
}

func TestEmptyStringRoundTripsEmpty(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)

	ct, err := k.Encrypt("")
	require.NoError(t, err)
	require.Empty(t, ct)

	pt, err := k.Decrypt("")
	require.NoError(t, err)
	require.Empty(t, pt)
}

func TestKeyringPersistsAcrossReload(t *testing.T) {
	path := tempKeyring(t)
	k1, err := NewLocalKMS(path)
	require.NoError(t, err)
	ct, err := k1.Encrypt("persistent-secret")
	require.NoError(t, err)

	k2, err := NewLocalKMS(path)
	require.NoError(t, err)
	pt, err := k2.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "persistent-secret", pt)
}

func TestRotateKeepsOldKeysDecryptable(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)

	oldCT, err := k.Encrypt("before-rotation")
	require.NoError(t, err)

	v, err := k.Rotate()
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 2, k.ActiveVersion())

	newCT, err := k.Encrypt("after-rotation")
	require.NoError(t, err)
	require.Regexp(t, `^v2:`, newCT)

	pt, err := k.Decrypt(oldCT)
	require.NoError(t, err)
	require.Equal(t, "before-rotation", pt)
}

func TestImportKeyBecomesActive(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)

	external := make([]byte, 32)
	for i := range external {
		external[i] = byte(i)
	}
	require.NoError(t, k.ImportKey(external, 7))
	require.Equal(t, 7, k.ActiveVersion())

	require.Error(t, k.ImportKey([]byte("short"), 8))
}

func TestDecryptRejectsMalformedAndUnknownVersion(t *testing.T) {
	k, err := NewLocalKMS(tempKeyring(t))
	require.NoError(t, err)

	_, err = k.Decrypt("not-versioned")
	require.Error(t, err)

	_, err = k.Decrypt("v99:AAAA")
	require.Error(t, err)
}
