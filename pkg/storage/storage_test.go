package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalDriverPutIsContentAddressedAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	drv, err := NewLocalDriver(dir)
	require.NoError(t, err)

	body := []byte("hello latchflow")
	r1, err := drv.PutFile(context.Background(), bytes.NewReader(body), "text/plain")
	require.NoError(t, err)
	r2, err := drv.PutFile(context.Background(), bytes.NewReader(body), "text/plain")
	require.NoError(t, err)

	require.Equal(t, r1.SHA256, r2.SHA256)
	require.Equal(t, r1.StorageKey, r2.StorageKey)
	require.Equal(t, CanonicalKey(r1.SHA256), r1.StorageKey)

	rc, err := drv.GetFileStream(context.Background(), r1.StorageKey)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestLocalDriverHeadAndDeleteMissingReturnErrNotFound(t *testing.T) {
	dir := t.TempDir()
	drv, err := NewLocalDriver(dir)
	require.NoError(t, err)

	_, err = drv.HeadFile(context.Background(), CanonicalKey("deadbeef"))
	require.ErrorIs(t, err, ErrNotFound)

	err = drv.DeleteFile(context.Background(), CanonicalKey("deadbeef"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCanonicalKeyLayout(t *testing.T) {
	digest := "aabbccddeeff"
	require.Equal(t, "objects/sha256/aa/bb/aabbccddeeff", CanonicalKey(digest))
}

func TestWrapEncryptStreamNoneIsPassthrough(t *testing.T) {
	body := bytes.NewReader([]byte("plaintext"))
	res, err := WrapEncryptStream(context.Background(), EncryptionNone, nil, body)
	require.NoError(t, err)
	out, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	require.Equal(t, "plaintext", string(out))
	meta := <-res.Metadata
	require.NoError(t, meta.Err)
	require.Nil(t, meta.Meta)
}

func TestWrapEncryptDecryptAESGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, 32)
	plain := []byte("sensitive bundle bytes")

	res, err := WrapEncryptStream(context.Background(), EncryptionAESGCM, key, bytes.NewReader(plain))
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	require.NotEqual(t, plain, ciphertext)

	meta := <-res.Metadata
	require.NoError(t, meta.Err)
	require.NotNil(t, meta.Meta)
	require.Equal(t, "AES-256-GCM", meta.Meta.Algorithm)

	decrypted, err := WrapDecryptStream(context.Background(), EncryptionAESGCM, key, meta.Meta, bytes.NewReader(ciphertext))
	require.NoError(t, err)
	out, err := io.ReadAll(decrypted)
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestWrapDecryptAESGCMMissingKeyIsFatal(t *testing.T) {
	_, err := WrapDecryptStream(context.Background(), EncryptionAESGCM, nil, &CryptoMeta{}, bytes.NewReader(nil))
	require.Error(t, err)
}

func TestLinkSignerRoundTrip(t *testing.T) {
	signer, err := NewLinkSigner([]byte("test-secret"))
	require.NoError(t, err)

	tok, err := signer.Sign("bundle-1", "recipient-1", 60)
	require.NoError(t, err)

	bundleID, recipientID, err := signer.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "bundle-1", bundleID)
	require.Equal(t, "recipient-1", recipientID)
}

func TestLinkSignerRejectsTampered(t *testing.T) {
	signer, err := NewLinkSigner([]byte("test-secret"))
	require.NoError(t, err)
	tok, err := signer.Sign("bundle-1", "recipient-1", 60)
	require.NoError(t, err)

	other, err := NewLinkSigner([]byte("different-secret"))
	require.NoError(t, err)
	_, _, err = other.Verify(tok)
	require.Error(t, err)
}
