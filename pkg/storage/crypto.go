package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

// EncryptionMode selects a stream wrapper.
type EncryptionMode string

const (
	EncryptionNone   EncryptionMode = "none"
	EncryptionAESGCM EncryptionMode = "aes-gcm"
)

// CryptoMeta is the sidecar metadata produced by an encrypt wrap and required
// to reverse it. Absent (nil) for EncryptionNone.
type CryptoMeta struct {
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// WrapResult pairs a (possibly transformed) stream with its metadata. Both
// modes put the metadata on the channel before returning, so it can be
// received before or after the stream is read.
type WrapResult struct {
	Stream   io.Reader
	Metadata <-chan CryptoMetaOrNil
}

// CryptoMetaOrNil is delivered exactly once on WrapResult.Metadata.
type CryptoMetaOrNil struct {
	Meta *CryptoMeta
	Err  error
}

// WrapEncryptStream wraps body for encryption-at-rest. mode="none" is a
// passthrough; mode="aes-gcm" derives a per-object subkey from masterKey via
// HKDF-SHA256 and encrypts with AES-256-GCM (a fatal configuration error if
// masterKey is not exactly 32 bytes). The aes-gcm mode reads the whole body
// into memory and seals it in one call before returning; it does not encrypt
// incrementally.
func WrapEncryptStream(ctx context.Context, mode EncryptionMode, masterKey []byte, body io.Reader) (WrapResult, error) {
	switch mode {
	case EncryptionNone, "":
		ch := make(chan CryptoMetaOrNil, 1)
		ch <- CryptoMetaOrNil{Meta: nil}
		close(ch)
		return WrapResult{Stream: body, Metadata: ch}, nil
	case EncryptionAESGCM:
		if len(masterKey) != 32 {
			return WrapResult{}, fmt.Errorf("storage: aes-gcm requires a 32-byte master key, got %d", len(masterKey))
		}
		subKey, salt, err := deriveSubKey(masterKey, nil)
		if err != nil {
			return WrapResult{}, err
		}
		block, err := aes.NewCipher(subKey)
		if err != nil {
			return WrapResult{}, fmt.Errorf("storage: aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return WrapResult{}, fmt.Errorf("storage: gcm: %w", err)
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return WrapResult{}, fmt.Errorf("storage: nonce: %w", err)
		}

		plain, err := io.ReadAll(body)
		if err != nil {
			return WrapResult{}, fmt.Errorf("storage: read plaintext: %w", err)
		}
		sealed := gcm.Seal(nil, nonce, plain, nil)
		if len(sealed) < gcm.Overhead() {
			return WrapResult{}, errors.New("storage: sealed output shorter than auth tag")
		}
		ct, tag := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]

		ch := make(chan CryptoMetaOrNil, 1)
		ch <- CryptoMetaOrNil{Meta: &CryptoMeta{
			Algorithm: "AES-256-GCM",
			IV:        hex.EncodeToString(append(nonce, salt...)),
			AuthTag:   hex.EncodeToString(tag),
		}}
		close(ch)

		return WrapResult{Stream: newByteReader(ct), Metadata: ch}, nil
	default:
		return WrapResult{}, fmt.Errorf("storage: unknown encryption mode %q", mode)
	}
}

// WrapDecryptStream reverses WrapEncryptStream. meta must be the metadata
// produced by the corresponding encrypt call; absent for mode=none.
func WrapDecryptStream(ctx context.Context, mode EncryptionMode, masterKey []byte, meta *CryptoMeta, body io.Reader) (io.Reader, error) {
	switch mode {
	case EncryptionNone, "":
		return body, nil
	case EncryptionAESGCM:
		if len(masterKey) != 32 {
			return nil, fmt.Errorf("storage: aes-gcm requires a 32-byte master key, got %d", len(masterKey))
		}
		if meta == nil {
			return nil, errors.New("storage: aes-gcm decrypt requires sidecar metadata")
		}
		ivAndSalt, err := hex.DecodeString(meta.IV)
		if err != nil {
			return nil, fmt.Errorf("storage: decode iv: %w", err)
		}
		tag, err := hex.DecodeString(meta.AuthTag)
		if err != nil {
			return nil, fmt.Errorf("storage: decode auth tag: %w", err)
		}

		block, err := aes.NewCipher(masterKey)
		if err != nil {
			return nil, fmt.Errorf("storage: aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("storage: gcm: %w", err)
		}
		if len(ivAndSalt) < gcm.NonceSize() {
			return nil, errors.New("storage: malformed iv metadata")
		}
		nonce, salt := ivAndSalt[:gcm.NonceSize()], ivAndSalt[gcm.NonceSize():]

		subKey, _, err := deriveSubKey(masterKey, salt)
		if err != nil {
			return nil, err
		}
		block2, err := aes.NewCipher(subKey)
		if err != nil {
			return nil, fmt.Errorf("storage: aes cipher: %w", err)
		}
		gcm2, err := cipher.NewGCM(block2)
		if err != nil {
			return nil, fmt.Errorf("storage: gcm: %w", err)
		}

		ct, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("storage: read ciphertext: %w", err)
		}
		plain, err := gcm2.Open(nil, nonce, append(ct, tag...), nil)
		if err != nil {
			return nil, fmt.Errorf("storage: gcm open: %w", err)
		}
		return newByteReader(plain), nil
	default:
		return nil, fmt.Errorf("storage: unknown encryption mode %q", mode)
	}
}

// deriveSubKey derives a 32-byte per-object key from masterKey via
// HKDF-SHA256.
func deriveSubKey(masterKey, salt []byte) (key []byte, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, fmt.Errorf("storage: salt: %w", err)
		}
	}
	r := hkdf.New(newSHA256, masterKey, salt, []byte("latchflow-object-key"))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, nil, fmt.Errorf("storage: hkdf expand: %w", err)
	}
	return out, salt, nil
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
