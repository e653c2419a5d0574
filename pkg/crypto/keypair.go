package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const pemType = "X25519 PRIVATE KEY"

// ErrMalformedKeyFile is returned when a key file exists but cannot be parsed
var ErrMalformedKeyFile = errors.New("malformed key file")

// PublicKeyString returns the public key as sent in CHAVE_PUBLICA.
func (kp *X25519KeyPair) PublicKeyString() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey[:])
}

// OpenSessionKey recovers the symmetric key a client wrapped with
// SealSessionKey. The encoded form is
// base64(ephemeral public key || nonce || ciphertext || tag).
func (kp *X25519KeyPair) OpenSessionKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	if len(raw) < X25519KeySize+NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	ephemeral := raw[:X25519KeySize]

	shared, err := ComputeSharedSecret(kp.PrivateKey[:], ephemeral)
	if err != nil {
		return nil, err
	}
	wrapKey, err := DeriveWrapKey(shared, ephemeral, kp.PublicKey[:])
	if err != nil {
		return nil, err
	}
	sessionKey, err := DecryptMessage(wrapKey, raw[X25519KeySize:])
	if err != nil {
		return nil, err
	}
	if !ValidSymmetricKeySize(len(sessionKey)) {
		return nil, fmt.Errorf("%w: session key is %d bytes", ErrInvalidKeySize, len(sessionKey))
	}
	return sessionKey, nil
}

// SealSessionKey wraps sessionKey for the server whose CHAVE_PUBLICA value
// is serverPublic. Used by clients.
func SealSessionKey(serverPublic string, sessionKey []byte) (string, error) {
	pub, err := base64.StdEncoding.DecodeString(serverPublic)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if !ValidSymmetricKeySize(len(sessionKey)) {
		return "", fmt.Errorf("%w: session key is %d bytes", ErrInvalidKeySize, len(sessionKey))
	}

	ephemeral, err := GenerateX25519KeyPair()
	if err != nil {
		return "", err
	}
	shared, err := ComputeSharedSecret(ephemeral.PrivateKey[:], pub)
	if err != nil {
		return "", err
	}
	wrapKey, err := DeriveWrapKey(shared, ephemeral.PublicKey[:], pub)
	if err != nil {
		return "", err
	}
	sealed, err := EncryptMessage(wrapKey, sessionKey)
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, X25519KeySize+len(sealed))
	out = append(out, ephemeral.PublicKey[:]...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// NewSessionKey returns a random AES-256 key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return key, nil
}

// LoadOrGenerateKeyPair reads a PEM encoded X25519 private key from path,
// creating it (mode 0600) when it does not exist. An empty path yields an
// ephemeral key pair that lives only as long as the process.
func LoadOrGenerateKeyPair(path string) (*X25519KeyPair, bool, error) {
	if strings.TrimSpace(path) == "" {
		kp, err := GenerateX25519KeyPair()
		return kp, true, err
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, false, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != pemType || len(block.Bytes) != X25519KeySize {
			return nil, false, fmt.Errorf("%w: %s", ErrMalformedKeyFile, path)
		}
		var priv [X25519KeySize]byte
		copy(priv[:], block.Bytes)
		kp, err := keyPairFromPrivate(priv)
		return kp, false, err
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}

	kp, err := GenerateX25519KeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create directory: %w", err)
	}
	block := &pem.Block{Type: pemType, Bytes: kp.PrivateKey[:]}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, false, fmt.Errorf("failed to write key file: %w", err)
	}
	return kp, true, nil
}
