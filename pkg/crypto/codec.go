package crypto

import (
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// Codec turns plaintext lines into base64(nonce || AES-GCM ciphertext) and
// back. It holds only the session key and is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec for a 16, 24 or 32 byte session key.
func NewCodec(key []byte) (*Codec, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: gcm}, nil
}

// Encode encrypts line and returns its wire text (without terminator).
func (c *Codec) Encode(line string) (string, error) {
	sealed, err := seal(c.aead, []byte(line))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. Any failure means the line cannot be trusted.
func (c *Codec) Decode(wire string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	plain, err := open(c.aead, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
