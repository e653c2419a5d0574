package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateX25519KeyPair(t *testing.T) {
	kp1, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair() error = %v", err)
	}

	// Check that private key is clamped correctly
	if kp1.PrivateKey[0]&7 != 0 {
		t.Error("PrivateKey not correctly clamped (bottom 3 bits should be 0)")
	}
	if kp1.PrivateKey[31]&128 != 0 {
		t.Error("PrivateKey not correctly clamped (top bit should be 0)")
	}
	if kp1.PrivateKey[31]&64 == 0 {
		t.Error("PrivateKey not correctly clamped (second-to-top bit should be 1)")
	}

	kp2, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair() second call error = %v", err)
	}
	if kp1.PublicKey == kp2.PublicKey {
		t.Error("Two generated key pairs have identical public keys")
	}
}

func TestComputeSharedSecretAgreement(t *testing.T) {
	alice, _ := GenerateX25519KeyPair()
	bob, _ := GenerateX25519KeyPair()

	s1, err := ComputeSharedSecret(alice.PrivateKey[:], bob.PublicKey[:])
	if err != nil {
		t.Fatalf("ComputeSharedSecret() error = %v", err)
	}
	s2, err := ComputeSharedSecret(bob.PrivateKey[:], alice.PublicKey[:])
	if err != nil {
		t.Fatalf("ComputeSharedSecret() error = %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets differ")
	}
}

func TestComputeSharedSecretRejectsLowOrder(t *testing.T) {
	kp, _ := GenerateX25519KeyPair()
	for i, point := range lowOrderPoints {
		if _, err := ComputeSharedSecret(kp.PrivateKey[:], point[:]); !errors.Is(err, ErrInvalidPublicKey) {
			t.Errorf("low order point %d: error = %v, want ErrInvalidPublicKey", i, err)
		}
	}
}

func TestEncryptDecryptMessage(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		key := bytes.Repeat([]byte{0x42}, size)
		ct, err := EncryptMessage(key, []byte("ola mundo"))
		if err != nil {
			t.Fatalf("EncryptMessage(%d) error = %v", size, err)
		}
		if len(ct) != NonceSize+len("ola mundo")+TagSize {
			t.Errorf("ciphertext length = %d", len(ct))
		}
		pt, err := DecryptMessage(key, ct)
		if err != nil {
			t.Fatalf("DecryptMessage(%d) error = %v", size, err)
		}
		if string(pt) != "ola mundo" {
			t.Errorf("plaintext = %q", pt)
		}
	}
}

func TestDecryptMessageTampered(t *testing.T) {
	key, _ := NewSessionKey()
	ct, _ := EncryptMessage(key, []byte("secret"))
	ct[len(ct)-1] ^= 0xff

	if _, err := DecryptMessage(key, ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := DecryptMessage(key, ct[:5]); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := NewCodec(make([]byte, 15)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("NewCodec error = %v, want ErrInvalidKeySize", err)
	}
	if _, err := EncryptMessage(make([]byte, 7), nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("EncryptMessage error = %v, want ErrInvalidKeySize", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	key, _ := NewSessionKey()
	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	for _, line := range []string{"", "LISTAR_SALAS", "ENVIAR_MENSAGEM geral olá, tudo bem?"} {
		wire, err := codec.Encode(line)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", line, err)
		}
		if strings.ContainsAny(wire, "\r\n ") {
			t.Errorf("wire text %q contains separators", wire)
		}
		got, err := codec.Decode(wire)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got != line {
			t.Errorf("Decode() = %q, want %q", got, line)
		}
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	key, _ := NewSessionKey()
	codec, _ := NewCodec(key)
	other, _ := NewCodec(bytes.Repeat([]byte{1}, 32))

	if _, err := codec.Decode("LISTAR_SALAS"); err == nil {
		t.Error("plaintext line decoded without error")
	}
	wire, _ := other.Encode("LISTAR_SALAS")
	if _, err := codec.Decode(wire); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("foreign key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestSessionKeyWrapRoundTrip(t *testing.T) {
	server, _ := GenerateX25519KeyPair()
	sessionKey, _ := NewSessionKey()

	wrapped, err := SealSessionKey(server.PublicKeyString(), sessionKey)
	if err != nil {
		t.Fatalf("SealSessionKey() error = %v", err)
	}
	got, err := server.OpenSessionKey(wrapped)
	if err != nil {
		t.Fatalf("OpenSessionKey() error = %v", err)
	}
	if !bytes.Equal(got, sessionKey) {
		t.Error("recovered session key differs")
	}
}

func TestOpenSessionKeyWrongServer(t *testing.T) {
	server, _ := GenerateX25519KeyPair()
	impostor, _ := GenerateX25519KeyPair()
	sessionKey, _ := NewSessionKey()

	wrapped, _ := SealSessionKey(impostor.PublicKeyString(), sessionKey)
	if _, err := server.OpenSessionKey(wrapped); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenSessionKeyMalformed(t *testing.T) {
	server, _ := GenerateX25519KeyPair()
	for _, input := range []string{"", "***", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := server.OpenSessionKey(input); err == nil {
			t.Errorf("OpenSessionKey(%q) succeeded", input)
		}
	}
}

func TestLoadOrGenerateKeyPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "server.pem")

	kp1, created, err := LoadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatalf("first load error = %v", err)
	}
	if !created {
		t.Error("expected key to be created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	kp2, created, err := LoadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatalf("second load error = %v", err)
	}
	if created {
		t.Error("expected existing key to be loaded")
	}
	if kp1.PublicKey != kp2.PublicKey {
		t.Error("reloaded key pair differs")
	}
}

func TestLoadOrGenerateKeyPairMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadOrGenerateKeyPair(path); !errors.Is(err, ErrMalformedKeyFile) {
		t.Errorf("error = %v, want ErrMalformedKeyFile", err)
	}
}

func TestLoadOrGenerateKeyPairEphemeral(t *testing.T) {
	kp, created, err := LoadOrGenerateKeyPair("")
	if err != nil || kp == nil || !created {
		t.Fatalf("ephemeral key: kp=%v created=%v err=%v", kp, created, err)
	}
}
