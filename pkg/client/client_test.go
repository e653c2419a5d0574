package client

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/roomchat/pkg/crypto"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	t.Setenv("ROOMCHAT_SSH_USER", "tester")

	tests := []struct {
		name    string
		raw     string
		want    Endpoint
		display string
		wantErr bool
	}{
		{"bare host", "example.com", Endpoint{Scheme: "tcp", Host: "example.com", Port: "8888"}, "tcp://example.com:8888", false},
		{"host and port", "example.com:9000", Endpoint{Scheme: "tcp", Host: "example.com", Port: "9000"}, "tcp://example.com:9000", false},
		{"tcp scheme", "tcp://127.0.0.1:7000", Endpoint{Scheme: "tcp", Host: "127.0.0.1", Port: "7000"}, "tcp://127.0.0.1:7000", false},
		{"websocket default port", "ws://chat.local", Endpoint{Scheme: "ws", Host: "chat.local", Port: "8889"}, "ws://chat.local:8889", false},
		{"secure websocket", "wss://chat.local:443", Endpoint{Scheme: "wss", Host: "chat.local", Port: "443"}, "wss://chat.local:443", false},
		{"ssh with user", "ssh://alice@chat.local", Endpoint{Scheme: "ssh", Host: "chat.local", Port: "8890", SSHUser: "alice"}, "ssh://alice@chat.local:8890", false},
		{"ssh default user", "ssh://chat.local:22", Endpoint{Scheme: "ssh", Host: "chat.local", Port: "22", SSHUser: "tester"}, "ssh://tester@chat.local:22", false},
		{"ipv6 without port", "[::1]", Endpoint{Scheme: "tcp", Host: "::1", Port: "8888"}, "tcp://[::1]:8888", false},
		{"empty", "   ", Endpoint{}, "", true},
		{"unknown scheme", "http://chat.local", Endpoint{}, "", true},
		{"missing host", "ws://", Endpoint{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.display, got.String())
		})
	}
}

// fakeServer answers the handshake on the other end of a pipe and returns
// the session key the client installed.
func fakeServer(t *testing.T, conn net.Conn, keys *crypto.X25519KeyPair) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		lr := protocol.NewLineReader(conn, 0)

		if line, err := lr.ReadLine(); err != nil || line != "REGISTRO alice" {
			return
		}
		protocol.WriteLine(conn, protocol.ReplyRegistered)

		if line, err := lr.ReadLine(); err != nil || line != "AUTENTICACAO alice" {
			return
		}
		protocol.WriteLine(conn, protocol.PublicKeyReply(keys.PublicKeyString()))

		line, err := lr.ReadLine()
		if err != nil {
			return
		}
		cmd, ok := protocol.Parse(line).(protocol.SymmetricKey)
		if !ok {
			return
		}
		key, err := keys.OpenSessionKey(cmd.Key)
		if err != nil {
			return
		}
		out <- key
	}()
	return out
}

func TestHandshake(t *testing.T) {
	keys, err := crypto.GenerateX25519KeyPair()
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	c := NewClient(clientSide, 0)
	defer c.Close()

	keyCh := fakeServer(t, serverSide, keys)
	require.NoError(t, c.Handshake("alice", time.Second))
	assert.Equal(t, "alice", c.Name())

	var key []byte
	select {
	case key = <-keyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the session key")
	}
	require.NotNil(t, key)

	// Lines now travel encrypted with the shared key
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	wire, err := codec.Encode("SALAS geral")
	require.NoError(t, err)
	go protocol.WriteLine(serverSide, wire)

	line, err := c.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SALAS geral", line)

	go c.SendCommand(protocol.ListRooms{})
	raw, err := protocol.NewLineReader(serverSide, 0).ReadLine()
	require.NoError(t, err)
	assert.NotEqual(t, "LISTAR_SALAS", raw)
	plain, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "LISTAR_SALAS", plain)
}

func TestHandshakeRejected(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	c := NewClient(clientSide, 0)
	defer c.Close()

	go func() {
		lr := protocol.NewLineReader(serverSide, 0)
		if _, err := lr.ReadLine(); err == nil {
			protocol.WriteLine(serverSide, protocol.Erro(protocol.MsgUserExists))
		}
	}()

	err := c.Handshake("alice", time.Second)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, protocol.MsgUserExists, rejected.Msg)
}

func TestHandshakeUnexpectedReply(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	c := NewClient(clientSide, 0)
	defer c.Close()

	go func() {
		lr := protocol.NewLineReader(serverSide, 0)
		if _, err := lr.ReadLine(); err == nil {
			protocol.WriteLine(serverSide, "SALAS")
		}
	}()

	err := c.Handshake("alice", time.Second)
	var unexpected *UnexpectedReplyError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, protocol.ReplyRegistered, unexpected.Want)
}

func TestReadLineTimeout(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	c := NewClient(clientSide, 0)
	defer c.Close()

	_, err := c.ReadLine(20 * time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestIsKeyword(t *testing.T) {
	assert.True(t, IsKeyword("SALAS", "SALAS"))
	assert.True(t, IsKeyword("SALAS geral", "SALAS"))
	assert.False(t, IsKeyword("SALAS_X geral", "SALAS"))
	assert.False(t, IsKeyword(strings.ToLower("SALAS"), "SALAS"))
}
