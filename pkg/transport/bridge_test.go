package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readOnly hides any deadline methods of the wrapped stream.
type readOnly struct{ io.ReadWriteCloser }

func TestStreamRoundTrip(t *testing.T) {
	peer, raw := net.Pipe()
	defer peer.Close()

	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	remote := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}
	conn := Stream(readOnly{raw}, local, remote)
	defer conn.Close()

	assert.Equal(t, local, conn.LocalAddr())
	assert.Equal(t, remote, conn.RemoteAddr())

	go peer.Write([]byte("REGISTRO alice\n"))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "REGISTRO alice\n", string(buf[:n]))

	go conn.Write([]byte("REGISTRO_OK\n"))
	n, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "REGISTRO_OK\n", string(buf[:n]))
}

func TestStreamDeadline(t *testing.T) {
	peer, raw := net.Pipe()
	defer peer.Close()
	conn := Stream(readOnly{raw}, nil, nil)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err := conn.Read(make([]byte, 8))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	// The stream is still usable after a timeout
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	go peer.Write([]byte("x"))
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestStreamPeerClose(t *testing.T) {
	peer, raw := net.Pipe()
	conn := Stream(readOnly{raw}, nil, nil)
	defer conn.Close()

	peer.Close()
	_, err := conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func TestWebSocketRoundTrip(t *testing.T) {
	accepted := make(chan net.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- WebSocket(ws)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	client := WebSocket(clientWS)
	defer client.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	defer server.Close()

	_, err = client.Write([]byte("LISTAR_SALAS\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "LISTAR_SALAS\n", string(buf[:n]))

	_, err = server.Write([]byte("SALAS geral\n"))
	require.NoError(t, err)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "SALAS geral\n", string(buf[:n]))

	// Closing one side surfaces as EOF on the other
	require.NoError(t, client.Close())
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = server.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
