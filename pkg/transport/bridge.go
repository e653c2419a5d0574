// Package transport adapts message- and channel-oriented connections to
// net.Conn, so the line protocol runs unchanged over TCP, WebSocket and SSH.
//
// Each adapter is backed by a net.Pipe: the returned end supports read
// deadlines (which the session loop relies on for its bounded wait) even
// when the underlying transport does not.
package transport

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const (
	copyBufferSize = 32 * 1024
	closeGrace     = time.Second
)

// addrConn reports the addresses of the wrapped transport instead of the
// pipe's placeholder addresses.
type addrConn struct {
	net.Conn
	local, remote net.Addr
}

func (c *addrConn) LocalAddr() net.Addr  { return c.local }
func (c *addrConn) RemoteAddr() net.Addr { return c.remote }

// Stream adapts a plain byte stream without deadline support, such as an
// SSH channel. Closing either side closes the other.
func Stream(rwc io.ReadWriteCloser, local, remote net.Addr) net.Conn {
	outer, inner := net.Pipe()

	go func() {
		defer inner.Close()
		io.Copy(inner, rwc)
	}()
	go func() {
		defer rwc.Close()
		io.Copy(rwc, inner)
	}()

	return &addrConn{Conn: outer, local: local, remote: remote}
}

// WebSocket adapts a websocket connection. Incoming text or binary messages
// are concatenated into the byte stream; every write becomes one text
// message.
func WebSocket(ws *websocket.Conn) net.Conn {
	outer, inner := net.Pipe()

	go func() {
		defer inner.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if _, err := inner.Write(data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer ws.Close()
		buf := make([]byte, copyBufferSize)
		for {
			n, err := inner.Read(buf)
			if err != nil {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, buf[:n]); err != nil {
				return
			}
		}
	}()

	return &addrConn{Conn: outer, local: ws.LocalAddr(), remote: ws.RemoteAddr()}
}
