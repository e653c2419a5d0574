package server

import (
	"net"
	"sync"
	"time"

	"github.com/aeolun/roomchat/pkg/crypto"
	"github.com/aeolun/roomchat/pkg/protocol"
)

// SafeConn wraps a net.Conn with line framing, write synchronization and,
// once the handshake installs a session key, transparent encryption.
//
// Only the session goroutine reads. Writes may also come from shutdown paths,
// so they are serialized to keep lines from interleaving on the wire.
type SafeConn struct {
	conn   net.Conn
	reader *protocol.LineReader
	mu     sync.Mutex // Protects writes to conn
	codec  *crypto.Codec
}

// NewSafeConn wraps a net.Conn. maxLine bounds a single incoming line.
func NewSafeConn(conn net.Conn, maxLine int) *SafeConn {
	return &SafeConn{
		conn:   conn,
		reader: protocol.NewLineReader(conn, maxLine),
	}
}

// Encrypt switches the connection to encrypted lines in both directions.
func (sc *SafeConn) Encrypt(codec *crypto.Codec) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.codec = codec
}

// Send writes one line, encrypting it when a session key is installed.
func (sc *SafeConn) Send(line string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.codec != nil {
		wire, err := sc.codec.Encode(line)
		if err != nil {
			return protocol.BadCrypto(err)
		}
		line = wire
	}
	return protocol.WriteLine(sc.conn, line)
}

// Receive reads one line. A positive timeout bounds the wait and yields a
// protocol.ErrTimeout error when it expires; zero waits indefinitely.
// Lines that fail to decrypt are reported as KindBadCrypto.
func (sc *SafeConn) Receive(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := sc.conn.SetReadDeadline(deadline); err != nil {
		return "", protocol.Closed(err)
	}

	line, err := sc.reader.ReadLine()
	if err != nil {
		return "", err
	}

	sc.mu.Lock()
	codec := sc.codec
	sc.mu.Unlock()
	if codec == nil {
		return line, nil
	}
	plain, err := codec.Decode(line)
	if err != nil {
		return "", protocol.BadCrypto(err)
	}
	return plain, nil
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
