// Package client is a roomchat client library: it dials any of the server's
// transports, performs the encrypted handshake and exchanges lines.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/roomchat/pkg/crypto"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/aeolun/roomchat/pkg/transport"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 5 * time.Second

// Options tune Dial. The zero value is usable.
type Options struct {
	DialTimeout     time.Duration
	MaxLineBytes    int
	HostKeyCallback ssh.HostKeyCallback // SSH only; nil checks known_hosts
	TLSConfig       *tls.Config         // wss only
}

// RejectedError is an ERRO reply from the server.
type RejectedError struct {
	Msg string
}

func (e *RejectedError) Error() string {
	return "server rejected request: " + e.Msg
}

// UnexpectedReplyError is a reply that does not fit the current step.
type UnexpectedReplyError struct {
	Want string
	Got  string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("expected %s, got %q", e.Want, e.Got)
}

// Client is one connection to a roomchat server. Reads must come from a
// single goroutine; writes may come from any.
type Client struct {
	endpoint Endpoint
	conn     net.Conn
	reader   *protocol.LineReader
	warning  string

	mu    sync.Mutex // Protects writes and codec
	codec *crypto.Codec
	name  string
}

// Dial connects to addr (see ParseAddress) without performing the handshake.
func Dial(addr string, opts Options) (*Client, error) {
	endpoint, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	var (
		conn    net.Conn
		warning string
	)
	switch endpoint.Scheme {
	case "tcp":
		conn, err = net.DialTimeout("tcp", endpoint.Address(), opts.DialTimeout)
	case "ws", "wss":
		conn, err = dialWebSocket(endpoint, opts)
	case "ssh":
		conn, warning, err = dialSSH(endpoint, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := NewClient(conn, opts.MaxLineBytes)
	c.endpoint = endpoint
	c.warning = warning
	return c, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, maxLine int) *Client {
	return &Client{
		conn:   conn,
		reader: protocol.NewLineReader(conn, maxLine),
	}
}

func dialWebSocket(endpoint Endpoint, opts Options) (net.Conn, error) {
	u := url.URL{Scheme: endpoint.Scheme, Host: endpoint.Address(), Path: "/ws"}
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
		TLSClientConfig:  opts.TLSConfig,
	}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return transport.WebSocket(ws), nil
}

// sshStream closes the SSH client together with its session channel.
type sshStream struct {
	ssh.Channel
	client *ssh.Client
}

func (s *sshStream) Close() error {
	err := s.Channel.Close()
	s.client.Close()
	return err
}

func dialSSH(endpoint Endpoint, opts Options) (net.Conn, string, error) {
	callback, warning := opts.HostKeyCallback, ""
	if callback == nil {
		callback, warning = defaultHostKeyCallback()
	}

	config := &ssh.ClientConfig{
		User:            endpoint.SSHUser,
		HostKeyCallback: callback,
		Timeout:         opts.DialTimeout,
	}
	sshClient, err := ssh.Dial("tcp", endpoint.Address(), config)
	if err != nil {
		return nil, "", err
	}

	channel, requests, err := sshClient.OpenChannel("session", nil)
	if err != nil {
		sshClient.Close()
		return nil, "", err
	}
	go ssh.DiscardRequests(requests)

	stream := &sshStream{Channel: channel, client: sshClient}
	return transport.Stream(stream, sshClient.LocalAddr(), sshClient.RemoteAddr()), warning, nil
}

// Endpoint returns the parsed address the client dialed.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Warning returns a security warning about the connection, if any.
func (c *Client) Warning() string { return c.warning }

// Name returns the name registered by Handshake.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Handshake registers name and installs a fresh session key. After it
// returns nil every line in both directions is encrypted.
func (c *Client) Handshake(name string, timeout time.Duration) error {
	if err := c.Send(protocol.Format(protocol.Register{Name: name})); err != nil {
		return err
	}
	if _, err := c.expect(protocol.ReplyRegistered, timeout); err != nil {
		return err
	}

	if err := c.Send(protocol.Format(protocol.Authenticate{Name: name})); err != nil {
		return err
	}
	reply, err := c.expect(protocol.ReplyPublicKey, timeout)
	if err != nil {
		return err
	}
	serverKey := strings.TrimSpace(strings.TrimPrefix(reply, protocol.ReplyPublicKey))

	sessionKey, err := crypto.NewSessionKey()
	if err != nil {
		return err
	}
	wrapped, err := crypto.SealSessionKey(serverKey, sessionKey)
	if err != nil {
		return fmt.Errorf("wrap session key: %w", err)
	}
	codec, err := crypto.NewCodec(sessionKey)
	if err != nil {
		return err
	}
	if err := c.Send(protocol.Format(protocol.SymmetricKey{Key: wrapped})); err != nil {
		return err
	}

	c.mu.Lock()
	c.codec = codec
	c.name = name
	c.mu.Unlock()
	return nil
}

// expect reads one line and checks its keyword.
func (c *Client) expect(keyword string, timeout time.Duration) (string, error) {
	line, err := c.ReadLine(timeout)
	if err != nil {
		return "", err
	}
	if IsKeyword(line, protocol.ReplyError) {
		return "", &RejectedError{Msg: strings.TrimSpace(strings.TrimPrefix(line, protocol.ReplyError))}
	}
	if !IsKeyword(line, keyword) {
		return "", &UnexpectedReplyError{Want: keyword, Got: line}
	}
	return line, nil
}

// Send writes one line, encrypted once the handshake has finished.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codec != nil {
		wire, err := c.codec.Encode(line)
		if err != nil {
			return err
		}
		line = wire
	}
	return protocol.WriteLine(c.conn, line)
}

// SendCommand formats and sends cmd.
func (c *Client) SendCommand(cmd protocol.Command) error {
	return c.Send(protocol.Format(cmd))
}

// ReadLine returns the next plaintext line. A positive timeout bounds the
// wait; on expiry the error satisfies errors.Is(err, protocol.ErrTimeout).
func (c *Client) ReadLine(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", protocol.Closed(err)
	}

	line, err := c.reader.ReadLine()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		return line, nil
	}
	plain, err := codec.Decode(line)
	if err != nil {
		return "", protocol.BadCrypto(err)
	}
	return plain, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// IsKeyword reports whether line starts with the given keyword token.
func IsKeyword(line, keyword string) bool {
	return line == keyword || strings.HasPrefix(line, keyword+" ")
}

// IsTimeout reports whether err is a read timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, protocol.ErrTimeout)
}
