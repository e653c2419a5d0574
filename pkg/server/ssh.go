package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/aeolun/roomchat/pkg/transport"
	"golang.org/x/crypto/ssh"
)

// startSSHServer serves the line protocol inside SSH session channels. The
// SSH layer only carries bytes: clients authenticate through the regular
// handshake, so no SSH user authentication is required.
func (s *Server) startSSHServer() error {
	if s.app.Config.SSHAddr == "" {
		return nil
	}

	hostKey, err := loadOrGenerateHostKey(s.app.Config.SSHHostKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: "SSH-2.0-roomchat",
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", s.app.Config.SSHAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.app.Config.SSHAddr, err)
	}
	s.sshListener = listener

	errorLog.Info().Str("addr", listener.Addr().String()).Msg("SSH server listening")

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, config)

	return nil
}

// acceptSSHLoop accepts incoming SSH connections
func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Warn().Err(err).Msg("SSH accept error")
			continue
		}

		go s.handleSSHConnection(conn, config)
	}
}

// handleSSHConnection performs the SSH handshake and runs one session per
// "session" channel the client opens.
func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		debugLog.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("SSH handshake failed")
		return
	}
	defer sshConn.Close()

	// Connections that never open a channel still go away on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			sshConn.Close()
		case <-done:
		}
	}()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			errorLog.Warn().Err(err).Msg("could not accept SSH channel")
			continue
		}

		go handleSSHChannelRequests(requests)
		go s.serveConn(transport.Stream(channel, sshConn.LocalAddr(), sshConn.RemoteAddr()), "ssh")
	}
}

func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// loadOrGenerateHostKey loads the SSH host key at path, generating and saving
// an Ed25519 key when the file does not exist. An empty path yields a key
// that lives only as long as the process.
func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		keyBytes, err := os.ReadFile(path)
		if err == nil {
			key, err := ssh.ParsePrivateKey(keyBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse host key: %w", err)
			}
			errorLog.Info().Str("path", path).Msg("loaded SSH host key")
			return key, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read host key: %w", err)
		}
	}

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	if path == "" {
		return signer, nil
	}

	block, err := ssh.MarshalPrivateKey(privateKey, "roomchat host key")
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}

	errorLog.Info().Str("path", path).Msg("generated and saved new SSH host key")
	return signer, nil
}
