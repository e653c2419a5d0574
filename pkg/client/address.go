package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultTCPPort  = "8888"
	defaultHTTPPort = "8889"
	defaultSSHPort  = "8890"
)

// Endpoint is a parsed server address.
type Endpoint struct {
	Scheme  string // "tcp", "ws", "wss" or "ssh"
	Host    string
	Port    string
	SSHUser string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// String returns the display form, with scheme.
func (e Endpoint) String() string {
	if e.Scheme == "ssh" && e.SSHUser != "" {
		return fmt.Sprintf("ssh://%s@%s", e.SSHUser, e.Address())
	}
	return fmt.Sprintf("%s://%s", e.Scheme, e.Address())
}

// ParseAddress accepts host[:port] (plain TCP) or a tcp://, ws://, wss:// or
// ssh://[user@] URL. Missing ports default per scheme.
func ParseAddress(raw string) (Endpoint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Endpoint{}, errors.New("server address is empty")
	}

	scheme := "tcp"
	user := ""
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		if u.User != nil {
			user = u.User.Username()
		}
		hostPort = u.Host
	}

	var defaultPort string
	switch scheme {
	case "tcp":
		defaultPort = defaultTCPPort
	case "ws", "wss":
		defaultPort = defaultHTTPPort
	case "ssh":
		defaultPort = defaultSSHPort
		if user == "" {
			user = defaultSSHUser()
		}
	default:
		return Endpoint{}, fmt.Errorf("unsupported server scheme %q", scheme)
	}

	host, port, err := splitHostPortWithDefault(hostPort, defaultPort)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Scheme: scheme, Host: host, Port: port, SSHUser: user}, nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("ROOMCHAT_SSH_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}

// defaultHostKeyCallback checks ~/.ssh/known_hosts (or $SSH_KNOWN_HOSTS).
// Without any known_hosts file it accepts every key and says so in the
// returned warning.
func defaultHostKeyCallback() (ssh.HostKeyCallback, string) {
	var paths []string
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		paths = filepath.SplitList(env)
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = []string{filepath.Join(home, ".ssh", "known_hosts")}
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) > 0 {
		if cb, err := knownhosts.New(existing...); err == nil {
			return cb, ""
		}
	}
	return ssh.InsecureIgnoreHostKey(), "SSH host key verification is disabled (known_hosts not found); connection is vulnerable to MITM attacks"
}
