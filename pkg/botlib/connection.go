package botlib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/roomchat/pkg/client"
)

var errConnectionClosed = errors.New("connection closed")

// connection splits the server's line stream into replies, which answer the
// bot's own requests in order, and notices, which are handed to onNotice.
// Replies nobody is waiting for (ERRO for a message the bot sent) go to
// onStray.
type connection struct {
	client *client.Client

	// Serializes request/response exchanges
	requestMu sync.Mutex
	waiting   atomic.Bool
	responses chan string

	onNotice func(line string)
	onStray  func(line string)

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(c *client.Client, onNotice, onStray func(string)) *connection {
	return &connection{
		client:    c,
		responses: make(chan string, 1),
		onNotice:  onNotice,
		onStray:   onStray,
		done:      make(chan struct{}),
	}
}

// receiveLoop reads until the connection fails. Handlers run on this
// goroutine, so they must not wait for replies.
func (c *connection) receiveLoop() error {
	defer c.close()
	for {
		line, err := c.client.ReadLine(0)
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}

		switch {
		case isNotice(line):
			c.onNotice(line)
		case c.waiting.CompareAndSwap(true, false):
			c.responses <- line
		default:
			c.onStray(line)
		}
	}
}

// send writes a line that expects no reply.
func (c *connection) send(line string) error {
	return c.client.Send(line)
}

// sendAndWait writes a request and returns the next reply line.
func (c *connection) sendAndWait(line string, timeout time.Duration) (string, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	// Drop a reply that arrived after an earlier request timed out
	select {
	case <-c.responses:
	default:
	}

	c.waiting.Store(true)
	defer c.waiting.Store(false)

	if err := c.client.Send(line); err != nil {
		return "", err
	}
	select {
	case reply := <-c.responses:
		return reply, nil
	case <-c.done:
		return "", errConnectionClosed
	case <-time.After(timeout):
		// A reply may have been claimed just as the timer fired
		select {
		case reply := <-c.responses:
			return reply, nil
		default:
		}
		return "", fmt.Errorf("timeout waiting for reply to %q", line)
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.Close()
	})
}
