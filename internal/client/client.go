// Package client talks to a running mshell socket server.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/antonkrylov/mshell/internal/protocol"
)

// Client is a single connection. Requests are strictly one at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *protocol.Reader
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: protocol.NewReader(conn)}, nil
}

// Execute sends one command line and waits for its response. A context
// deadline bounds the whole round trip.
func (c *Client) Execute(ctx context.Context, line string) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteRequest(c.conn, line); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	resp, err := c.r.ReadResponse()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	return resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
