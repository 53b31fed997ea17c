package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

type ClientState string

const (
	StateDisconnected ClientState = "disconnected"
	StateSubscribed   ClientState = "subscribed"
)

// Client is the subscriber side of the TCP feed.
type Client struct {
	Mirror *Mirror

	mu    sync.Mutex
	conn  net.Conn
	state ClientState
}

func NewClient(mirror *Mirror) *Client {
	return &Client{Mirror: mirror, state: StateDisconnected}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe dials addr and waits for the server's welcome.
func (c *Client) Subscribe(ctx context.Context, addr string, msg SubscribeMessage) error {
	c.mu.Lock()
	if c.state == StateSubscribed {
		c.mu.Unlock()
		return errors.New("already subscribed")
	}
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	msg.Type = SubscribeMessageType
	if err := writeLine(conn, msg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	var ctl ControlMessage
	if err := json.Unmarshal(line, &ctl); err != nil || ctl.Type != WelcomeMessageType {
		_ = conn.Close()
		if ctl.Message != "" {
			return fmt.Errorf("subscribe rejected: %s", ctl.Message)
		}
		return errors.New("subscribe rejected")
	}

	c.mu.Lock()
	c.conn = &bufferedConn{Conn: conn, r: r}
	c.state = StateSubscribed
	c.mu.Unlock()
	return nil
}

// Run merges incoming events into the mirror until the context ends, the
// server goes away or Unsubscribe is called. onUpdate sees only merges that
// changed local state.
func (c *Client) Run(ctx context.Context, onUpdate func(ConflictUpdate)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not subscribed")
	}

	stop := context.AfterFunc(ctx, func() { c.Unsubscribe() })
	defer stop()

	err := Follow(ctx, conn, c.Mirror, onUpdate)
	c.Unsubscribe()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Unsubscribe is idempotent.
func (c *Client) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

// Follow reads line-delimited change events from r into mirror. Control
// lines are skipped.
func Follow(ctx context.Context, r io.Reader, mirror *Mirror, onUpdate func(ConflictUpdate)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ev ChangeEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Type == "" {
			continue
		}
		if cu, changed := mirror.Apply(ev); changed && onUpdate != nil {
			onUpdate(cu)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
