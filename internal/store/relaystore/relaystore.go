// Package relaystore implements store.Port against a relay peer speaking
// JSON envelopes over a websocket. Writes carry an EdDSA-signed token proving
// ownership of the target namespace; the relay rejects writes under a root
// whose token subject does not match.
package relaystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/store"
)

// message is the wire envelope. Client -> relay ops: put, get, on.
// Relay -> client ops: result, update.
type message struct {
	Op    string            `json:"op"`
	ID    uint64            `json:"id,omitempty"`
	Path  string            `json:"path,omitempty"`
	Key   string            `json:"key,omitempty"`
	Value string            `json:"value,omitempty"`
	Token string            `json:"token,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
	Err   string            `json:"error,omitempty"`
}

// TokenSource mints write tokens for a path. Implemented by WriteTokenSigner;
// kept as an interface so the session manager can lend signing capability
// without handing out the key.
type TokenSource interface {
	WriteToken(path string) (string, error)
}

const requestTimeout = 10 * time.Second

// Client is a store.Port over one relay connection. Subscriptions survive
// reconnects: the client re-sends every registered "on" after redialing.
type Client struct {
	url    string
	tokens TokenSource
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan message
	subs    map[string]map[int]store.UpdateFunc
	nextSub int
	closed  bool

	nextID atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Port = (*Client)(nil)

// Dial connects to the relay and starts the read loop.
func Dial(ctx context.Context, url string, tokens TokenSource, log *zap.Logger) (*Client, error) {
	c := &Client{
		url:     url,
		tokens:  tokens,
		log:     log,
		pending: map[uint64]chan message{},
		subs:    map[string]map[int]store.UpdateFunc{},
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.conn = conn
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	<-c.done
	return nil
}

// Put idempotently upserts value at path/key, authenticated by a write token.
func (c *Client) Put(ctx context.Context, path, key, value string) error {
	token, err := c.tokens.WriteToken(path)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, message{Op: "put", Path: path, Key: key, Value: value, Token: token})
	return err
}

// Get point-reads every key under path.
func (c *Client) Get(ctx context.Context, path string) (map[string]string, error) {
	resp, err := c.request(ctx, message{Op: "get", Path: path})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return map[string]string{}, nil
	}
	return resp.Data, nil
}

// On registers a push subscription for path. The relay delivers updates
// at-least-once and in no particular order.
func (c *Client) On(path string, fn store.UpdateFunc) (store.Unsubscribe, error) {
	c.mu.Lock()
	if c.subs[path] == nil {
		c.subs[path] = map[int]store.UpdateFunc{}
		c.mu.Unlock()
		if _, err := c.request(c.ctx, message{Op: "on", Path: path}); err != nil {
			c.mu.Lock()
			// Another goroutine may have piggybacked on this registration
			// while the request was in flight; keep its callback.
			if len(c.subs[path]) == 0 {
				delete(c.subs, path)
			}
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Lock()
	}
	id := c.nextSub
	c.nextSub++
	c.subs[path][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if m := c.subs[path]; m != nil {
			delete(m, id)
		}
	}, nil
}

// send writes one envelope without waiting for a result. Used where the
// read loop is not pumping responses, so a correlated wait would stall.
func (c *Client) send(ctx context.Context, conn *websocket.Conn, msg message) error {
	msg.ID = c.nextID.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// request sends one envelope and waits for the correlated result.
func (c *Client) request(ctx context.Context, msg message) (message, error) {
	msg.ID = c.nextID.Add(1)
	ch := make(chan message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return message{}, errs.ErrStoreUnavailable
	}
	conn := c.conn
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if conn == nil {
		return message{}, errs.ErrStoreUnavailable
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return message{}, err
	}
	wctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return message{}, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	select {
	case resp := <-ch:
		if resp.Err != "" {
			return message{}, fmt.Errorf("%w: %s", errs.ErrStoreUnavailable, resp.Err)
		}
		return resp, nil
	case <-wctx.Done():
		return message{}, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, wctx.Err())
	}
}

// readLoop dispatches relay messages and redials on connection loss.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("relay connection lost", zap.Error(err))
			if !c.reconnect() {
				return
			}
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed relay message", zap.Error(err))
			continue
		}

		switch msg.Op {
		case "update":
			c.dispatch(msg)
		default:
			c.mu.Lock()
			ch := c.pending[msg.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		}
	}
}

func (c *Client) dispatch(msg message) {
	c.mu.Lock()
	var fns []store.UpdateFunc
	for _, fn := range c.subs[msg.Path] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(store.Update{Path: msg.Path, Key: msg.Key, Value: msg.Value})
	}
}

// reconnect redials with exponential backoff and re-registers subscriptions.
// Returns false once the client is closed.
func (c *Client) reconnect() bool {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.log.Info("relay redial failed", zap.Error(err))
			return retry.RetryableError(err)
		}
		c.mu.Lock()
		paths := make([]string, 0, len(c.subs))
		for p := range c.subs {
			paths = append(paths, p)
		}
		c.mu.Unlock()

		// Replay registrations fire-and-forget before exposing the new
		// connection: the read loop is parked here, so waiting for
		// correlated results would stall until the request timeout.
		for _, p := range paths {
			if err := c.send(ctx, conn, message{Op: "on", Path: p}); err != nil {
				c.log.Warn("resubscribe failed", zap.String("path", p), zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "resubscribe failed")
				return retry.RetryableError(err)
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.log.Info("relay reconnected", zap.Int("subscriptions", len(paths)))
		return nil
	})
	return err == nil
}
