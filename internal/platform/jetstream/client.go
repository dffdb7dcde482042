// Package jetstream consumes an AT Protocol Jetstream websocket feed. Events
// are handed to a Handler in batches; the cursor advances only after a batch
// is handled, and reconnects resume from it.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event kinds.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Commit operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one Jetstream message.
type Event struct {
	DID      string    `json:"did"`
	TimeUS   int64     `json:"time_us"`
	Kind     string    `json:"kind"`
	Commit   *Commit   `json:"commit,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	Account  *Account  `json:"account,omitempty"`
}

// Commit is a repository record operation.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// Identity announces a change to an account's DID document or handle.
type Identity struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

// Account announces an account status change.
type Account struct {
	DID    string `json:"did"`
	Active bool   `json:"active"`
	Status string `json:"status,omitempty"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

// Handler processes one batch of events. An error is fatal: the client stops
// without advancing its cursor.
type Handler interface {
	HandleEvents(ctx context.Context, events []Event) error
}

// HandlerError wraps a handler failure returned from Run.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string { return "jetstream handler: " + e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// Config holds client configuration.
type Config struct {
	URL               string
	WantedCollections []string
	BatchSize         int
	FlushInterval     time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReadLimit         int64
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 2 << 20
	}
}

// Client is a reconnecting Jetstream subscriber.
type Client struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	cursor  atomic.Int64
}

// NewClient creates a client. Call Run to start consuming.
func NewClient(cfg Config, h Handler, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("jetstream url not configured")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse jetstream url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Client{cfg: cfg, handler: h, logger: logger}, nil
}

// Cursor returns the time_us of the last handled event.
func (c *Client) Cursor() int64 {
	return c.cursor.Load()
}

// Run consumes until ctx ends or the handler fails, reconnecting after
// transport errors. cursor resumes the feed; zero starts live.
func (c *Client) Run(ctx context.Context, cursor int64) error {
	c.cursor.Store(cursor)
	delay := c.cfg.ReconnectDelay

	for {
		received, err := c.session(ctx)
		var herr *HandlerError
		if errors.As(err, &herr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = c.cfg.ReconnectDelay
		}
		c.logger.Warn("jetstream disconnected, reconnecting",
			"error", err,
			"cursor", c.cursor.Load(),
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection. It reports whether any event was handled.
func (c *Client) session(ctx context.Context) (bool, error) {
	u, err := SubscribeURL(c.cfg.URL, c.cfg.WantedCollections, c.cursor.Load())
	if err != nil {
		return false, err
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return false, fmt.Errorf("dial jetstream: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck // close after a failed session is best-effort
	conn.SetReadLimit(c.cfg.ReadLimit)
	c.logger.Info("jetstream connected", "cursor", c.cursor.Load())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, c.cfg.BatchSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			var ev Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				readErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	received := false
	batch := make([]Event, 0, c.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.handler.HandleEvents(ctx, batch); err != nil {
			return &HandlerError{Err: err}
		}
		c.cursor.Store(batch[len(batch)-1].TimeUS)
		received = true
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					if err := flush(); err != nil {
						return received, err
					}
				}
				return received, <-readErr
			}
			batch = append(batch, ev)
			if len(batch) >= c.cfg.BatchSize {
				if err := flush(); err != nil {
					return received, err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return received, err
			}
		}
	}
}

// SubscribeURL builds the subscription URL for base.
func SubscribeURL(base string, collections []string, cursor int64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse jetstream url: %w", err)
	}
	q := u.Query()
	q.Del("wantedCollections")
	for _, c := range collections {
		q.Add("wantedCollections", c)
	}
	q.Del("cursor")
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
