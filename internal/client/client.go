// Package client is the chat client core: it connects to a server,
// authenticates, folds server frames into a State the UI can render,
// and turns user actions into protocol messages.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"relaychat/internal/errors"
	"relaychat/internal/protocol"
	"relaychat/internal/retry"
	"relaychat/internal/transport"
	"relaychat/util"
)

// ── Actions ──────────────────────────────────────────────────────────

// Action is something the user asked for.
type Action interface{ action() }

// Say sends a line of text to everyone else.
type Say struct{ Text string }

// Rename asks the server for a new nick.
type Rename struct{ Nick string }

// RequestUsers refreshes the roster.
type RequestUsers struct{}

// Quit leaves the chat with an optional parting message.
type Quit struct{ Message *string }

func (Say) action()          {}
func (Rename) action()       {}
func (RequestUsers) action() {}
func (Quit) action()         {}

// ── Client ───────────────────────────────────────────────────────────

// Options configure Dial.
type Options struct {
	Addr string
	Nick string

	// Dialer defaults to a TCPDialer with a 10s timeout.
	Dialer transport.Dialer
	// Backoff governs the initial connect; nil means retry.DialBackoff.
	Backoff *retry.Backoff

	WriteTimeout time.Duration
	MaxFrame     int
	// History caps retained messages (0 = unbounded).
	History int

	Logger *util.Logger
	// OnEntry, if set, is called for every history line as it is added,
	// from the client's reader goroutine.
	OnEntry func(Entry)
}

// Client is a connected chat client.
type Client struct {
	opts   Options
	conn   net.Conn
	state  *State
	logger *util.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	welcomed bool   // the server accepted our first Auth
	previous string // nick to fall back to if a rename is refused
	quitting bool

	done chan struct{}
	err  error
}

// Dial connects to the server, sends Auth{nick} and starts reading.
// The connect is retried per Options.Backoff; everything after that is
// reported through Done and Err.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	if opts.Dialer == nil {
		opts.Dialer = &transport.TCPDialer{Timeout: 10 * time.Second}
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DialBackoff()
	}
	logger := opts.Logger

	bo := *opts.Backoff
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("connect attempt %d failed: %v; retrying in %s", attempt, err, wait.Round(time.Millisecond))
	}

	var conn net.Conn
	logger.Info("connecting to %s", opts.Addr)
	err := bo.Do(ctx, func(int) error {
		c, err := opts.Dialer.Dial(ctx, "tcp", opts.Addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to %s", conn.RemoteAddr())

	c := &Client{
		opts:   opts,
		conn:   conn,
		state:  NewState(opts.Nick, opts.History),
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := c.write(protocol.Auth{Nick: opts.Nick}); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// State returns a read-only snapshot for rendering.
func (c *Client) State() Snapshot { return c.state.Snapshot() }

// SetInput records the line the user is editing.
func (c *Client) SetInput(in string) { c.state.SetInput(in) }

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err explains why Done was closed: nil after a Quit, ErrAlreadyConnected
// or ErrNickInUse when the server turned us away, otherwise the error
// that ended the connection.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close drops the connection without saying goodbye.
func (c *Client) Close() error {
	c.mu.Lock()
	c.quitting = true
	c.mu.Unlock()
	return c.conn.Close()
}

// Send performs a user action.
func (c *Client) Send(a Action) error {
	select {
	case <-c.done:
		return errors.ErrNotConnected
	default:
	}

	switch a := a.(type) {
	case Say:
		// Echo exactly what the others will receive.
		text := protocol.Sanitize(a.Text)
		if err := c.write(protocol.Text{Message: text}); err != nil {
			return err
		}
		c.add(c.state.Nick(), text)
	case Rename:
		nick := protocol.Sanitize(a.Nick)
		if nick == "" {
			return fmt.Errorf("nick must not be empty")
		}
		c.mu.Lock()
		c.previous = c.state.Nick()
		c.mu.Unlock()
		c.state.setNick(nick)
		return c.write(protocol.Auth{Nick: nick})
	case RequestUsers:
		return c.write(protocol.RequestUserList{})
	case Quit:
		c.mu.Lock()
		c.quitting = true
		c.mu.Unlock()
		return c.write(protocol.Leave{Message: a.Message})
	default:
		return fmt.Errorf("unknown action %T", a)
	}
	return nil
}

func (c *Client) write(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)) //nolint:errcheck
	}
	if _, err := c.conn.Write(protocol.Frame(m)); err != nil {
		return errors.Wrap("write", c.opts.Addr, err)
	}
	return nil
}

func (c *Client) add(source, text string) {
	e := Entry{Time: time.Now(), Source: source, Text: text}
	c.state.append(e)
	if c.opts.OnEntry != nil {
		c.opts.OnEntry(e)
	}
}

func (c *Client) notice(format string, args ...any) {
	c.add(NoticeSource, fmt.Sprintf(format, args...))
}

// ── Reader ───────────────────────────────────────────────────────────

func (c *Client) readLoop() {
	fr := protocol.NewFrameReader(c.conn, c.opts.MaxFrame)
	defer fr.Release()
	fr.OnMalformed = func(frame []byte, err error) {
		c.logger.Verbose("dropped malformed frame (%d bytes): %v", len(frame), err)
	}

	var err error
	for {
		var m protocol.Message
		m, err = fr.Next()
		if err != nil {
			break
		}
		c.logger.Debug("received %s", m.Kind())
		if err = c.handle(m); err != nil {
			break
		}
	}
	c.finish(err)
}

func (c *Client) finish(err error) {
	c.conn.Close() //nolint:errcheck

	c.mu.Lock()
	quitting := c.quitting
	c.mu.Unlock()

	switch {
	case errors.Is(err, errors.ErrAlreadyConnected), errors.Is(err, errors.ErrNickInUse):
	case quitting && errors.IsClosed(err):
		err = nil
	case errors.IsClosed(err):
		err = errors.ErrServerClosed
	}
	c.err = err
	close(c.done)
}

// handle applies one server frame.  A non-nil error ends the client.
func (c *Client) handle(m protocol.Message) error {
	switch m := m.(type) {
	case protocol.Challenge:
		// Auth was sent on connect.
	case protocol.Notice:
		c.mu.Lock()
		c.welcomed = true
		c.mu.Unlock()
		c.notice("%s", m.Message)
	case protocol.UserList:
		c.state.setUsers(m.Users)
	case protocol.Refer:
		c.refer(m)
	case protocol.Error:
		return c.refused(m)
	default:
		c.logger.Verbose("ignoring %s from server", m.Kind())
	}
	return nil
}

func (c *Client) refer(r protocol.Refer) {
	switch m := r.Message.(type) {
	case protocol.Auth:
		if r.User == m.Nick {
			if c.state.addUser(m.Nick) {
				c.notice("%s joined", m.Nick)
			}
		} else {
			c.state.renameUser(r.User, m.Nick)
			c.notice("%s is now known as %s", r.User, m.Nick)
		}
		// A relayed Auth may have been refused; the roster settles it.
		if err := c.write(protocol.RequestUserList{}); err != nil {
			c.logger.Verbose("request user list: %v", err)
		}
	case protocol.Leave:
		c.state.removeUser(r.User)
		if m.Message != nil && *m.Message != "" {
			c.notice("%s left (%s)", r.User, *m.Message)
		} else {
			c.notice("%s left", r.User)
		}
	case protocol.Text:
		c.add(r.User, m.Message)
	case protocol.Voice:
		c.logger.Debug("ignoring %d bytes of voice from %s", len(m.Stream), r.User)
	default:
		c.logger.Verbose("ignoring relayed %s from %s", m.Kind(), r.User)
	}
}

func (c *Client) refused(e protocol.Error) error {
	switch e {
	case protocol.AlreadyConnected:
		c.notice("already connected from this address")
		return errors.ErrAlreadyConnected
	case protocol.NickNameInUse:
		c.mu.Lock()
		welcomed, previous := c.welcomed, c.previous
		c.mu.Unlock()
		if !welcomed {
			c.notice("nick %q is already in use", c.state.Nick())
			return fmt.Errorf("%w: %s", errors.ErrNickInUse, c.state.Nick())
		}
		c.notice("nick %q is already in use", c.state.Nick())
		if previous != "" {
			c.state.setNick(previous)
		}
	}
	return nil
}
