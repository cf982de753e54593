// Package session represents one client connection on the server: the
// socket it talks over and the identity it has claimed.
//
// The socket and the identity are guarded independently, so scanning
// the identities of every session (nick lookups, rosters) never waits
// on a slow write, and a write never waits on an identity change.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
)

type connState int

const (
	stateLive connState = iota
	// stateSuspended: the handler saw a read timeout and is waiting
	// for a replacement socket from the same host.
	stateSuspended
	// stateRetired: the handler is gone, the session cannot be revived.
	stateRetired
)

// Session binds a socket to an identity for the lifetime of one
// handler.  All methods are safe for concurrent use.
type Session struct {
	id      uuid.UUID
	created time.Time
	stats   *metrics.Collector

	// writeMu serializes whole frames onto the socket.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	// connMu guards the socket handle and its migration state.
	connMu   sync.Mutex
	conn     net.Conn
	gen      int
	state    connState
	migrated chan struct{}

	identMu sync.RWMutex
	ident   Identity
}

// New creates a ghost session for conn.  addr is the peer address the
// identity is keyed on; the server passes conn.RemoteAddr().
func New(conn net.Conn, addr net.Addr, writeTimeout time.Duration, stats *metrics.Collector) *Session {
	return &Session{
		id:           uuid.New(),
		created:      time.Now(),
		stats:        stats,
		writeTimeout: writeTimeout,
		conn:         conn,
		migrated:     make(chan struct{}),
		ident:        Ghost(addr),
	}
}

// ID is a stable identifier that survives nick changes and migration.
func (s *Session) ID() uuid.UUID { return s.id }

// ── Identity ─────────────────────────────────────────────────────────

// Identity returns a copy of the current identity.
func (s *Session) Identity() Identity {
	s.identMu.RLock()
	defer s.identMu.RUnlock()
	return s.ident
}

// Update applies fn to the identity under the write lock.
func (s *Session) Update(fn func(Identity) Identity) {
	s.identMu.Lock()
	s.ident = fn(s.ident)
	s.identMu.Unlock()
}

// Nick is shorthand for Identity().Nick().
func (s *Session) Nick() (string, bool) { return s.Identity().Nick() }

// Equal compares sessions by their current identity.
func (s *Session) Equal(other *Session) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	return s.Identity().Equal(other.Identity())
}

func (s *Session) String() string { return s.Identity().String() }

// ── Socket ───────────────────────────────────────────────────────────

// Current returns the socket in use and its generation.  The
// generation changes every time the session migrates.
func (s *Session) Current() (net.Conn, int) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn, s.gen
}

// Send writes one framed message.  Concurrent senders never interleave
// bytes on the wire.  A retired session returns errors.ErrSessionClosed.
func (s *Session) Send(m protocol.Message) error {
	frame := protocol.Frame(m)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.connMu.Lock()
	conn, retired := s.conn, s.state == stateRetired
	s.connMu.Unlock()
	if retired {
		return errors.ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)) //nolint:errcheck
	}
	n, err := conn.Write(frame)
	s.stats.BytesSent(int64(n))
	if err != nil {
		return errors.Wrap("write", s.String(), err)
	}
	s.stats.FrameSent()
	return nil
}

// TimedOut reports whether the socket is known to have timed out,
// either because the handler saw it or the kernel flagged it.
func (s *Session) TimedOut() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.timedOutLocked()
}

func (s *Session) timedOutLocked() bool {
	switch s.state {
	case stateSuspended:
		return true
	case stateRetired:
		return false
	}
	return socketTimedOut(s.conn)
}

// Migrate moves the session onto conn if its current socket has timed
// out.  The identity is kept except for its address.  The old socket
// is closed, which wakes a handler still blocked reading it.
func (s *Session) Migrate(conn net.Conn, addr net.Addr) bool {
	s.connMu.Lock()
	if !s.timedOutLocked() {
		s.connMu.Unlock()
		return false
	}
	old := s.conn
	s.conn = conn
	s.gen++
	s.state = stateLive
	close(s.migrated)
	s.migrated = make(chan struct{})
	s.connMu.Unlock()

	old.Close() //nolint:errcheck
	s.Update(func(id Identity) Identity { return id.WithAddr(addr) })
	return true
}

// Suspend marks generation gen as timed out and returns a channel that
// is closed once a replacement socket arrives.  If the session already
// migrated past gen the returned channel is closed.
func (s *Session) Suspend(gen int) <-chan struct{} {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.gen != gen {
		done := make(chan struct{})
		close(done)
		return done
	}
	if s.state == stateLive {
		s.state = stateSuspended
	}
	return s.migrated
}

// Retire ends the session for generation gen.  It returns false if the
// session migrated past gen, in which case the caller should carry on
// with the new socket.
func (s *Session) Retire(gen int) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.gen != gen {
		return false
	}
	s.state = stateRetired
	return true
}

// Retired reports whether the session's handler has given it up.  A
// retired session may still be registered until it is removed.
func (s *Session) Retired() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.state == stateRetired
}

// Close retires the session and closes its socket.
func (s *Session) Close() error {
	s.connMu.Lock()
	s.state = stateRetired
	conn := s.conn
	s.connMu.Unlock()
	return conn.Close()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Info is a point-in-time description of a session.
type Info struct {
	ID            string `json:"id"`
	Nick          string `json:"nick,omitempty"`
	Addr          string `json:"addr"`
	Authenticated bool   `json:"authenticated"`
	Since         string `json:"since"`
}

// Info returns a snapshot of the session for status reporting.
func (s *Session) Info() Info {
	id := s.Identity()
	nick, ok := id.Nick()
	return Info{
		ID:            s.id.String(),
		Nick:          nick,
		Addr:          addrString(id.Addr()),
		Authenticated: ok,
		Since:         s.created.Format(time.RFC3339),
	}
}
