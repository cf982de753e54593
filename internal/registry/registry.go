// Package registry holds the set of live chat sessions.  It is the only
// place nick uniqueness and per-host admission are decided, and it owns
// the broadcast fan-out.
//
// Every operation takes the registry lock for its own duration only;
// network writes always happen after the lock is released.
package registry

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
	"relaychat/internal/session"
	"relaychat/util"
)

// Admission is the outcome of [Registry.Admit].
type Admission int

const (
	// NewSession: no session existed for the host; a ghost was inserted.
	NewSession Admission = iota
	// MigratedSession: a timed-out session for the host took the new
	// socket and kept its identity.
	MigratedSession
	// Rejected: the host already has a live session.  The new socket
	// was sent AlreadyConnected and closed.
	Rejected
)

func (a Admission) String() string {
	switch a {
	case NewSession:
		return "new"
	case MigratedSession:
		return "migrated"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Options configure a Registry.
type Options struct {
	// WriteTimeout bounds every frame write to a session.
	WriteTimeout time.Duration
	Logger       *util.Logger
	Metrics      *metrics.Collector
}

// Registry is the shared collection of admitted sessions, kept in
// insertion order.
type Registry struct {
	mu       sync.Mutex
	sessions []*session.Session

	writeTimeout time.Duration
	logger       *util.Logger
	stats        *metrics.Collector
}

// New creates an empty registry.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Registry{
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
		stats:        opts.Metrics,
	}
}

// ── Admission ────────────────────────────────────────────────────────

// Admit decides what becomes of a freshly accepted socket.  It must
// only be called from a single goroutine (the accept dispatcher) so
// that probing an existing session and acting on the result cannot
// race another connection from the same host.
func (r *Registry) Admit(addr net.Addr, conn net.Conn) (*session.Session, Admission) {
	host := session.HostOf(addr)

	r.mu.Lock()
	var existing *session.Session
	for _, s := range r.sessions {
		// A retired session is only waiting for its Dropped event.
		if s.Retired() {
			continue
		}
		if s.Identity().Host() == host {
			existing = s
			break
		}
	}
	if existing == nil {
		s := session.New(conn, addr, r.writeTimeout, r.stats)
		r.sessions = append(r.sessions, s)
		r.mu.Unlock()
		r.stats.SessionOpened()
		return s, NewSession
	}
	r.mu.Unlock()

	if existing.Migrate(conn, addr) {
		r.stats.SessionMigrated()
		return existing, MigratedSession
	}

	r.reject(conn, addr)
	return existing, Rejected
}

func (r *Registry) reject(conn net.Conn, addr net.Addr) {
	r.stats.AdmissionRejected()
	if r.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)) //nolint:errcheck
	}
	n, err := conn.Write(protocol.Frame(protocol.AlreadyConnected))
	r.stats.BytesSent(int64(n))
	if err != nil {
		r.logger.Verbose("reject %s: %v", addr, err)
	} else {
		r.stats.FrameSent()
	}
	go lingerClose(conn)
}

// rejectLinger is how long a rejected socket is drained before closing.
const rejectLinger = 2 * time.Second

// lingerClose half-closes conn and discards what the peer still sends,
// so closing with unread input does not reset the connection before
// the peer has read the rejection.
func lingerClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()                                    //nolint:errcheck
		conn.SetReadDeadline(time.Now().Add(rejectLinger)) //nolint:errcheck
		io.Copy(io.Discard, conn)                          //nolint:errcheck
	}
	conn.Close() //nolint:errcheck
}

// ── Identity ─────────────────────────────────────────────────────────

// Claim binds nick to s unless another session already holds it.  The
// check and the identity change happen under the registry lock, so two
// sessions racing for the same nick cannot both win.  It returns the
// nick s held before the call ("" for a ghost) and whether the claim
// succeeded.
func (r *Registry) Claim(s *session.Session, nick string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, _ = s.Nick()
	if r.takenLocked(nick, s) {
		return prev, false
	}
	s.Update(func(id session.Identity) session.Identity { return id.WithNick(nick) })
	return prev, true
}

// takenLocked reports whether a live session other than except holds
// nick.  r.mu must be held.
func (r *Registry) takenLocked(nick string, except *session.Session) bool {
	for _, s := range r.sessions {
		if s == except || s.Retired() {
			continue
		}
		if n, ok := s.Nick(); ok && n == nick {
			return true
		}
	}
	return false
}

// ── Membership ───────────────────────────────────────────────────────

// Remove deletes s from the registry.  Removing a session that is not
// present is a no-op; the return value reports whether anything was
// removed.
func (r *Registry) Remove(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.sessions {
		if other == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			r.stats.SessionClosed()
			return true
		}
	}
	return false
}

// Lookup finds a session by id.
func (r *Registry) Lookup(id uuid.UUID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of registered sessions, ghosts included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Roster returns the nicks of every live authenticated session except
// exclude, in insertion order.
func (r *Registry) Roster(exclude *session.Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s == exclude || s.Retired() {
			continue
		}
		if nick, ok := s.Nick(); ok {
			users = append(users, nick)
		}
	}
	return users
}

// Snapshot describes every registered session.
func (r *Registry) Snapshot() []session.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	return out
}

// ── Fan-out ──────────────────────────────────────────────────────────

// Broadcast relays payload from s to every other registered session as
// a Refer carrying s's current nick.  Write failures are logged; the
// failing target stays in the registry until its own handler notices.
// It returns the number of sessions the frame was written to.
func (r *Registry) Broadcast(from *session.Session, payload protocol.User) int {
	nick, _ := from.Nick()
	return r.BroadcastAs(nick, from, payload)
}

// BroadcastAs is Broadcast with an explicit Refer.User, for relaying an
// Auth under a nick the sender does not (yet) hold.
func (r *Registry) BroadcastAs(user string, from *session.Session, payload protocol.User) int {
	msg := protocol.Refer{User: user, Message: payload}

	r.mu.Lock()
	targets := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != from && !s.Retired() {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	r.stats.Broadcast()
	delivered := 0
	for _, t := range targets {
		if err := t.Send(msg); err != nil {
			r.logger.Warn("broadcast to %s: %v", t, err)
			r.stats.RecordError(err.Error())
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every session's socket, which unblocks their
// handlers.  Sessions stay registered until their Dropped events are
// processed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := append([]*session.Session(nil), r.sessions...)
	r.mu.Unlock()
	for _, s := range all {
		s.Close() //nolint:errcheck
	}
}
