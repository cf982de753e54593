package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"relaychat/internal/errors"
	"relaychat/internal/protocol"
	"relaychat/internal/session"
)

// maxConsecutiveErrors caps the non-terminal read errors tolerated in a
// row before a socket is given up on.
const maxConsecutiveErrors = 16

// handle owns sess until it leaves or its socket dies for good.  A
// socket that times out is kept for ReconnectGrace in case the same
// host comes back; the dispatcher then migrates the session and the
// handler carries on reading from the new socket.
func (s *Server) handle(ctx context.Context, sess *session.Session) {
	defer s.handlers.Done()
	defer s.emit(Dropped, sess)

	for {
		conn, gen := sess.Current()
		left, err := s.readLoop(sess, conn)
		if left {
			sess.Retire(gen)
			sess.Close() //nolint:errcheck
			return
		}

		if errors.IsTimeout(err) && s.opts.ReconnectGrace > 0 && ctx.Err() == nil {
			s.logger.Verbose("%s timed out; holding for %s", sess, s.opts.ReconnectGrace)
			timer := time.NewTimer(s.opts.ReconnectGrace)
			select {
			case <-sess.Suspend(gen):
				timer.Stop()
				continue
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}

		if !sess.Retire(gen) {
			// Migrated while we were failing; read the new socket.
			continue
		}
		if err != nil && !errors.IsClosed(err) {
			s.logger.Info("%s: %v", sess, err)
		}
		sess.Close() //nolint:errcheck
		return
	}
}

// readLoop reads and dispatches frames from conn.  It returns left=true
// when the session asked to leave, otherwise the terminal read error.
func (s *Server) readLoop(sess *session.Session, conn net.Conn) (left bool, err error) {
	var r io.Reader = conn
	if s.opts.IdleTimeout > 0 {
		r = &deadlineReader{conn: conn, timeout: s.opts.IdleTimeout}
	}

	fr := protocol.NewFrameReader(r, s.opts.MaxFrame)
	defer fr.Release()
	fr.OnRead = func(n int) { s.stats.BytesReceived(int64(n)) }
	fr.OnMalformed = func(frame []byte, err error) {
		s.stats.MalformedFrame()
		s.logger.Verbose("%s: dropped malformed frame (%d bytes): %v", sess, len(frame), err)
	}

	failures := 0
	for {
		m, err := fr.Next()
		if err != nil {
			if errors.IsTerminal(err) {
				if n := fr.Buffered(); n > 0 {
					s.logger.Debug("%s: discarding %d bytes of unfinished frame", sess, n)
				}
				return false, err
			}
			failures++
			s.stats.RecordError(err.Error())
			s.logger.Warn("%s: read: %v", sess, err)
			if failures >= maxConsecutiveErrors {
				return false, fmt.Errorf("giving up after %d read errors: %w", failures, err)
			}
			continue
		}
		failures = 0
		s.stats.FrameReceived()
		s.logger.Debug("%s: %s", sess, m.Kind())

		if s.dispatch(sess, m) {
			return true, nil
		}
	}
}

// ── Dispatch ─────────────────────────────────────────────────────────

// dispatch applies one message from sess and reports whether the
// session is leaving.
func (s *Server) dispatch(sess *session.Session, m protocol.Message) bool {
	u, ok := m.(protocol.User)
	if !ok {
		s.violation(sess, "%s is not a client message", m.Kind())
		return false
	}

	if auth, ok := u.(protocol.Auth); ok {
		s.authenticate(sess, auth)
		return false
	}

	nick, authed := sess.Nick()
	if !authed {
		if _, ok := u.(protocol.Leave); ok {
			s.logger.Verbose("%s left before authenticating", sess)
			return true
		}
		s.violation(sess, "%s before auth", u.Kind())
		return false
	}

	switch u := u.(type) {
	case protocol.Leave:
		s.logger.Info("%s left", sess)
		s.reg.Broadcast(sess, u)
		return true
	case protocol.RequestUserList:
		s.send(sess, protocol.UserList{Users: s.reg.Roster(sess)})
	case protocol.Text:
		s.logger.Debug("<%s> %s", nick, u.Message)
		s.reg.Broadcast(sess, u)
	case protocol.Voice:
		s.reg.Broadcast(sess, u)
	}
	return false
}

// authenticate handles Auth in either state.  The attempt is relayed to
// everyone else whether or not it succeeds: a ghost's under the nick it
// asked for, a rename under the old nick.
func (s *Server) authenticate(sess *session.Session, auth protocol.Auth) {
	if auth.Nick == "" {
		s.violation(sess, "empty nick")
		return
	}

	prev, ok := s.reg.Claim(sess, auth.Nick)
	switch {
	case !ok:
		s.logger.Info("%s: nick %q is in use", sess, auth.Nick)
		s.send(sess, protocol.NickNameInUse)
	case prev == "":
		s.logger.Info("%s authenticated", sess)
		s.emit(Authenticated, sess)
	case prev != auth.Nick:
		s.logger.Info("%s renamed from %q", sess, prev)
	}

	user := prev
	if user == "" {
		user = auth.Nick
	}
	s.reg.BroadcastAs(user, sess, auth)
}

func (s *Server) violation(sess *session.Session, format string, args ...any) {
	err := &errors.ProtocolError{Session: sess.String(), Reason: fmt.Sprintf(format, args...)}
	s.stats.ProtocolViolation()
	s.logger.Verbose("%v", err)
}

// deadlineReader pushes the read deadline forward before every read,
// turning a silent peer into a timeout after the idle period.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	d.conn.SetReadDeadline(time.Now().Add(d.timeout)) //nolint:errcheck
	return d.conn.Read(p)
}
