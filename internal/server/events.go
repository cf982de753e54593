package server

import (
	"relaychat/internal/protocol"
	"relaychat/internal/session"
)

// EventKind names a session lifecycle transition.
type EventKind int

const (
	// Accepted: the dispatcher admitted a socket (new or migrated).
	Accepted EventKind = iota
	// Authenticated: a ghost claimed its first nick.
	Authenticated
	// Dropped: the session's handler has exited.
	Dropped
)

func (k EventKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Authenticated:
		return "authenticated"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

// Event is one lifecycle transition, consumed once by the coordinator.
type Event struct {
	Kind    EventKind
	Session *session.Session
}

// welcome is the notice sent to a freshly authenticated session.
const welcome = "Welcome!"

func (s *Server) emit(kind EventKind, sess *session.Session) {
	s.events <- Event{Kind: kind, Session: sess}
}

// coordinate applies lifecycle events in emission order until the
// event queue is closed and drained.
func (s *Server) coordinate() error {
	for ev := range s.events {
		s.logger.Debug("event %s: %s", ev.Kind, ev.Session)
		switch ev.Kind {
		case Accepted:
			s.send(ev.Session, protocol.Challenge{})
		case Authenticated:
			s.send(ev.Session, protocol.Notice{Message: welcome})
			s.send(ev.Session, protocol.UserList{Users: s.reg.Roster(ev.Session)})
		case Dropped:
			if s.reg.Remove(ev.Session) {
				s.logger.Info("%s disconnected", ev.Session)
			}
		}
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(ev)
		}
	}
	return nil
}

// send writes m to sess, logging rather than returning failures: the
// session's own handler is responsible for noticing a dead socket.
func (s *Server) send(sess *session.Session, m protocol.Message) {
	if err := sess.Send(m); err != nil {
		s.logger.Verbose("send %s to %s: %v", m.Kind(), sess, err)
		s.stats.RecordError(err.Error())
	}
}
