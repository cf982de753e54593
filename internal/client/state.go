package client

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// NoticeSource is the Entry.Source of server notices and local status
// lines.
const NoticeSource = "NOTICE"

// Entry is one line of chat history, stamped when it was received.
type Entry struct {
	Time   time.Time
	Source string
	Text   string
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] <%s> %s", e.Time.Format("15:04"), e.Source, e.Text)
}

// Snapshot is a read-only copy of the client state for rendering.
type Snapshot struct {
	Nick     string
	Users    []string
	Messages []Entry
	Input    string
}

// State is what the UI renders: who is here, what was said, and the
// line being typed.  Safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	nick     string
	users    []string
	messages []Entry
	input    string
	history  int
}

// NewState starts with nick as the only known user.  history caps the
// retained messages (0 = unbounded).
func NewState(nick string, history int) *State {
	return &State{nick: nick, users: []string{nick}, history: history}
}

// Snapshot returns a deep copy.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Nick:     s.nick,
		Users:    slices.Clone(s.users),
		Messages: slices.Clone(s.messages),
		Input:    s.input,
	}
}

// Nick is the nick this client goes by.
func (s *State) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

// SetInput records the line being edited.
func (s *State) SetInput(in string) {
	s.mu.Lock()
	s.input = in
	s.mu.Unlock()
}

func (s *State) append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, e)
	if s.history > 0 && len(s.messages) > s.history {
		s.messages = slices.Delete(s.messages, 0, len(s.messages)-s.history)
	}
}

// setUsers replaces the roster with others, keeping ourselves first.
func (s *State) setUsers(others []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(others)+1)
	users = append(users, s.nick)
	for _, u := range others {
		if u != s.nick {
			users = append(users, u)
		}
	}
	s.users = users
}

// addUser reports whether nick was new.
func (s *State) addUser(nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.users, nick) {
		return false
	}
	s.users = append(s.users, nick)
	return true
}

func (s *State) removeUser(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nick == s.nick {
		return
	}
	s.users = slices.DeleteFunc(s.users, func(u string) bool { return u == nick })
}

func (s *State) renameUser(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.users, to) {
		if from != s.nick {
			s.users = slices.DeleteFunc(s.users, func(u string) bool { return u == from })
		}
		return
	}
	if i := slices.Index(s.users, from); i >= 0 {
		s.users[i] = to
		return
	}
	if !slices.Contains(s.users, to) {
		s.users = append(s.users, to)
	}
}

// setNick changes our own nick and its roster entry.
func (s *State) setNick(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.users, s.nick); i >= 0 {
		s.users[i] = nick
	}
	s.nick = nick
}
