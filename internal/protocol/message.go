// Package protocol defines the relaychat wire protocol: the closed set
// of messages exchanged between clients and the server, their binary
// encoding, and CR LF delimited framing on top of a TCP stream.
//
// The protocol is private and versionless.  Client and server must be
// built from the same package; there is no negotiation step.
package protocol

import (
	"bytes"
	"slices"
)

// Message is one of the concrete message types in this package.  The
// set is closed: every Message is also exactly one of User, Server or
// Error.
type Message interface {
	Kind() Kind
	message()
}

// User is a message a user sends to the server.  The server relays
// most of them to other users wrapped in a Refer.
type User interface {
	Message
	user()
}

// Server is a message only the server sends.
type Server interface {
	Message
	server()
}

// Kind names a concrete message type for logging and metrics.
type Kind uint8

const (
	KindAuth Kind = iota + 1
	KindLeave
	KindRequestUserList
	KindText
	KindVoice
	KindChallenge
	KindNotice
	KindRefer
	KindUserList
	KindError
)

var kindNames = map[Kind]string{
	KindAuth:            "user.auth",
	KindLeave:           "user.leave",
	KindRequestUserList: "user.request_user_list",
	KindText:            "user.text",
	KindVoice:           "user.voice",
	KindChallenge:       "server.auth",
	KindNotice:          "server.notice",
	KindRefer:           "server.refer",
	KindUserList:        "server.user_list",
	KindError:           "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ── User messages ────────────────────────────────────────────────────

// Auth asks to be known as Nick.  Sent again after authenticating it
// requests a nick change.
type Auth struct {
	Nick string
}

// Leave announces a voluntary disconnect with an optional parting
// message.
type Leave struct {
	Message *string
}

// NewLeave returns a Leave carrying msg.
func NewLeave(msg string) Leave { return Leave{Message: &msg} }

// RequestUserList asks for the nicks of everybody else online.
type RequestUserList struct{}

// Text is a chat line.
type Text struct {
	Message string
}

// Voice carries an opaque audio payload.  The server relays it like
// Text and never looks inside.
type Voice struct {
	Stream []byte
}

func (Auth) Kind() Kind            { return KindAuth }
func (Leave) Kind() Kind           { return KindLeave }
func (RequestUserList) Kind() Kind { return KindRequestUserList }
func (Text) Kind() Kind            { return KindText }
func (Voice) Kind() Kind           { return KindVoice }

func (Auth) message()            {}
func (Leave) message()           {}
func (RequestUserList) message() {}
func (Text) message()            {}
func (Voice) message()           {}

func (Auth) user()            {}
func (Leave) user()           {}
func (RequestUserList) user() {}
func (Text) user()            {}
func (Voice) user()           {}

// ── Server messages ──────────────────────────────────────────────────

// Challenge is the server's Auth message: it prompts a freshly
// admitted client to send its Auth.
type Challenge struct{}

// Notice is free text from the server.
type Notice struct {
	Message string
}

// Refer relays one user's action to everybody else.  User is the
// sender's nick at the time it acted.
type Refer struct {
	User    string
	Message User
}

// UserList answers RequestUserList.
type UserList struct {
	Users []string
}

func (Challenge) Kind() Kind { return KindChallenge }
func (Notice) Kind() Kind    { return KindNotice }
func (Refer) Kind() Kind     { return KindRefer }
func (UserList) Kind() Kind  { return KindUserList }

func (Challenge) message() {}
func (Notice) message()    {}
func (Refer) message()     {}
func (UserList) message()  {}

func (Challenge) server() {}
func (Notice) server()    {}
func (Refer) server()     {}
func (UserList) server()  {}

// ── Errors ───────────────────────────────────────────────────────────

// Error is a failure the server reports to one client.
type Error uint8

const (
	// AlreadyConnected rejects a second connection from an address
	// that already has a live session.
	AlreadyConnected Error = iota + 1
	// NickNameInUse rejects an Auth for a nick somebody else holds.
	NickNameInUse
)

func (Error) Kind() Kind { return KindError }
func (Error) message()   {}

func (e Error) Error() string {
	switch e {
	case AlreadyConnected:
		return "already connected"
	case NickNameInUse:
		return "nickname in use"
	default:
		return "unknown error"
	}
}

// ── Equality ─────────────────────────────────────────────────────────

// Equal reports whether a and b are structurally equal.  A nil and an
// empty Voice stream or user list compare equal.
func Equal(a, b Message) bool {
	switch a := a.(type) {
	case Auth, RequestUserList, Text, Challenge, Notice, Error:
		return a == b
	case Leave:
		bl, ok := b.(Leave)
		if !ok {
			return false
		}
		if a.Message == nil || bl.Message == nil {
			return a.Message == nil && bl.Message == nil
		}
		return *a.Message == *bl.Message
	case Voice:
		bv, ok := b.(Voice)
		return ok && bytes.Equal(a.Stream, bv.Stream)
	case Refer:
		br, ok := b.(Refer)
		return ok && a.User == br.User && Equal(a.Message, br.Message)
	case UserList:
		bu, ok := b.(UserList)
		return ok && slices.Equal(a.Users, bu.Users)
	case nil:
		return b == nil
	}
	return false
}
