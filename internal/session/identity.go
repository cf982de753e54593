package session

import (
	"fmt"
	"net"
)

// Identity is who a session is: either a ghost known only by its
// address, or an authenticated user with a nick.  The zero value is a
// ghost with no address.
type Identity struct {
	addr          net.Addr
	nick          string
	authenticated bool
}

// Ghost returns the identity of a connection that has not sent a
// successful Auth yet.
func Ghost(addr net.Addr) Identity {
	return Identity{addr: addr}
}

// Authenticated returns the identity of a connection bound to nick.
func Authenticated(nick string, addr net.Addr) Identity {
	return Identity{addr: addr, nick: nick, authenticated: true}
}

// IsGhost reports whether the identity has no nick.
func (id Identity) IsGhost() bool { return !id.authenticated }

// IsAuthenticated reports whether the identity carries a nick.
func (id Identity) IsAuthenticated() bool { return id.authenticated }

// Addr is the peer address of the socket the identity belongs to.
func (id Identity) Addr() net.Addr { return id.addr }

// Host is the IP part of Addr, the key used for admission.
func (id Identity) Host() string { return HostOf(id.addr) }

// Nick returns the nick and true for an authenticated identity, or ""
// and false for a ghost.
func (id Identity) Nick() (string, bool) {
	if !id.authenticated {
		return "", false
	}
	return id.nick, true
}

// WithNick returns the identity authenticated as nick, keeping addr.
func (id Identity) WithNick(nick string) Identity {
	return Authenticated(nick, id.addr)
}

// WithAddr returns the identity moved onto a new socket address.
func (id Identity) WithAddr(addr net.Addr) Identity {
	id.addr = addr
	return id
}

// Equal reports whether both identities are the same variant with the
// same nick and address.
func (id Identity) Equal(other Identity) bool {
	return id.authenticated == other.authenticated &&
		id.nick == other.nick &&
		addrString(id.addr) == addrString(other.addr)
}

func (id Identity) String() string {
	if id.authenticated {
		return fmt.Sprintf("%s@%s", id.nick, addrString(id.addr))
	}
	return "ghost@" + addrString(id.addr)
}

// HostOf extracts the IP from addr, falling back to the full address
// string for non-IP addresses.
func HostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case nil:
		return ""
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}
