package registry

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"relaychat/internal/metrics"
	"relaychat/internal/protocol"
	"relaychat/internal/session"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

// peer is the client end of a net.Pipe whose decoded frames are
// collected in the background.
type peer struct {
	conn   net.Conn
	frames chan protocol.Message
}

func newPeer(t *testing.T) (server net.Conn, p *peer) {
	t.Helper()
	srv, cli := net.Pipe()
	p = &peer{conn: cli, frames: make(chan protocol.Message, 16)}
	go func() {
		fr := protocol.NewFrameReader(cli, 0)
		defer fr.Release()
		for {
			m, err := fr.Next()
			if err != nil {
				close(p.frames)
				return
			}
			p.frames <- m
		}
	}()
	t.Cleanup(func() {
		srv.Close()
		cli.Close()
	})
	return srv, p
}

func (p *peer) expect(t *testing.T, want protocol.Message) {
	t.Helper()
	select {
	case got, ok := <-p.frames:
		if !ok {
			t.Fatalf("connection closed, want %v", want.Kind())
		}
		if !protocol.Equal(got, want) {
			t.Fatalf("got %#v, want %#v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %v", want.Kind())
	}
}

func (p *peer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got, ok := <-p.frames:
		if ok {
			t.Fatalf("unexpected frame %#v", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func admit(t *testing.T, r *Registry, ip string) (*session.Session, *peer) {
	t.Helper()
	conn, p := newPeer(t)
	s, res := r.Admit(tcpAddr(ip, 40000), conn)
	if res != NewSession {
		t.Fatalf("Admit(%s) = %v, want new", ip, res)
	}
	return s, p
}

func newRegistry() *Registry {
	return New(Options{WriteTimeout: time.Second, Metrics: metrics.New()})
}

// ── Admission ────────────────────────────────────────────────────────

func TestAdmit_NewSessionIsGhost(t *testing.T) {
	r := newRegistry()
	s, _ := admit(t, r, "10.0.0.1")

	if !s.Identity().IsGhost() {
		t.Errorf("new session should be a ghost, got %s", s)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	if r.stats.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", r.stats.ActiveSessions())
	}
}

func TestAdmit_RejectsLiveHost(t *testing.T) {
	r := newRegistry()
	first, _ := admit(t, r, "10.0.0.1")
	if _, ok := r.Claim(first, "alice"); !ok {
		t.Fatal("claim failed")
	}
	before := first.Identity()
	oldConn, _ := first.Current()

	conn, p := newPeer(t)
	got, res := r.Admit(tcpAddr("10.0.0.1", 40001), conn)
	if res != Rejected {
		t.Fatalf("res = %v, want rejected", res)
	}
	if got != first {
		t.Error("rejected admission should return the existing session")
	}
	p.expect(t, protocol.AlreadyConnected)
	if _, ok := <-p.frames; ok {
		t.Error("rejected socket should be closed after AlreadyConnected")
	}

	if !first.Identity().Equal(before) {
		t.Errorf("identity changed: %s -> %s", before, first.Identity())
	}
	if c, _ := first.Current(); c != oldConn {
		t.Error("socket of the existing session changed")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestAdmit_MigratesTimedOutHost(t *testing.T) {
	r := newRegistry()
	first, _ := admit(t, r, "10.0.0.1")
	r.Claim(first, "alice")
	_, gen := first.Current()
	migrated := first.Suspend(gen)

	conn, p := newPeer(t)
	got, res := r.Admit(tcpAddr("10.0.0.1", 40002), conn)
	if res != MigratedSession {
		t.Fatalf("res = %v, want migrated", res)
	}
	if got != first {
		t.Fatal("migration should reuse the existing session")
	}
	select {
	case <-migrated:
	default:
		t.Error("suspended handler was not woken")
	}

	nick, ok := got.Nick()
	if !ok || nick != "alice" {
		t.Errorf("nick = %q/%v, want alice", nick, ok)
	}
	if got.Identity().Addr().String() != "10.0.0.1:40002" {
		t.Errorf("addr = %s, want the new socket's", got.Identity().Addr())
	}
	if c, g := got.Current(); c != conn || g != gen+1 {
		t.Errorf("socket not swapped (gen %d)", g)
	}

	// New socket is the live one now.
	if err := got.Send(protocol.Notice{Message: "still here"}); err != nil {
		t.Fatal(err)
	}
	p.expect(t, protocol.Notice{Message: "still here"})
	if r.Len() != 1 || r.stats.Migrations() != 1 {
		t.Errorf("len = %d, migrations = %d", r.Len(), r.stats.Migrations())
	}
}

func TestAdmit_RetiredSessionDoesNotBlockHost(t *testing.T) {
	r := newRegistry()
	old, _ := admit(t, r, "10.0.0.1")
	r.Claim(old, "alice")
	_, pb := admit(t, r, "10.0.0.2")

	// The handler has exited but the Dropped event is not processed yet.
	old.Close() //nolint:errcheck

	fresh, p := admit(t, r, "10.0.0.1")
	if fresh == old {
		t.Fatal("retired session was reused")
	}
	p.expectNothing(t)
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}

	if _, ok := r.Claim(fresh, "alice"); !ok {
		t.Fatal("a retired session must not hold its nick")
	}
	if got := r.Roster(nil); len(got) != 1 || got[0] != "alice" {
		t.Errorf("roster = %v, want [alice]", got)
	}
	if n := r.Broadcast(fresh, protocol.Text{Message: "back"}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	pb.expect(t, protocol.Refer{User: "alice", Message: protocol.Text{Message: "back"}})

	// The late Dropped removes only the old session.
	if !r.Remove(old) || r.Len() != 2 {
		t.Errorf("after remove len = %d, want 2", r.Len())
	}
	if _, ok := r.Lookup(fresh.ID()); !ok {
		t.Error("fresh session removed")
	}
}

func TestAdmit_DistinctHosts(t *testing.T) {
	r := newRegistry()
	admit(t, r, "10.0.0.1")
	admit(t, r, "10.0.0.2")
	admit(t, r, "::1")
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}
}

func TestAdmission_String(t *testing.T) {
	for a, want := range map[Admission]string{
		NewSession:      "new",
		MigratedSession: "migrated",
		Rejected:        "rejected",
		Admission(9):    "unknown",
	} {
		if a.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(a), a.String(), want)
		}
	}
}

// ── Claim ────────────────────────────────────────────────────────────

func TestClaim(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	b, _ := admit(t, r, "10.0.0.2")

	if prev, ok := r.Claim(a, "alice"); !ok || prev != "" {
		t.Fatalf("first claim = %q/%v", prev, ok)
	}
	if _, ok := r.Claim(b, "alice"); ok {
		t.Fatal("duplicate nick claimed")
	}
	if !b.Identity().IsGhost() {
		t.Errorf("failed claim changed identity to %s", b)
	}

	// Nicks are case sensitive.
	if _, ok := r.Claim(b, "Alice"); !ok {
		t.Error("Alice should be distinct from alice")
	}

	// Re-claiming your own nick is fine; renaming frees the old one.
	if _, ok := r.Claim(a, "alice"); !ok {
		t.Error("re-claiming own nick failed")
	}
	if prev, ok := r.Claim(a, "alison"); !ok || prev != "alice" {
		t.Errorf("rename = %q/%v", prev, ok)
	}
	if _, ok := r.Claim(b, "alison"); ok {
		t.Error("alison is held by a")
	}
	if _, ok := r.Claim(b, "alice"); !ok {
		t.Error("alice should be free after rename")
	}
}

func TestClaim_ConcurrentUniqueness(t *testing.T) {
	const n = 32
	r := newRegistry()
	sessions := make([]*session.Session, n)
	for i := range sessions {
		sessions[i], _ = admit(t, r, fmt.Sprintf("10.0.1.%d", i+1))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			<-start
			if _, ok := r.Claim(s, "alice"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(s)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d sessions won the nick, want 1", wins)
	}
	holders := 0
	for _, s := range sessions {
		if nick, ok := s.Nick(); ok {
			if nick != "alice" {
				t.Errorf("unexpected nick %q", nick)
			}
			holders++
		}
	}
	if holders != 1 {
		t.Errorf("%d holders, want 1", holders)
	}
}

// ── Membership ───────────────────────────────────────────────────────

func TestRemove_Idempotent(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	r.Claim(a, "alice")

	if !r.Remove(a) {
		t.Fatal("first remove should report removal")
	}
	if r.Remove(a) {
		t.Error("second remove should be a no-op")
	}
	if r.Len() != 0 || r.stats.ActiveSessions() != 0 {
		t.Errorf("len = %d, active = %d", r.Len(), r.stats.ActiveSessions())
	}

	// The nick is free for reuse.
	b, _ := admit(t, r, "10.0.0.2")
	if _, ok := r.Claim(b, "alice"); !ok {
		t.Error("nick should be reusable after removal")
	}
}

func TestLookup(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")

	got, ok := r.Lookup(a.ID())
	if !ok || got != a {
		t.Fatal("lookup by id failed")
	}
	r.Remove(a)
	if _, ok := r.Lookup(a.ID()); ok {
		t.Error("lookup should fail after removal")
	}
}

func TestRoster(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	b, _ := admit(t, r, "10.0.0.2")
	admit(t, r, "10.0.0.3") // stays a ghost
	d, _ := admit(t, r, "10.0.0.4")

	r.Claim(a, "alice")
	r.Claim(b, "bob")
	r.Claim(d, "dave")

	tests := []struct {
		name    string
		exclude *session.Session
		want    []string
	}{
		{"from alice", a, []string{"bob", "dave"}},
		{"from bob", b, []string{"alice", "dave"}},
		{"from nobody", nil, []string{"alice", "bob", "dave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Roster(tt.exclude)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("roster = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	admit(t, r, "10.0.0.2")
	r.Claim(a, "alice")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].Nick != "alice" || !snap[0].Authenticated || snap[0].ID != a.ID().String() {
		t.Errorf("snap[0] = %+v", snap[0])
	}
	if snap[1].Authenticated || snap[1].Addr != "10.0.0.2:40000" {
		t.Errorf("snap[1] = %+v", snap[1])
	}
}

// ── Broadcast ────────────────────────────────────────────────────────

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := newRegistry()
	a, pa := admit(t, r, "10.0.0.1")
	b, pb := admit(t, r, "10.0.0.2")
	_, pc := admit(t, r, "10.0.0.3")
	r.Claim(a, "alice")
	r.Claim(b, "bob")

	n := r.Broadcast(a, protocol.Text{Message: "hi"})
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}

	want := protocol.Refer{User: "alice", Message: protocol.Text{Message: "hi"}}
	pb.expect(t, want)
	pc.expect(t, want)
	pa.expectNothing(t)
}

func TestBroadcast_WriteFailureKeepsTarget(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	b, pb := admit(t, r, "10.0.0.2")
	_, pc := admit(t, r, "10.0.0.3")
	r.Claim(a, "alice")

	pb.conn.Close()
	<-pb.frames // wait for the reader to observe the close

	if n := r.Broadcast(a, protocol.Text{Message: "hi"}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	pc.expect(t, protocol.Refer{User: "alice", Message: protocol.Text{Message: "hi"}})

	if _, ok := r.Lookup(b.ID()); !ok {
		t.Error("failed target must stay registered")
	}
	if r.stats.ErrorCount() != 1 {
		t.Errorf("errors = %d, want 1", r.stats.ErrorCount())
	}
}

func TestCloseAll(t *testing.T) {
	r := newRegistry()
	_, pa := admit(t, r, "10.0.0.1")
	_, pb := admit(t, r, "10.0.0.2")

	r.CloseAll()
	for _, p := range []*peer{pa, pb} {
		if _, ok := <-p.frames; ok {
			t.Error("expected closed connection")
		}
	}
	if r.Len() != 2 {
		t.Errorf("sessions should stay registered until dropped, len = %d", r.Len())
	}
}

func TestBroadcastAs(t *testing.T) {
	r := newRegistry()
	a, _ := admit(t, r, "10.0.0.1")
	_, pb := admit(t, r, "10.0.0.2")

	// a is still a ghost; the relay carries the nick it asked for.
	r.BroadcastAs("alice", a, protocol.Auth{Nick: "alice"})
	pb.expect(t, protocol.Refer{User: "alice", Message: protocol.Auth{Nick: "alice"}})
}
