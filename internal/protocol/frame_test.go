package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"

	"relaychat/internal/errors"
)

// TestFrameReader_MalformedThenValid feeds one garbage frame followed by
// one good frame and expects exactly the good message back.
func TestFrameReader_MalformedThenValid(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("definitely not a message\r\n")
	stream.Write(Frame(Text{Message: "hi"}))

	fr := NewFrameReader(&stream, 0)
	defer fr.Release()

	var skipped int
	fr.OnMalformed = func(frame []byte, err error) {
		skipped++
		if string(frame) != "definitely not a message" {
			t.Errorf("skipped frame = %q", frame)
		}
	}

	m, err := fr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !Equal(m, Text{Message: "hi"}) {
		t.Errorf("got %#v", m)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}

	if _, err := fr.Next(); err != io.EOF {
		t.Errorf("second Next err = %v, want EOF", err)
	}
}

// TestFrameReader_SplitAcrossReads writes a frame one byte at a time
// over a pipe.
func TestFrameReader_SplitAcrossReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := []Message{
		Auth{Nick: "alice"},
		Text{Message: "with\r\nembedded delimiter"},
		NewLeave("gone"),
	}

	go func() {
		var all []byte
		for _, m := range want {
			all = AppendFrame(all, m)
		}
		for _, b := range all {
			client.Write([]byte{b}) //nolint:errcheck
		}
		client.Close()
	}()

	fr := NewFrameReader(server, 0)
	defer fr.Release()

	for i, w := range want {
		got, err := fr.Next()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if !Equal(got, w) {
			t.Errorf("message %d: got %#v, want %#v", i, got, w)
		}
	}
	if _, err := fr.Next(); err != io.EOF {
		t.Errorf("err = %v, want EOF", err)
	}
}

// TestFrameReader_ManyPerRead delivers several frames in a single read.
func TestFrameReader_ManyPerRead(t *testing.T) {
	var stream []byte
	for i := 0; i < 50; i++ {
		stream = AppendFrame(stream, Text{Message: fmt.Sprintf("msg %d", i)})
	}

	var reads int
	fr := NewFrameReader(bytes.NewReader(stream), 0)
	fr.OnRead = func(int) { reads++ }
	defer fr.Release()

	for i := 0; i < 50; i++ {
		m, err := fr.Next()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if tm := m.(Text); tm.Message != fmt.Sprintf("msg %d", i) {
			t.Errorf("message %d = %q", i, tm.Message)
		}
	}
	if reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}
	if fr.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", fr.Buffered())
	}
}

func TestFrameReader_EmptyFrameSkipped(t *testing.T) {
	stream := append([]byte("\r\n\r\n"), Frame(RequestUserList{})...)
	fr := NewFrameReader(bytes.NewReader(stream), 0)
	defer fr.Release()

	m, err := fr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(RequestUserList); !ok {
		t.Errorf("got %#v", m)
	}
}

func TestFrameReader_TooLarge(t *testing.T) {
	stream := bytes.Repeat([]byte("x"), 4096)
	fr := NewFrameReader(bytes.NewReader(stream), 1024)
	defer fr.Release()

	_, err := fr.Next()
	if !errors.Is(err, errors.ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

// flakyReader fails once in the middle of the stream.
type flakyReader struct {
	parts [][]byte
	fail  int
	calls int
}

func (r *flakyReader) Read(p []byte) (int, error) {
	r.calls++
	if r.calls == r.fail {
		return 0, fmt.Errorf("transient")
	}
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts = r.parts[1:]
	return n, nil
}

// TestFrameReader_ResumesAfterError verifies buffered bytes survive a
// read error and the next call completes the frame.
func TestFrameReader_ResumesAfterError(t *testing.T) {
	frame := Frame(Text{Message: "resumed"})
	r := &flakyReader{parts: [][]byte{frame[:4], frame[4:]}, fail: 2}

	fr := NewFrameReader(r, 0)
	defer fr.Release()

	if _, err := fr.Next(); err == nil || err.Error() != "transient" {
		t.Fatalf("first Next err = %v, want transient", err)
	}
	if fr.Buffered() != 4 {
		t.Errorf("buffered = %d, want 4", fr.Buffered())
	}
	m, err := fr.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if !Equal(m, Text{Message: "resumed"}) {
		t.Errorf("got %#v", m)
	}
}

func TestScanFrames_WithScanner(t *testing.T) {
	sc := bufio.NewScanner(bytes.NewReader([]byte("a\r\nb\r\npartial")))
	sc.Split(scanFrames)

	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if sc.Err() != nil {
		t.Fatal(sc.Err())
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %q, want [a b]", got)
	}
}
