package protocol

import (
	"bytes"
	"io"

	"relaychat/internal/errors"
	"relaychat/util"
)

// Delimiter terminates every frame on the wire.
var Delimiter = []byte("\r\n")

// AppendFrame appends the encoded m followed by the delimiter to dst.
func AppendFrame(dst []byte, m Message) []byte {
	dst = append(dst, Encode(m)...)
	return append(dst, Delimiter...)
}

// Frame returns m encoded and delimited, ready to be written.
func Frame(m Message) []byte {
	return AppendFrame(nil, m)
}

// scanFrames is a [bufio.SplitFunc] yielding the bytes before each
// CR LF.  A trailing partial frame at EOF is discarded.
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, Delimiter); i >= 0 {
		return i + len(Delimiter), data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// ── FrameReader ──────────────────────────────────────────────────────

// FrameReader extracts messages from a byte stream.  Frames that fail
// to decode are skipped; the stream carries on with the next frame.
//
// Unlike a bufio.Scanner, a FrameReader survives read errors: Next
// returns the error and may be called again, keeping whatever was
// already buffered.
type FrameReader struct {
	r       io.Reader
	buf     []byte
	scratch *[]byte
	max     int

	// OnMalformed, if set, is called with each skipped frame.
	OnMalformed func(frame []byte, err error)
	// OnRead, if set, is called with the byte count of every read.
	OnRead func(n int)
}

// NewFrameReader reads frames from r.  maxFrame bounds the bytes
// buffered while waiting for a delimiter; 0 means unbounded.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	return &FrameReader{
		r:       r,
		scratch: util.GetBuf(),
		max:     maxFrame,
	}
}

// Next blocks until a well-formed message is available or the
// underlying reader fails.  A buffered frame larger than the limit
// returns errors.ErrFrameTooLarge.
func (fr *FrameReader) Next() (Message, error) {
	for {
		if m, ok := fr.drain(); ok {
			return m, nil
		}
		if fr.max > 0 && len(fr.buf) > fr.max {
			return nil, errors.ErrFrameTooLarge
		}

		n, err := fr.r.Read(*fr.scratch)
		if n > 0 {
			fr.buf = append(fr.buf, (*fr.scratch)[:n]...)
			if fr.OnRead != nil {
				fr.OnRead(n)
			}
		}
		if err != nil {
			// Frames completed by this read are still delivered first.
			if m, ok := fr.drain(); ok {
				return m, nil
			}
			return nil, err
		}
	}
}

// Buffered returns the number of bytes held that do not yet form a
// complete frame.
func (fr *FrameReader) Buffered() int { return len(fr.buf) }

// Release returns the read buffer to the pool.  The reader must not be
// used afterwards.
func (fr *FrameReader) Release() {
	util.PutBuf(fr.scratch)
	fr.scratch = nil
}

// drain decodes buffered frames until one is well formed.
func (fr *FrameReader) drain() (Message, bool) {
	for {
		advance, token, _ := scanFrames(fr.buf, false)
		if advance == 0 {
			return nil, false
		}
		// token aliases buf, so it is only valid until consume.
		m, err := Decode(token)
		if err != nil && fr.OnMalformed != nil {
			fr.OnMalformed(token, err)
		}
		fr.consume(advance)
		if err != nil {
			continue
		}
		return m, true
	}
}

func (fr *FrameReader) consume(n int) {
	rest := copy(fr.buf, fr.buf[n:])
	fr.buf = fr.buf[:rest]
}
