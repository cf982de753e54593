// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a relaychat server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive     atomic.Int64
	sessionsTotal      atomic.Int64
	migrations         atomic.Int64
	rejections         atomic.Int64
	framesIn           atomic.Int64
	framesOut          atomic.Int64
	malformedFrames    atomic.Int64
	protocolViolations atomic.Int64
	broadcasts         atomic.Int64
	bytesIn            atomic.Int64
	bytesOut           atomic.Int64
	errorsTotal        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// SessionMigrated records a session moving onto a new socket.
func (c *Collector) SessionMigrated() {
	if c == nil {
		return
	}
	c.migrations.Add(1)
}

// AdmissionRejected records a connection turned away as already
// connected.
func (c *Collector) AdmissionRejected() {
	if c == nil {
		return
	}
	c.rejections.Add(1)
}

// ActiveSessions returns the current number of registered sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Migrations returns the number of sessions that changed sockets.
func (c *Collector) Migrations() int64 {
	if c == nil {
		return 0
	}
	return c.migrations.Load()
}

// Rejections returns the number of rejected admissions.
func (c *Collector) Rejections() int64 {
	if c == nil {
		return 0
	}
	return c.rejections.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one decoded frame.
func (c *Collector) FrameReceived() {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
}

// FrameSent records one frame written to a client.
func (c *Collector) FrameSent() {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
}

// MalformedFrame records a frame that failed to decode.
func (c *Collector) MalformedFrame() {
	if c == nil {
		return
	}
	c.malformedFrames.Add(1)
}

// ProtocolViolation records a valid message that was invalid for the
// sender's state.
func (c *Collector) ProtocolViolation() {
	if c == nil {
		return
	}
	c.protocolViolations.Add(1)
}

// Broadcast records one fan-out.
func (c *Collector) Broadcast() {
	if c == nil {
		return
	}
	c.broadcasts.Add(1)
}

// FramesIn returns the number of frames decoded.
func (c *Collector) FramesIn() int64 {
	if c == nil {
		return 0
	}
	return c.framesIn.Load()
}

// FramesOut returns the number of frames written.
func (c *Collector) FramesOut() int64 {
	if c == nil {
		return 0
	}
	return c.framesOut.Load()
}

// MalformedFrames returns the number of dropped frames.
func (c *Collector) MalformedFrames() int64 {
	if c == nil {
		return 0
	}
	return c.malformedFrames.Load()
}

// ProtocolViolations returns the number of ignored messages.
func (c *Collector) ProtocolViolations() int64 {
	if c == nil {
		return 0
	}
	return c.protocolViolations.Load()
}

// Broadcasts returns the number of fan-outs.
func (c *Collector) Broadcasts() int64 {
	if c == nil {
		return 0
	}
	return c.broadcasts.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	SessionsActive     int64  `json:"sessions_active"`
	SessionsTotal      int64  `json:"sessions_total"`
	Migrations         int64  `json:"migrations"`
	Rejections         int64  `json:"rejections"`
	FramesIn           int64  `json:"frames_in"`
	FramesOut          int64  `json:"frames_out"`
	MalformedFrames    int64  `json:"malformed_frames"`
	ProtocolViolations int64  `json:"protocol_violations"`
	Broadcasts         int64  `json:"broadcasts"`
	BytesIn            int64  `json:"bytes_in"`
	BytesOut           int64  `json:"bytes_out"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:     c.sessionsActive.Load(),
		SessionsTotal:      c.sessionsTotal.Load(),
		Migrations:         c.migrations.Load(),
		Rejections:         c.rejections.Load(),
		FramesIn:           c.framesIn.Load(),
		FramesOut:          c.framesOut.Load(),
		MalformedFrames:    c.malformedFrames.Load(),
		ProtocolViolations: c.protocolViolations.Load(),
		Broadcasts:         c.broadcasts.Load(),
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
