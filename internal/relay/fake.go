package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrFakeClosed is returned by FakeConn reads after Close or an expired read deadline.
var ErrFakeClosed = errors.New("fake connection closed")

type fakeMsg struct {
	typ  int
	data []byte
	err  error
}

// FakeConn is an in-memory Conn for tests. Inbound messages are queued with
// Push and Hangup; everything written is recorded.
type FakeConn struct {
	in   chan fakeMsg
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written [][]byte
	closed  bool

	// WriteError, if set, is returned by WriteMessage.
	WriteError error
}

// NewFakeConn creates a FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		in:   make(chan fakeMsg, 64),
		done: make(chan struct{}),
	}
}

// Push queues a text message for the reader.
func (f *FakeConn) Push(data []byte) {
	f.in <- fakeMsg{typ: websocket.TextMessage, data: data}
}

// Hangup queues a read error, as if the peer dropped the connection.
func (f *FakeConn) Hangup(err error) {
	f.in <- fakeMsg{err: err}
}

// ReadMessage returns the next queued message, blocking until one is queued
// or the connection is closed.
func (f *FakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		return m.typ, m.data, m.err
	case <-f.done:
		return 0, nil, ErrFakeClosed
	}
}

// WriteMessage records data.
func (f *FakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	if f.closed {
		return ErrFakeClosed
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

// SetReadDeadline releases pending reads when t is not in the future.
func (f *FakeConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && !t.After(time.Now()) {
		f.once.Do(func() { close(f.done) })
	}
	return nil
}

// Close marks the connection closed and releases pending reads.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

// Closed reports whether Close was called.
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Written returns a copy of everything written so far.
func (f *FakeConn) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// FakeDialer hands out Conn, or fails with Err.
type FakeDialer struct {
	Conn Conn
	Err  error

	mu    sync.Mutex
	dials int
}

// Dial returns the configured connection or error.
func (d *FakeDialer) Dial(_ context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

// Dials returns the number of Dial calls.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
