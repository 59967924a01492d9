// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yvictor/pj/pkg/connection"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRelay(buf *syncBuffer, tracker *connection.Tracker) *Relay {
	return New(Config{
		Logger:  slog.New(slog.NewTextHandler(buf, nil)),
		Tracker: tracker,
	})
}

func testInfo(tracker *connection.Tracker) *connection.Info {
	active := tracker.Admit()
	return connection.NewInfo(0, "client:1", "listen:2", "backend:3", active)
}

// runRelay runs the relay and reports completion on the returned channel.
func runRelay(r *Relay, down, up io.ReadWriter, info *connection.Info) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(down, up, info)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not terminate")
	}
}

func TestRelay_EchoAccounting(t *testing.T) {
	var buf syncBuffer
	tracker := connection.NewTracker()
	r := newTestRelay(&buf, tracker)

	client, down := net.Pipe()
	backend, up := net.Pipe()

	// Echo backend.
	go func() {
		b := make([]byte, 256)
		for {
			n, err := backend.Read(b)
			if err != nil {
				return
			}
			if _, err := backend.Write(b[:n]); err != nil {
				return
			}
		}
	}()

	done := runRelay(r, down, up, testInfo(tracker))

	payload := []byte("ping through the relay")
	go func() {
		client.Write(payload)
	}()

	echoed := make([]byte, len(payload))
	_, err := io.ReadFull(client, echoed)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)

	// Client half-close ends the whole relay.
	client.Close()
	waitDone(t, done)
	backend.Close()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "connection established"))
	assert.Equal(t, 1, strings.Count(out, "connection closed"))
	assert.Contains(t, out, "status=close")
	assert.Contains(t, out, `sent="22 B"`)
	assert.Contains(t, out, `received="22 B"`)
	assert.Equal(t, uint64(0), tracker.Active())
}

func TestRelay_UpstreamEOF(t *testing.T) {
	var buf syncBuffer
	tracker := connection.NewTracker()
	r := newTestRelay(&buf, tracker)

	client, down := net.Pipe()
	backend, up := net.Pipe()
	defer client.Close()

	done := runRelay(r, down, up, testInfo(tracker))

	// Backend closes without sending anything.
	backend.Close()
	waitDone(t, done)

	out := buf.String()
	assert.Contains(t, out, "status=close")
	assert.NotContains(t, out, "status=fail")
	assert.Equal(t, uint64(0), tracker.Active())
}

// failingReader errors on its first read; writes are discarded.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error)  { return 0, errors.New("simulated read failure") }
func (failingReader) Write(p []byte) (int, error) { return len(p), nil }

func TestRelay_DownstreamReadError(t *testing.T) {
	var buf syncBuffer
	tracker := connection.NewTracker()
	r := newTestRelay(&buf, tracker)

	backend, up := net.Pipe()
	defer backend.Close()

	done := runRelay(r, failingReader{}, up, testInfo(tracker))
	waitDone(t, done)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "connection closed"))
	assert.Contains(t, out, "status=fail")
	assert.Contains(t, out, "simulated read failure")
	assert.Equal(t, uint64(0), tracker.Active())
}

// failingWriter reads one pending payload then blocks; writes error.
type failingWriter struct {
	data chan []byte
}

func (f *failingWriter) Read(p []byte) (int, error) {
	b, ok := <-f.data
	if !ok {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

func (f *failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("simulated write failure")
}

func TestRelay_UpstreamWriteError(t *testing.T) {
	var buf syncBuffer
	tracker := connection.NewTracker()
	r := newTestRelay(&buf, tracker)

	// Downstream delivers one payload; forwarding it to the failing
	// upstream writer must end the relay with fail status.
	down := &failingWriter{data: make(chan []byte, 1)}
	down.data <- []byte("doomed")

	up := &failingWriter{data: make(chan []byte)}

	done := runRelay(r, down, up, testInfo(tracker))
	waitDone(t, done)
	close(down.data)
	close(up.data)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "connection closed"))
	assert.Contains(t, out, "status=fail")
	assert.Contains(t, out, "simulated write failure")
	assert.Equal(t, uint64(0), tracker.Active())
}

// flushingStream records writes and flushes; reads block until closed.
type flushingStream struct {
	mu      sync.Mutex
	written bytes.Buffer
	flushes int
	closed  chan struct{}
}

func newFlushingStream() *flushingStream {
	return &flushingStream{closed: make(chan struct{})}
}

func (f *flushingStream) Read(p []byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *flushingStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *flushingStream) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *flushingStream) snapshot() (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String(), f.flushes
}

func TestRelay_FlushAfterEachWrite(t *testing.T) {
	var buf syncBuffer
	tracker := connection.NewTracker()
	r := newTestRelay(&buf, tracker)

	client, down := net.Pipe()
	up := newFlushingStream()

	done := runRelay(r, down, up, testInfo(tracker))

	_, err := client.Write([]byte("abc"))
	require.NoError(t, err)

	// Wait for the payload to be forwarded before checking the flush.
	require.Eventually(t, func() bool {
		data, flushes := up.snapshot()
		return data == "abc" && flushes == 1
	}, 2*time.Second, 10*time.Millisecond)

	client.Close()
	waitDone(t, done)
	close(up.closed)

	assert.Equal(t, uint64(0), tracker.Active())
}

func TestRelay_ReleaseMatchesStartLog(t *testing.T) {
	// Whatever the exit state, one start log pairs with exactly one
	// release: the gauge returns to its pre-admission value.
	for name, makeStreams := range map[string]func() (io.ReadWriter, io.ReadWriter, func()){
		"downstream eof": func() (io.ReadWriter, io.ReadWriter, func()) {
			client, down := net.Pipe()
			backend, up := net.Pipe()
			client.Close()
			return down, up, func() { backend.Close() }
		},
		"upstream eof": func() (io.ReadWriter, io.ReadWriter, func()) {
			client, down := net.Pipe()
			backend, up := net.Pipe()
			backend.Close()
			return down, up, func() { client.Close() }
		},
		"downstream error": func() (io.ReadWriter, io.ReadWriter, func()) {
			backend, up := net.Pipe()
			return failingReader{}, up, func() { backend.Close() }
		},
		"upstream error": func() (io.ReadWriter, io.ReadWriter, func()) {
			client, down := net.Pipe()
			return down, failingReader{}, func() { client.Close() }
		},
	} {
		t.Run(name, func(t *testing.T) {
			var buf syncBuffer
			tracker := connection.NewTracker()
			r := newTestRelay(&buf, tracker)

			down, up, cleanup := makeStreams()
			defer cleanup()

			done := runRelay(r, down, up, testInfo(tracker))
			waitDone(t, done)

			out := buf.String()
			assert.Equal(t, 1, strings.Count(out, "connection established"))
			assert.Equal(t, 1, strings.Count(out, "connection closed"))
			assert.Equal(t, uint64(0), tracker.Active())
		})
	}
}
