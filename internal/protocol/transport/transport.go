// Package transport owns the duplex byte stream to the Discord client:
// candidate endpoint probing, the receive loop, and serialized writes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	logs "github.com/danmuck/mutectl/internal/logging"
	"github.com/danmuck/mutectl/internal/protocol/frame"
)

const DefaultCandidates = 10

var (
	ErrConnectionExhausted = errors.New("transport: no ipc endpoint accepted a connection")
	ErrAlreadyConnected    = errors.New("transport: already connected")
	ErrNotConnected        = errors.New("transport: not connected")
	ErrClosed              = errors.New("transport: closed")
)

// PipeName is the endpoint name for candidate index i.
func PipeName(i int) string {
	return fmt.Sprintf("discord-ipc-%d", i)
}

// Dialer opens the candidate endpoint with the given index.
type Dialer interface {
	Dial(ctx context.Context, index int) (io.ReadWriteCloser, error)
}

type DialFunc func(ctx context.Context, index int) (io.ReadWriteCloser, error)

func (f DialFunc) Dial(ctx context.Context, index int) (io.ReadWriteCloser, error) {
	return f(ctx, index)
}

// SystemDialer dials the platform's discord-ipc endpoints.
var SystemDialer Dialer = DialFunc(dialEndpoint)

// Handler receives every decoded inbound frame in wire order. A returned
// error is terminal for the connection.
type Handler func(frame.Frame) error

type Config struct {
	Candidates int
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Candidates: DefaultCandidates,
		Limits:     frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	if c.Candidates <= 0 {
		c.Candidates = DefaultCandidates
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = frame.DefaultLimits()
	}
	return c
}

type Transport struct {
	cfg     Config
	dialer  Dialer
	handler Handler

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	index   int
	started bool
	closed  bool
	err     error

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func New(dialer Dialer, handler Handler, cfg Config) *Transport {
	if dialer == nil {
		dialer = SystemDialer
	}
	return &Transport{
		cfg:     cfg.WithDefaults(),
		dialer:  dialer,
		handler: handler,
		index:   -1,
		done:    make(chan struct{}),
	}
}

// Connect tries candidates 0..Candidates-1 in order and starts the receive
// loop on the first one that accepts. The loop stops when ctx is cancelled.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.mu.Unlock()

	var lastErr error
	for i := 0; i < t.cfg.Candidates; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := t.dialer.Dial(ctx, i)
		if err != nil {
			logs.Debugf("transport.Connect endpoint=%s err=%v", PipeName(i), err)
			lastErr = err
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return ErrClosed
		}
		t.conn = conn
		t.index = i
		t.started = true
		t.mu.Unlock()

		logs.Infof("transport connected endpoint=%s", PipeName(i))
		go t.receive(ctx, conn)
		return nil
	}
	logs.Errf("transport.Connect exhausted candidates=%d last_err=%v", t.cfg.Candidates, lastErr)
	return fmt.Errorf("%w: tried %d candidates: %v", ErrConnectionExhausted, t.cfg.Candidates, lastErr)
}

func (t *Transport) receive(ctx context.Context, conn io.ReadWriteCloser) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	defer close(t.done)

	for {
		f, err := frame.ReadFrame(conn, t.cfg.Limits)
		if err != nil {
			if t.isClosed() || isDisconnect(err) {
				logs.Debugf("transport receive loop stopped endpoint=%s err=%v", PipeName(t.Index()), err)
				t.shutdown(nil)
				return
			}
			logs.Errf("transport receive failed endpoint=%s err=%v", PipeName(t.Index()), err)
			t.shutdown(err)
			return
		}
		logs.Tracef("transport recv %s", f)
		if t.handler == nil {
			continue
		}
		if err := t.handler(f); err != nil {
			logs.Errf("transport dispatch failed frame=%s err=%v", f, err)
			t.shutdown(err)
			return
		}
	}
}

// Send writes one encoded frame. Concurrent callers are serialized.
func (t *Transport) Send(f frame.Frame) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	logs.Tracef("transport send %s", f)
	if err := frame.WriteFrame(conn, f); err != nil {
		return fmt.Errorf("transport: send %s: %w", f.Opcode, err)
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		started := t.started
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
		if !started {
			close(t.done)
		}
	})
	return err
}

// Done is closed once the receive loop has exited, or on Close when no
// connection was ever established.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that terminated the receive loop, or nil after a
// clean disconnect.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Index returns the connected candidate index, or -1.
func (t *Transport) Index() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) shutdown(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	_ = t.Close()
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
