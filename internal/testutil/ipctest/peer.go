// Package ipctest provides an in-memory Discord IPC peer for tests.
package ipctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mutectl/internal/protocol/frame"
	"github.com/danmuck/mutectl/internal/protocol/transport"
)

// Handler reacts to one frame written by the client.
type Handler func(p *Peer, req frame.Frame)

// Peer is the server half of a net.Pipe speaking the IPC wire format.
type Peer struct {
	t       testing.TB
	handler Handler

	mu       sync.Mutex
	conn     net.Conn
	received chan frame.Frame
	done     chan struct{}
}

func NewPeer(t testing.TB, handler Handler) *Peer {
	t.Helper()
	p := &Peer{
		t:        t,
		handler:  handler,
		received: make(chan frame.Frame, 64),
		done:     make(chan struct{}),
	}
	t.Cleanup(p.Close)
	return p
}

// Dialer accepts only candidate index accept and refuses the others.
func (p *Peer) Dialer(accept int) transport.Dialer {
	return transport.DialFunc(func(_ context.Context, index int) (io.ReadWriteCloser, error) {
		if index != accept {
			return nil, fmt.Errorf("dial %s: connection refused", transport.PipeName(index))
		}
		client, server := net.Pipe()
		p.mu.Lock()
		p.conn = server
		p.mu.Unlock()
		go p.serve(server)
		return client, nil
	})
}

func (p *Peer) serve(conn net.Conn) {
	defer close(p.done)
	for {
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		select {
		case p.received <- f:
		default:
			p.t.Errorf("ipctest: received buffer full, dropping %s", f)
		}
		if p.handler != nil {
			p.handler(p, f)
		}
	}
}

// Send writes f to the client.
func (p *Peer) Send(f frame.Frame) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		p.t.Errorf("ipctest: send before connect")
		return
	}
	if err := frame.WriteFrame(conn, f); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.t.Errorf("ipctest: write %s: %v", f, err)
	}
}

// SendJSON encodes payload under op and writes it.
func (p *Peer) SendJSON(op frame.Opcode, payload any) {
	f, err := frame.New(op, payload)
	if err != nil {
		p.t.Errorf("ipctest: encode: %v", err)
		return
	}
	p.Send(f)
}

// Reply answers req with data, echoing its cmd and nonce.
func (p *Peer) Reply(req frame.Frame, data any) {
	msg := mustMessage(p.t, req)
	p.SendJSON(frame.OpFrame, map[string]any{
		"cmd":   msg.Cmd,
		"evt":   nil,
		"nonce": msg.Nonce,
		"data":  data,
	})
}

// ReplyError answers req with an ERROR event.
func (p *Peer) ReplyError(req frame.Frame, code int, message string) {
	msg := mustMessage(p.t, req)
	p.SendJSON(frame.OpFrame, map[string]any{
		"cmd":   msg.Cmd,
		"evt":   "ERROR",
		"nonce": msg.Nonce,
		"data":  map[string]any{"code": code, "message": message},
	})
}

// Dispatch emits an uncorrelated event.
func (p *Peer) Dispatch(evt string, data any) {
	p.SendJSON(frame.OpFrame, map[string]any{
		"cmd":   "DISPATCH",
		"evt":   evt,
		"nonce": nil,
		"data":  data,
	})
}

// Next returns the next frame the client wrote.
func (p *Peer) Next(timeout time.Duration) frame.Frame {
	p.t.Helper()
	select {
	case f := <-p.received:
		return f
	case <-time.After(timeout):
		p.t.Fatalf("ipctest: no frame within %v", timeout)
		return frame.Frame{}
	}
}

// Close drops the server side of the pipe.
func (p *Peer) Close() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Message decodes the envelope of f or fails the test.
func Message(t testing.TB, f frame.Frame) frame.Message {
	t.Helper()
	return mustMessage(t, f)
}

func mustMessage(t testing.TB, f frame.Frame) frame.Message {
	t.Helper()
	var msg frame.Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		t.Errorf("ipctest: decode %s: %v", f, err)
	}
	return msg
}
