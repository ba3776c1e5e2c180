package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	logs "github.com/danmuck/mutectl/internal/logging"
	"github.com/danmuck/mutectl/internal/protocol/frame"
	"github.com/danmuck/mutectl/internal/protocol/registry"
	"github.com/danmuck/mutectl/internal/protocol/transport"
)

// EventReady is the dispatch Discord sends in answer to a HANDSHAKE.
const EventReady = "READY"

var (
	ErrSessionClosed  = errors.New("session: closed")
	ErrRequestTimeout = errors.New("session: request timed out")
	ErrMissingNonce   = errors.New("session: command has no nonce")
)

type Session struct {
	cfg Config
	reg *registry.Registry
	tr  *transport.Transport
}

func New(dialer transport.Dialer, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		cfg: cfg,
		reg: registry.New(),
	}
	s.tr = transport.New(dialer, s.reg.Dispatch, cfg.Transport)
	s.reg.Register(registry.OpcodeName(frame.OpPing), false, s.onPing)
	return s
}

// Connect opens the transport. The receive loop lives until ctx ends or
// Close is called.
func (s *Session) Connect(ctx context.Context) error {
	return s.tr.Connect(ctx)
}

// Close releases the connection and wakes every pending request.
func (s *Session) Close() error {
	return s.tr.Close()
}

// Done is closed once the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.tr.Done()
}

// Err returns the error that ended the connection, if any.
func (s *Session) Err() error {
	return s.tr.Err()
}

// Registry exposes the listener registry for diagnostics.
func (s *Session) Registry() *registry.Registry {
	return s.reg
}

// NewNonce returns a fresh request nonce.
func NewNonce() string {
	return uuid.NewString()
}

// RequestResponse sends f and waits for the frame that answers it. The
// reply listener is registered before the write so a fast peer cannot
// answer ahead of it.
func (s *Session) RequestResponse(ctx context.Context, f frame.Frame) (frame.Frame, error) {
	keys, err := replyKeys(f)
	if err != nil {
		return frame.Frame{}, err
	}

	replies := make(chan frame.Frame, len(keys))
	ids := make([]registry.ListenerID, len(keys))
	for i, key := range keys {
		ids[i] = s.reg.Register(key, true, func(r frame.Frame) { replies <- r })
	}
	release := func() {
		for i, key := range keys {
			s.reg.Unregister(key, ids[i])
		}
	}

	if err := s.tr.Send(f); err != nil {
		release()
		return frame.Frame{}, err
	}

	waitCtx := ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, s.cfg.RequestTimeout, ErrRequestTimeout)
		defer cancel()
	}

	select {
	case r := <-replies:
		release()
		return r, nil
	case <-waitCtx.Done():
		release()
		cause := context.Cause(waitCtx)
		logs.Warnf("session.RequestResponse key=%s err=%v", keys[0], cause)
		return frame.Frame{}, fmt.Errorf("session: await %s: %w", keys[0], cause)
	case <-s.tr.Done():
		release()
		select {
		case r := <-replies:
			return r, nil
		default:
		}
		if err := s.tr.Err(); err != nil {
			return frame.Frame{}, fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		return frame.Frame{}, ErrSessionClosed
	}
}

// replyKeys lists the identifiers an answer to f may arrive under. Discord
// answers HANDSHAKE with a READY dispatch, or with CLOSE when it rejects
// the client id.
func replyKeys(f frame.Frame) ([]registry.Identifier, error) {
	switch f.Opcode {
	case frame.OpFrame:
		msg, err := f.Message()
		if err != nil {
			return nil, err
		}
		if msg.Nonce == "" {
			return nil, fmt.Errorf("%w: cmd=%s", ErrMissingNonce, msg.Cmd)
		}
		return []registry.Identifier{registry.Nonce(msg.Nonce)}, nil
	case frame.OpHandshake:
		return []registry.Identifier{
			registry.EventName(EventReady),
			registry.OpcodeName(frame.OpClose),
		}, nil
	case frame.OpClose:
		return []registry.Identifier{registry.OpcodeName(frame.OpClose)}, nil
	default:
		return []registry.Identifier{registry.OpcodeName(f.Opcode)}, nil
	}
}

// Subscribe sends SUBSCRIBE for evt and, once acknowledged, delivers every
// matching event to fn. Events racing ahead of the acknowledgement are lost.
func (s *Session) Subscribe(ctx context.Context, evt string, fn registry.Listener) (frame.Message, registry.ListenerID, error) {
	ack, err := s.Call(ctx, Command{Cmd: CmdSubscribe, Evt: evt})
	if err != nil {
		return ack, 0, err
	}
	id := s.reg.Register(registry.EventName(evt), false, fn)
	logs.Debugf("session subscribed evt=%s listener=%d", evt, id)
	return ack, id, nil
}

// Unsubscribe sends UNSUBSCRIBE for evt and drops the listener. The wire
// command goes out even when other listeners remain on evt.
func (s *Session) Unsubscribe(ctx context.Context, evt string, id registry.ListenerID) (frame.Message, error) {
	ack, err := s.Call(ctx, Command{Cmd: CmdUnsubscribe, Evt: evt})
	if err != nil {
		return ack, err
	}
	s.reg.Unregister(registry.EventName(evt), id)
	logs.Debugf("session unsubscribed evt=%s listener=%d remaining=%d", evt, id, s.reg.Count(registry.EventName(evt)))
	return ack, nil
}

func (s *Session) onPing(f frame.Frame) {
	if err := s.tr.Send(frame.Frame{Opcode: frame.OpPong, Payload: f.Payload}); err != nil {
		logs.Warnf("session pong failed err=%v", err)
	}
}
