package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/mutectl/internal/protocol/frame"
	"github.com/danmuck/mutectl/internal/protocol/registry"
	"github.com/danmuck/mutectl/internal/testutil/ipctest"
	"github.com/danmuck/mutectl/internal/testutil/testlog"
)

func connect(t *testing.T, peer *ipctest.Peer, cfg Config) (*Session, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := New(peer.Dialer(0), cfg)
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, ctx
}

func TestRequestResponseResolvesWithMatchingFrame(t *testing.T) {
	testlog.Start(t)
	reply := frame.Frame{Opcode: frame.OpFrame, Payload: json.RawMessage(`{"cmd":"GET_VOICE_SETTINGS","nonce":"abc","data":{"mute":true}}`)}
	peer := ipctest.NewPeer(t, func(p *ipctest.Peer, _ frame.Frame) {
		p.Send(reply)
	})
	s, ctx := connect(t, peer, DefaultConfig())

	req, err := frame.New(frame.OpFrame, map[string]any{"cmd": "GET_VOICE_SETTINGS", "args": map[string]any{}, "nonce": "abc"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := s.RequestResponse(ctx, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.Opcode != reply.Opcode || !bytes.Equal(got.Payload, reply.Payload) {
		t.Fatalf("unexpected reply: %s", got)
	}
	if n := s.Registry().Count(registry.Nonce("abc")); n != 0 {
		t.Fatalf("reply listener should be consumed, count=%d", n)
	}
}

func TestRequestResponseCorrelatesOutOfOrderReplies(t *testing.T) {
	testlog.Start(t)
	pending := make(chan frame.Frame, 2)
	peer := ipctest.NewPeer(t, func(p *ipctest.Peer, req frame.Frame) {
		pending <- req
		if len(pending) < 2 {
			return
		}
		first := <-pending
		second := <-pending
		// answer in reverse wire order
		p.Reply(second, map[string]any{"nonce": ipctest.Message(t, second).Nonce})
		p.Reply(first, map[string]any{"nonce": ipctest.Message(t, first).Nonce})
	})
	s, ctx := connect(t, peer, DefaultConfig())

	type result struct {
		nonce string
		echo  string
		err   error
	}
	results := make(chan result, 2)
	for _, nonce := range []string{"n-1", "n-2"} {
		go func(nonce string) {
			msg, err := s.Call(ctx, Command{Cmd: CmdGetVoiceSettings, Nonce: nonce})
			var data struct {
				Nonce string `json:"nonce"`
			}
			if err == nil {
				err = msg.DecodeData(&data)
			}
			results <- result{nonce: nonce, echo: data.Nonce, err: err}
		}(nonce)
	}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("call %s: %v", r.nonce, r.err)
			}
			if r.echo != r.nonce {
				t.Fatalf("call %s received reply for %s", r.nonce, r.echo)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("calls did not resolve")
		}
	}
}

func TestRequestResponseCancellation(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, nil)
	cfg := DefaultConfig()
	cfg.RequestTimeout = 0
	s, _ := connect(t, peer, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := s.Call(ctx, Command{Cmd: CmdGetVoiceSettings, Nonce: "never"})
		errs <- err
	}()
	peer.Next(time.Second)
	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled wait did not resolve")
	}
	if n := s.Registry().Count(registry.Nonce("never")); n != 0 {
		t.Fatalf("cancelled wait leaked listener, count=%d", n)
	}
}

func TestRequestResponseTimeout(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, nil)
	cfg := DefaultConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	s, ctx := connect(t, peer, cfg)

	_, err := s.Call(ctx, Command{Cmd: CmdGetVoiceSettings})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestRequestResponseFailsWhenPeerDisconnects(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, func(p *ipctest.Peer, _ frame.Frame) { p.Close() })
	cfg := DefaultConfig()
	cfg.RequestTimeout = 0
	s, ctx := connect(t, peer, cfg)

	_, err := s.Call(ctx, Command{Cmd: CmdGetVoiceSettings})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestRequestResponseRequiresNonce(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, nil)
	s, ctx := connect(t, peer, DefaultConfig())
	f, _ := frame.New(frame.OpFrame, map[string]any{"cmd": "GET_VOICE_SETTINGS"})
	if _, err := s.RequestResponse(ctx, f); !errors.Is(err, ErrMissingNonce) {
		t.Fatalf("expected ErrMissingNonce, got %v", err)
	}
}

func TestUnroutableFrameEndsSession(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, func(p *ipctest.Peer, _ frame.Frame) {
		p.SendJSON(frame.OpFrame, map[string]any{"cmd": "DISPATCH", "data": map[string]any{}})
	})
	cfg := DefaultConfig()
	cfg.RequestTimeout = 0
	s, ctx := connect(t, peer, cfg)

	_, err := s.Call(ctx, Command{Cmd: CmdGetVoiceSettings})
	if !errors.Is(err, registry.ErrUnroutableMessage) {
		t.Fatalf("expected ErrUnroutableMessage, got %v", err)
	}
}

func TestHandshakeWaitsForReady(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	msg, err := s.Handshake(ctx, "1234")
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if msg.Evt != EventReady {
		t.Fatalf("unexpected handshake reply: %+v", msg)
	}
	if n := s.Registry().Count(registry.OpcodeName(frame.OpClose)); n != 0 {
		t.Fatalf("handshake close listener leaked, count=%d", n)
	}
}

func TestHandshakeRejected(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	discord.RejectHandshake = true
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	_, err := s.Handshake(ctx, "bogus")
	var ce *CloseError
	if !errors.As(err, &ce) || ce.Code != 4000 {
		t.Fatalf("expected CloseError code=4000, got %v", err)
	}
}

func TestAuthenticateSurfacesPeerError(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	_, err := s.Authenticate(ctx, "stale")
	var pe *PeerError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PeerError, got %v", err)
	}
	if pe.Code != 4009 || pe.Message != "Invalid access token" || pe.Cmd != CmdAuthenticate {
		t.Fatalf("unexpected peer error: %+v", pe)
	}
}

func TestVoiceSettingsCommands(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	mute := true
	vs, err := s.SetVoiceSettings(ctx, VoiceSettingsUpdate{Mute: &mute})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if vs.Mute == nil || !*vs.Mute {
		t.Fatalf("unexpected set reply: %+v", vs)
	}
	vs, err = s.GetVoiceSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vs.Mute == nil || !*vs.Mute {
		t.Fatalf("unexpected get reply: %+v", vs)
	}

	// SET_VOICE_SETTINGS carries only the fields being changed
	var sent map[string]json.RawMessage
	for i := 0; i < 2; i++ {
		f := peer.Next(time.Second)
		_ = json.Unmarshal(f.Payload, &sent)
		if string(sent["cmd"]) == `"SET_VOICE_SETTINGS"` {
			break
		}
	}
	if string(sent["args"]) != `{"mute":true}` {
		t.Fatalf("unexpected args: %s", sent["args"])
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	events := make(chan VoiceSettings, 4)
	_, id, err := s.Subscribe(ctx, EventVoiceSettingsUpdate, func(f frame.Frame) {
		vs, err := DecodeVoiceSettings(f)
		if err != nil {
			t.Errorf("decode event: %v", err)
			return
		}
		events <- vs
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !discord.Subscribed(EventVoiceSettingsUpdate) {
		t.Fatalf("peer did not record subscription")
	}

	peer.Dispatch(EventVoiceSettingsUpdate, map[string]any{"mute": false})
	select {
	case vs := <-events:
		if vs.Mute == nil || *vs.Mute {
			t.Fatalf("unexpected event body: %+v", vs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}

	if _, err := s.Unsubscribe(ctx, EventVoiceSettingsUpdate, id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := s.Registry().Count(registry.EventName(EventVoiceSettingsUpdate)); n != 0 {
		t.Fatalf("listener not removed, count=%d", n)
	}
}

// UNSUBSCRIBE is sent on the wire even while another local listener still
// wants the event; the remaining listener stops receiving once the peer
// honours it.
func TestUnsubscribeSendsWireCommandWithListenersRemaining(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	noop := func(frame.Frame) {}
	_, first, err := s.Subscribe(ctx, EventVoiceSettingsUpdate, noop)
	if err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	if _, _, err := s.Subscribe(ctx, EventVoiceSettingsUpdate, noop); err != nil {
		t.Fatalf("subscribe second: %v", err)
	}
	if _, err := s.Unsubscribe(ctx, EventVoiceSettingsUpdate, first); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := s.Registry().Count(registry.EventName(EventVoiceSettingsUpdate)); n != 1 {
		t.Fatalf("expected one local listener left, count=%d", n)
	}
	if discord.Subscribed(EventVoiceSettingsUpdate) {
		t.Fatalf("expected wire subscription to be dropped")
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	testlog.Start(t)
	peer := ipctest.NewPeer(t, nil)
	connect(t, peer, DefaultConfig())

	peer.SendJSON(frame.OpPing, map[string]any{"t": 42})
	pong := peer.Next(2 * time.Second)
	if pong.Opcode != frame.OpPong || string(pong.Payload) != `{"t":42}` {
		t.Fatalf("unexpected pong: %s", pong)
	}
}

func TestShutdownSendsClose(t *testing.T) {
	testlog.Start(t)
	discord := ipctest.NewDiscord()
	peer := ipctest.NewPeer(t, discord.Handle)
	s, ctx := connect(t, peer, DefaultConfig())

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session not closed after shutdown")
	}
	cmds := discord.Commands()
	if len(cmds) != 1 || cmds[0] != "CLOSE" {
		t.Fatalf("unexpected commands: %v", cmds)
	}
}
