package ipctest

import (
	"encoding/json"
	"sync"

	"github.com/danmuck/mutectl/internal/protocol/frame"
)

// Discord scripts the desktop client's side of the auth and voice
// settings conversation.
type Discord struct {
	// ValidTokens lists access tokens AUTHENTICATE accepts.
	ValidTokens map[string]bool
	// AuthorizeCode is returned by AUTHORIZE; empty omits the code.
	AuthorizeCode string
	// RejectHandshake answers HANDSHAKE with CLOSE.
	RejectHandshake bool
	// Silent lists commands that never get a reply.
	Silent map[string]bool

	mu         sync.Mutex
	mute       bool
	subscribed map[string]bool
	commands   []string
}

func NewDiscord() *Discord {
	return &Discord{
		ValidTokens: map[string]bool{},
		subscribed:  map[string]bool{},
	}
}

// Commands returns every cmd (or opcode name for non-FRAME frames) in the
// order the client sent them.
func (d *Discord) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

func (d *Discord) SetMute(mute bool) {
	d.mu.Lock()
	d.mute = mute
	d.mu.Unlock()
}

func (d *Discord) Mute() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mute
}

func (d *Discord) Handle(p *Peer, req frame.Frame) {
	switch req.Opcode {
	case frame.OpHandshake:
		d.record("HANDSHAKE")
		if d.RejectHandshake {
			p.SendJSON(frame.OpClose, map[string]any{"code": 4000, "message": "Invalid Client ID"})
			return
		}
		p.Dispatch("READY", map[string]any{"v": 1, "config": map[string]any{"api_endpoint": "//discord.com/api"}})
		return
	case frame.OpClose:
		d.record("CLOSE")
		p.SendJSON(frame.OpClose, map[string]any{"code": 1000, "message": "bye"})
		return
	case frame.OpPong:
		d.record("PONG")
		return
	case frame.OpFrame:
	default:
		return
	}

	var msg struct {
		Cmd   string          `json:"cmd"`
		Args  json.RawMessage `json:"args"`
		Evt   string          `json:"evt"`
		Nonce string          `json:"nonce"`
	}
	if err := json.Unmarshal(req.Payload, &msg); err != nil {
		p.t.Errorf("ipctest: decode command: %v", err)
		return
	}
	d.record(msg.Cmd)
	if d.Silent[msg.Cmd] {
		return
	}

	switch msg.Cmd {
	case "AUTHENTICATE":
		var args struct {
			AccessToken string `json:"access_token"`
		}
		_ = json.Unmarshal(msg.Args, &args)
		if !d.ValidTokens[args.AccessToken] {
			p.ReplyError(req, 4009, "Invalid access token")
			return
		}
		p.Reply(req, map[string]any{"access_token": args.AccessToken, "scopes": []string{"rpc"}})
	case "AUTHORIZE":
		if d.AuthorizeCode == "" {
			p.Reply(req, map[string]any{})
			return
		}
		p.Reply(req, map[string]any{"code": d.AuthorizeCode})
	case "GET_VOICE_SETTINGS":
		p.Reply(req, map[string]any{"mute": d.Mute(), "deaf": false})
	case "SET_VOICE_SETTINGS":
		var args struct {
			Mute *bool `json:"mute"`
		}
		_ = json.Unmarshal(msg.Args, &args)
		if args.Mute != nil {
			d.SetMute(*args.Mute)
		}
		p.Reply(req, map[string]any{"mute": d.Mute(), "deaf": false})
	case "SUBSCRIBE":
		d.mu.Lock()
		d.subscribed[msg.Evt] = true
		d.mu.Unlock()
		p.SendJSON(frame.OpFrame, map[string]any{"cmd": msg.Cmd, "evt": nil, "nonce": msg.Nonce, "data": map[string]any{"evt": msg.Evt}})
	case "UNSUBSCRIBE":
		d.mu.Lock()
		delete(d.subscribed, msg.Evt)
		d.mu.Unlock()
		p.SendJSON(frame.OpFrame, map[string]any{"cmd": msg.Cmd, "evt": nil, "nonce": msg.Nonce, "data": map[string]any{"evt": msg.Evt}})
	default:
		p.ReplyError(req, 4002, "Invalid command: "+msg.Cmd)
	}
}

// Subscribed reports whether the client holds a wire subscription to evt.
func (d *Discord) Subscribed(evt string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribed[evt]
}

func (d *Discord) record(cmd string) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
}
