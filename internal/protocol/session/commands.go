package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/mutectl/internal/protocol/frame"
)

const (
	CmdDispatch         = "DISPATCH"
	CmdAuthorize        = "AUTHORIZE"
	CmdAuthenticate     = "AUTHENTICATE"
	CmdGetVoiceSettings = "GET_VOICE_SETTINGS"
	CmdSetVoiceSettings = "SET_VOICE_SETTINGS"
	CmdSubscribe        = "SUBSCRIBE"
	CmdUnsubscribe      = "UNSUBSCRIBE"

	EventError               = "ERROR"
	EventVoiceSettingsUpdate = "VOICE_SETTINGS_UPDATE"

	HandshakeVersion = 1
)

// Command is an outbound FRAME payload. Args defaults to {} and Nonce to a
// fresh UUID when left empty.
type Command struct {
	Cmd   string `json:"cmd"`
	Args  any    `json:"args"`
	Evt   string `json:"evt,omitempty"`
	Nonce string `json:"nonce"`
}

// Frame fills defaults and encodes c.
func (c Command) Frame() (frame.Frame, error) {
	if c.Args == nil {
		c.Args = struct{}{}
	}
	if c.Nonce == "" {
		c.Nonce = NewNonce()
	}
	return frame.New(frame.OpFrame, c)
}

// PeerError is an ERROR event returned in place of a command result.
type PeerError struct {
	Cmd     string
	Code    int
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("session: %s rejected by peer: code=%d message=%q", e.Cmd, e.Code, e.Message)
}

// CloseError carries the payload of a CLOSE frame sent by the peer.
type CloseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("session: peer closed: code=%d message=%q", e.Code, e.Message)
}

func peerError(msg frame.Message) *PeerError {
	out := &PeerError{Cmd: msg.Cmd}
	var data struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if msg.HasData() && json.Unmarshal(msg.Data, &data) == nil {
		out.Code = data.Code
		out.Message = data.Message
	}
	return out
}

// Call sends one command and returns the correlated reply envelope. An
// ERROR reply is returned alongside a *PeerError.
func (s *Session) Call(ctx context.Context, c Command) (frame.Message, error) {
	f, err := c.Frame()
	if err != nil {
		return frame.Message{}, err
	}
	reply, err := s.RequestResponse(ctx, f)
	if err != nil {
		return frame.Message{}, err
	}
	msg, err := reply.Message()
	if err != nil {
		return frame.Message{}, err
	}
	if msg.Evt == EventError {
		return msg, peerError(msg)
	}
	return msg, nil
}

// Handshake sends the HANDSHAKE opcode and waits for READY.
func (s *Session) Handshake(ctx context.Context, clientID string) (frame.Message, error) {
	f, err := frame.New(frame.OpHandshake, frame.Handshake{Version: HandshakeVersion, ClientID: clientID})
	if err != nil {
		return frame.Message{}, err
	}
	reply, err := s.RequestResponse(ctx, f)
	if err != nil {
		return frame.Message{}, err
	}
	if reply.Opcode == frame.OpClose {
		ce := &CloseError{}
		_ = json.Unmarshal(reply.Payload, ce)
		return frame.Message{}, ce
	}
	return reply.Message()
}

// Shutdown sends CLOSE, waits for the peer to echo it, then releases the
// connection.
func (s *Session) Shutdown(ctx context.Context) error {
	defer s.Close()
	f, err := frame.New(frame.OpClose, struct{}{})
	if err != nil {
		return err
	}
	_, err = s.RequestResponse(ctx, f)
	return err
}

type authorizeArgs struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// Authorize asks the user to grant scopes and returns the authorization
// code, or "" when the reply carries none.
func (s *Session) Authorize(ctx context.Context, clientID string, scopes []string) (string, error) {
	msg, err := s.Call(ctx, Command{
		Cmd:  CmdAuthorize,
		Args: authorizeArgs{ClientID: clientID, Scopes: scopes},
	})
	if err != nil {
		return "", err
	}
	var data struct {
		Code string `json:"code"`
	}
	if msg.HasData() {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return "", fmt.Errorf("session: decode %s reply: %w", CmdAuthorize, err)
		}
	}
	return data.Code, nil
}

type authenticateArgs struct {
	AccessToken string `json:"access_token"`
}

// Authenticate establishes the session with an access token.
func (s *Session) Authenticate(ctx context.Context, accessToken string) (frame.Message, error) {
	return s.Call(ctx, Command{
		Cmd:  CmdAuthenticate,
		Args: authenticateArgs{AccessToken: accessToken},
	})
}

// VoiceSettings is the subset of voice settings this client reads.
type VoiceSettings struct {
	Mute *bool `json:"mute,omitempty"`
	Deaf *bool `json:"deaf,omitempty"`
}

// VoiceSettingsUpdate is the writable subset of voice settings.
type VoiceSettingsUpdate struct {
	Mute *bool `json:"mute,omitempty"`
	Deaf *bool `json:"deaf,omitempty"`
}

func (s *Session) GetVoiceSettings(ctx context.Context) (VoiceSettings, error) {
	return s.voiceSettings(ctx, Command{Cmd: CmdGetVoiceSettings})
}

func (s *Session) SetVoiceSettings(ctx context.Context, update VoiceSettingsUpdate) (VoiceSettings, error) {
	return s.voiceSettings(ctx, Command{Cmd: CmdSetVoiceSettings, Args: update})
}

func (s *Session) voiceSettings(ctx context.Context, c Command) (VoiceSettings, error) {
	msg, err := s.Call(ctx, c)
	if err != nil {
		return VoiceSettings{}, err
	}
	var vs VoiceSettings
	if msg.HasData() {
		if err := json.Unmarshal(msg.Data, &vs); err != nil {
			return VoiceSettings{}, fmt.Errorf("session: decode %s reply: %w", c.Cmd, err)
		}
	}
	return vs, nil
}

// DecodeVoiceSettings reads the body of a VOICE_SETTINGS_UPDATE event.
func DecodeVoiceSettings(f frame.Frame) (VoiceSettings, error) {
	msg, err := f.Message()
	if err != nil {
		return VoiceSettings{}, err
	}
	var vs VoiceSettings
	if !msg.HasData() {
		return vs, nil
	}
	if err := json.Unmarshal(msg.Data, &vs); err != nil {
		return VoiceSettings{}, fmt.Errorf("session: decode %s event: %w", msg.Evt, err)
	}
	return vs, nil
}
