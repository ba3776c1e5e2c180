// Package voice is the host-facing mute controller. It runs the auth flow
// over a Discord IPC session and exposes mute state once the session is
// ready.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/mutectl/internal/auth"
	logs "github.com/danmuck/mutectl/internal/logging"
	"github.com/danmuck/mutectl/internal/protocol/frame"
	"github.com/danmuck/mutectl/internal/protocol/session"
	"github.com/danmuck/mutectl/internal/protocol/transport"
	"github.com/danmuck/mutectl/internal/settings"
)

var ErrMuteUnknown = errors.New("voice: reply carried no mute state")

type Config struct {
	Credentials settings.Credentials
	Scopes      []string
	Exchanger   auth.Exchanger
	// Store persists refreshed credentials. Nil disables persistence.
	Store   *settings.Store
	Session session.Config
}

type Option func(*Controller)

// WithMuteChanged registers fn for every VOICE_SETTINGS_UPDATE that carries
// a mute value. fn runs on the receive goroutine in wire order.
func WithMuteChanged(fn func(mute bool)) Option {
	return func(c *Controller) {
		c.onMute = fn
	}
}

// WithTransition observes auth state changes.
func WithTransition(fn func(from, to auth.State)) Option {
	return func(c *Controller) {
		c.onTransition = fn
	}
}

type Controller struct {
	sess *session.Session
	flow *auth.Flow

	onMute       func(bool)
	onTransition func(from, to auth.State)

	closeOnce sync.Once
	closeErr  error
}

func New(dialer transport.Dialer, cfg Config, opts ...Option) (*Controller, error) {
	c := &Controller{}
	for _, opt := range opts {
		opt(c)
	}
	c.sess = session.New(dialer, cfg.Session)

	var save auth.SaveFunc
	if cfg.Store != nil {
		save = cfg.Store.Save
	}
	flow, err := auth.NewFlow(c.sess, auth.Config{
		Credentials:  cfg.Credentials,
		Scopes:       cfg.Scopes,
		Exchanger:    cfg.Exchanger,
		Save:         save,
		OnTransition: c.onTransition,
		Subscriptions: []auth.Subscription{{
			Event:    session.EventVoiceSettingsUpdate,
			Listener: c.voiceSettingsUpdated,
		}},
	})
	if err != nil {
		return nil, err
	}
	c.flow = flow
	return c, nil
}

// Start connects and authenticates. The initial mute state is logged once
// the session is ready.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.flow.Run(ctx); err != nil {
		return err
	}
	mute, err := c.Mute(ctx)
	if err != nil {
		logs.Warnf("voice initial mute state unavailable err=%v", err)
		return nil
	}
	logs.Infof("voice ready mute=%t", mute)
	return nil
}

func (c *Controller) voiceSettingsUpdated(f frame.Frame) {
	vs, err := session.DecodeVoiceSettings(f)
	if err != nil {
		logs.Warnf("voice settings update ignored err=%v", err)
		return
	}
	if vs.Mute == nil {
		return
	}
	logs.Debugf("voice mute changed mute=%t", *vs.Mute)
	if c.onMute != nil {
		c.onMute(*vs.Mute)
	}
}

func (c *Controller) VoiceSettings(ctx context.Context) (session.VoiceSettings, error) {
	if err := c.flow.Ready(); err != nil {
		return session.VoiceSettings{}, err
	}
	return c.sess.GetVoiceSettings(ctx)
}

// Mute returns the current microphone mute state.
func (c *Controller) Mute(ctx context.Context) (bool, error) {
	vs, err := c.VoiceSettings(ctx)
	if err != nil {
		return false, err
	}
	return muteOf(vs)
}

// SetMute sets the mute state and returns the state Discord reports back.
func (c *Controller) SetMute(ctx context.Context, mute bool) (bool, error) {
	if err := c.flow.Ready(); err != nil {
		return false, err
	}
	vs, err := c.sess.SetVoiceSettings(ctx, session.VoiceSettingsUpdate{Mute: &mute})
	if err != nil {
		return false, err
	}
	return muteOf(vs)
}

func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	mute, err := c.Mute(ctx)
	if err != nil {
		return false, err
	}
	return c.SetMute(ctx, !mute)
}

func (c *Controller) State() auth.State {
	return c.flow.State()
}

func (c *Controller) Credentials() settings.Credentials {
	return c.flow.Credentials()
}

// Done is closed when the underlying connection ends.
func (c *Controller) Done() <-chan struct{} {
	return c.sess.Done()
}

func (c *Controller) Err() error {
	return c.sess.Err()
}

// Close says goodbye to Discord when the session is ready, then releases
// the connection. Safe to call more than once.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.flow.Ready() != nil {
			c.closeErr = c.sess.Close()
			return
		}
		if err := c.sess.Shutdown(ctx); err != nil {
			c.closeErr = fmt.Errorf("voice shutdown: %w", err)
		}
	})
	return c.closeErr
}

func muteOf(vs session.VoiceSettings) (bool, error) {
	if vs.Mute == nil {
		return false, ErrMuteUnknown
	}
	return *vs.Mute, nil
}
