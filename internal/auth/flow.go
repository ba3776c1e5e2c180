package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	logs "github.com/danmuck/mutectl/internal/logging"
	"github.com/danmuck/mutectl/internal/protocol/session"
	"github.com/danmuck/mutectl/internal/settings"
)

type Config struct {
	Credentials   settings.Credentials
	Scopes        []string
	Exchanger     Exchanger
	Save          SaveFunc
	Subscriptions []Subscription
	// OnTransition observes every state change, including into StateFailed.
	OnTransition func(from, to State)
}

func DefaultScopes() []string {
	return []string{"rpc", "rpc.voice.read", "rpc.voice.write"}
}

type Flow struct {
	sess Session
	cfg  Config

	mu      sync.Mutex
	state   State
	creds   settings.Credentials
	failure *Failure
}

func NewFlow(sess Session, cfg Config) (*Flow, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exchanger == nil {
		return nil, ErrExchangerRequired
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	return &Flow{
		sess:  sess,
		cfg:   cfg,
		state: StateIdle,
		creds: cfg.Credentials,
	}, nil
}

// Run drives the flow to StateReady or StateFailed. It may only be called
// once.
func (f *Flow) Run(ctx context.Context) error {
	if !f.begin() {
		return ErrAlreadyStarted
	}
	creds := f.Credentials()

	if err := f.sess.Connect(ctx); err != nil {
		return f.fail(StateConnecting, err)
	}

	f.transition(StateHandshaking)
	if _, err := f.sess.Handshake(ctx, creds.ClientID); err != nil {
		return f.fail(StateHandshaking, err)
	}

	f.transition(StateValidatingCachedToken)
	authenticated, err := f.validateCachedToken(ctx, creds.AccessToken)
	if err != nil {
		return f.fail(StateValidatingCachedToken, err)
	}
	if !authenticated {
		if err := f.authorize(ctx, creds); err != nil {
			return err
		}
	}
	f.transition(StateAuthenticated)

	f.transition(StateSubscribing)
	for _, sub := range f.cfg.Subscriptions {
		if _, _, err := f.sess.Subscribe(ctx, sub.Event, sub.Listener); err != nil {
			return f.fail(StateSubscribing, fmt.Errorf("subscribe %s: %w", sub.Event, err))
		}
	}
	f.transition(StateReady)
	return nil
}

// validateCachedToken reports whether the stored token was accepted. A
// peer rejection is a fallback signal, not an error.
func (f *Flow) validateCachedToken(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		logs.Infof("auth no cached access token, authorizing")
		return false, nil
	}
	_, err := f.sess.Authenticate(ctx, token)
	if err == nil {
		logs.Infof("auth cached access token accepted")
		return true, nil
	}
	var pe *session.PeerError
	if errors.As(err, &pe) {
		logs.Warnf("auth cached access token rejected code=%d message=%q, authorizing", pe.Code, pe.Message)
		return false, nil
	}
	return false, err
}

func (f *Flow) authorize(ctx context.Context, creds settings.Credentials) error {
	f.transition(StateAuthorizing)
	code, err := f.sess.Authorize(ctx, creds.ClientID, f.cfg.Scopes)
	if err != nil {
		var pe *session.PeerError
		if errors.As(err, &pe) {
			return f.fail(StateAuthorizing, fmt.Errorf("%w: %w", ErrAuthorizationDenied, err))
		}
		return f.fail(StateAuthorizing, err)
	}
	if strings.TrimSpace(code) == "" {
		return f.fail(StateAuthorizing, fmt.Errorf("%w: reply carried no code", ErrAuthorizationDenied))
	}

	f.transition(StateExchangingToken)
	tok, err := f.cfg.Exchanger.Exchange(ctx, code)
	if err != nil {
		return f.fail(StateExchangingToken, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err))
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return f.fail(StateExchangingToken, fmt.Errorf("%w: no access_token issued", ErrTokenExchangeFailed))
	}
	f.storeToken(tok.AccessToken)

	f.transition(StateAuthenticating)
	if _, err := f.sess.Authenticate(ctx, tok.AccessToken); err != nil {
		return f.fail(StateAuthenticating, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err))
	}
	return nil
}

func (f *Flow) storeToken(token string) {
	f.mu.Lock()
	f.creds.AccessToken = token
	creds := f.creds
	f.mu.Unlock()

	if f.cfg.Save == nil {
		return
	}
	if err := f.cfg.Save(creds); err != nil {
		logs.Warnf("auth save refreshed credentials failed err=%v", err)
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Credentials returns the credentials as last updated by the flow.
func (f *Flow) Credentials() settings.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// Failure returns the recorded failure, or nil.
func (f *Flow) Failure() *Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// Ready returns nil once the flow reached StateReady. Callers use it to
// gate protocol operations.
func (f *Flow) Ready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateReady:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %w", ErrFlowFailed, f.failure)
	default:
		return fmt.Errorf("%w: state=%s", ErrNotReady, f.state)
	}
}

func (f *Flow) begin() bool {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return false
	}
	f.state = StateConnecting
	f.mu.Unlock()
	f.notify(StateIdle, StateConnecting)
	return true
}

func (f *Flow) transition(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	f.notify(from, to)
}

func (f *Flow) notify(from, to State) {
	logs.Debugf("auth transition %s -> %s", from, to)
	if f.cfg.OnTransition != nil {
		f.cfg.OnTransition(from, to)
	}
}

func (f *Flow) fail(stage State, err error) error {
	failure := &Failure{Stage: stage, Err: err}
	f.mu.Lock()
	f.failure = failure
	f.mu.Unlock()
	logs.Errf("auth flow failed stage=%s err=%v", stage, err)
	f.transition(StateFailed)
	return failure
}
