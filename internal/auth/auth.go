// Package auth sequences a session from handshake to a usable,
// authenticated, subscribed state.
//
// A missing or rejected cached token is not an error: both fall back to
// interactive authorization inside the Discord client.
package auth

import (
	"context"
	"errors"

	"github.com/danmuck/mutectl/internal/oauth"
	"github.com/danmuck/mutectl/internal/protocol/frame"
	"github.com/danmuck/mutectl/internal/protocol/registry"
	"github.com/danmuck/mutectl/internal/settings"
)

var (
	ErrAuthorizationDenied  = errors.New("auth: authorization denied")
	ErrTokenExchangeFailed  = errors.New("auth: token exchange failed")
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
	ErrFlowFailed           = errors.New("auth: flow failed")
	ErrNotReady             = errors.New("auth: session not ready")
	ErrAlreadyStarted       = errors.New("auth: flow already started")
	ErrExchangerRequired    = errors.New("auth: token exchanger required")
)

// Session is the protocol surface the flow drives.
type Session interface {
	Connect(ctx context.Context) error
	Handshake(ctx context.Context, clientID string) (frame.Message, error)
	Authorize(ctx context.Context, clientID string, scopes []string) (string, error)
	Authenticate(ctx context.Context, accessToken string) (frame.Message, error)
	Subscribe(ctx context.Context, evt string, fn registry.Listener) (frame.Message, registry.ListenerID, error)
}

// Exchanger trades an authorization code for an access token.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (oauth.Token, error)
}

// FuncExchanger adapts a function into an Exchanger.
type FuncExchanger func(ctx context.Context, code string) (oauth.Token, error)

func (f FuncExchanger) Exchange(ctx context.Context, code string) (oauth.Token, error) {
	return f(ctx, code)
}

// SaveFunc persists credentials after a token refresh.
type SaveFunc func(settings.Credentials) error

// Subscription is a standing event subscription issued once authenticated.
type Subscription struct {
	Event    string
	Listener registry.Listener
}
