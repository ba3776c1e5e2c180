package auth

import "fmt"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateValidatingCachedToken
	StateAuthorizing
	StateExchangingToken
	StateAuthenticating
	StateAuthenticated
	StateSubscribing
	StateReady
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateConnecting:            "connecting",
	StateHandshaking:           "handshaking",
	StateValidatingCachedToken: "validating_cached_token",
	StateAuthorizing:           "authorizing",
	StateExchangingToken:       "exchanging_token",
	StateAuthenticating:        "authenticating",
	StateAuthenticated:         "authenticated",
	StateSubscribing:           "subscribing",
	StateReady:                 "ready",
	StateFailed:                "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Failure records the stage a flow died in.
type Failure struct {
	Stage State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("auth: %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
