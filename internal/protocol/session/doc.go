// Package session multiplexes request/response calls and event
// subscriptions over one Discord IPC connection.
//
// Ownership boundary:
// - nonce correlation of replies to requests
// - SUBSCRIBE/UNSUBSCRIBE bookkeeping for persistent event listeners
// - typed RPC commands (AUTHORIZE, AUTHENTICATE, voice settings)
// - PING/PONG keepalive replies
//
// The transport and registry packages own framing and routing; this package
// only composes them.
package session
