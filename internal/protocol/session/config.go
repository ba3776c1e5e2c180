package session

import (
	"time"

	"github.com/danmuck/mutectl/internal/protocol/transport"
)

// Config defines session defaults.
type Config struct {
	// RequestTimeout bounds each RequestResponse wait. Zero waits until the
	// caller's context ends.
	RequestTimeout time.Duration
	Transport      transport.Config
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		Transport:      transport.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	c.Transport = c.Transport.WithDefaults()
	return c
}
