package logging

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).Level(zerolog.InfoLevel)
	base.Store(&l)
}

// Logger returns the current process logger.
func Logger() *zerolog.Logger {
	return base.Load()
}

func Tracef(format string, args ...any) {
	base.Load().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	base.Load().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	base.Load().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	base.Load().Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	base.Load().Error().Msgf(format, args...)
}
