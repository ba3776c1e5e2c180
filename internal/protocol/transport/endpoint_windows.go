//go:build windows

package transport

import (
	"context"
	"io"

	"github.com/Microsoft/go-winio"
)

// EndpointPath is the named pipe path for candidate index i.
func EndpointPath(i int) string {
	return `\\.\pipe\` + PipeName(i)
}

// dialEndpoint opens the pipe for overlapped I/O so the receive loop's
// pending read does not block writes, and Close wakes it.
func dialEndpoint(ctx context.Context, index int) (io.ReadWriteCloser, error) {
	return winio.DialPipeContext(ctx, EndpointPath(index))
}
