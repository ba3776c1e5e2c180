//go:build !windows

package transport

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
)

var endpointDirEnv = []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"}

// EndpointPath is the unix socket path for candidate index i.
func EndpointPath(i int) string {
	return filepath.Join(endpointDir(), PipeName(i))
}

// endpointDir returns the first configured directory that exists.
func endpointDir() string {
	for _, key := range endpointDirEnv {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if info, err := os.Stat(v); err == nil && info.IsDir() {
			return v
		}
	}
	return "/tmp"
}

func dialEndpoint(ctx context.Context, index int) (io.ReadWriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", EndpointPath(index))
}
