package core

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
)

// Listen opens a TCP listener on addr with SO_REUSEADDR set, so a restarted
// server can bind while old connections linger in TIME_WAIT.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlSocket}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}
