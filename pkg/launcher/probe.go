package launcher

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/backendctl/pkg/events"
)

// probeReady polls addr until it accepts a TCP connection or ctx expires.
// The outcome is observational: the server owns its own lifecycle, so a
// probe timeout only logs a warning.
func (l *Launcher) probeReady(ctx context.Context, addr string) {
	if err := waitTCP(ctx, addr); err != nil {
		log.Warn().Str("addr", addr).Err(err).Msg("server did not become ready in time")
		return
	}
	log.Info().Str("addr", addr).Msg("server accepting connections")
	l.publish(events.TypeServerReady, events.ServerReady{Addr: addr})
}

func waitTCP(ctx context.Context, addr string) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()

	for {
		d := net.Dialer{Timeout: 200 * time.Millisecond}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
