package node

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickLoop calls step every interval until ctx is done. Step errors are
// logged and the loop keeps going; they describe connections that have
// already been dropped.
func TickLoop(ctx context.Context, interval time.Duration, log zerolog.Logger, step func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := step(); err != nil {
			log.Warn().Err(err).Msg("tick dropped connections")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
