package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StreamSource pushes sensor events to fn until the stream ends or ctx is
// cancelled
type StreamSource interface {
	StreamSensors(ctx context.Context, fn func(Event)) error
}

// Follow consumes src into buf. Sources retry failed connections on their
// own; a stream the server ended cannot be resumed, so a new one is opened
// once retryDelay has passed.
func Follow(ctx context.Context, src StreamSource, buf *Buffer, retryDelay time.Duration) {
	for {
		err := src.StreamSensors(ctx, func(ev Event) {
			buf.Accept(ev)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Dur("retryIn", retryDelay).Msg("Sensor stream failed")
		} else {
			log.Info().Dur("retryIn", retryDelay).Msg("Sensor stream ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}
