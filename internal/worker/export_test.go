package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HandleMessage exposes message handling without a Pub/Sub connection.
func HandleMessage(ctx context.Context, d *Dispatcher, logger zerolog.Logger, id string, data []byte) error {
	h := &PubSubHandler{dispatcher: d, logger: logger}
	return h.handleMessage(ctx, id, time.Now(), data)
}
