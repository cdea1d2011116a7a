package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// PubSubHandler receives job messages and hands them to a Dispatcher.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// NewPubSubHandler connects to Pub/Sub.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	if cfg.ProjectID == "" || cfg.SubscriptionName == "" {
		return nil, errors.New("pubsub project and subscription are required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Runs are serialized by the collector, so one message at a time. A
	// multi-week backfill can take a while; keep extending the lease.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.NumGoroutines = 1
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Hour

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if ShouldAck(h.handleMessage(ctx, msg.ID, msg.PublishTime, msg.Data)) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, id string, published time.Time, data []byte) error {
	start := time.Now()
	logger := h.logger.With().
		Str("message_id", id).
		Str("publish_time", published.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.dispatcher.Handle(logger.WithContext(ctx), data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed successfully")
	case errors.Is(err, ErrMalformed):
		logger.Warn().Err(err).Msg("dropping job message")
	default:
		logger.Error().Err(err).Msg("job failed, message will be redelivered")
	}
	return err
}

// ShouldAck reports whether a message whose handling returned err should be
// acked rather than redelivered.
func ShouldAck(err error) bool {
	return err == nil || errors.Is(err, ErrMalformed)
}
