package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/kafka/registry"

	// Blank import triggers init() in each handler file,
	// registering all event handlers into the registry.
	_ "vn.io.arda/livenotify/internal/kafka/handlers"
)

// Handler is the service side of the consumer.
type Handler interface {
	Handle(ctx context.Context, d application.Dispatch) error
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client  *kgo.Client
	handler Handler
}

// New creates a Consumer with the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string, h Handler) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, handler: h}, nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			c.process(ctx, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process routes a record through the registry and hands the result to the service.
func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	dispatch := Route(r.Topic, r.Value)
	if dispatch == nil {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return
	}

	if err := c.handler.Handle(ctx, *dispatch); err != nil {
		log.Error().Err(err).
			Str("topic", r.Topic).
			Int("notifications", len(dispatch.Notifications)).
			Msg("failed to deliver notifications from kafka event")
	}
}

// Route resolves a record to a Dispatch. notification-commands is routed by
// topic alone; every other topic by its eventType.
func Route(topic string, value []byte) *application.Dispatch {
	if d := registry.DispatchDirect(topic, value); d != nil {
		return d
	}
	return registry.Dispatch(topic, value)
}
