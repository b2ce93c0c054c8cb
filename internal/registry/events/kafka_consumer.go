package events

import (
	"context"
	"encoding/json"

	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Consumer reads the changefeed and hands each event to a registered
// handler. External reporting collaborators (and the `follow` CLI command)
// consume through it.
type Consumer struct {
	reader  *kafka.Reader
	logger  *zap.Logger
	handler func(context.Context, models.ChangeEvent) error
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
			Dialer:  kafka.DefaultDialer,
		}),
		logger: logger.Named("kafka_consumer"),
	}
}

func (c *Consumer) RegisterHandler(fn func(context.Context, models.ChangeEvent) error) {
	c.handler = fn
}

// Start consumes until ctx is canceled. Messages are committed only after
// the handler succeeds, so a crashed consumer re-reads unhandled events.
// Starting without a registered handler is a no-op.
func (c *Consumer) Start(ctx context.Context) {
	if c.handler == nil {
		c.logger.Error("No handler registered, consumer not started")
		return
	}
	go func() {
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Failed to fetch message", zap.Error(err))
				continue
			}

			var event models.ChangeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				c.logger.Error("Failed to parse event",
					zap.Error(err),
					zap.ByteString("value", msg.Value),
				)
				continue
			}

			if err := c.handler(ctx, event); err != nil {
				c.logger.Error("Failed to handle event",
					zap.Error(err),
					zap.String("change_type", string(event.Type)),
				)
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Failed to commit message",
					zap.Error(err),
					zap.String("change_type", string(event.Type)),
				)
			}
		}
	}()
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka reader", zap.Error(err))
	}
}
