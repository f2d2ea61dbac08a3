package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

// KafkaOptions configures the Kafka reader.
type KafkaOptions struct {
	Brokers           []string
	Topic             string
	GroupID           string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	AutoOffsetReset   string // earliest or latest
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads S3 event notifications from a Kafka topic.
// Offsets are committed manually through the ack callback.
type KafkaConsumer struct {
	reader messageReader
	logger *slog.Logger
}

// NewKafkaConsumer creates a consumer group member for opts.Topic.
func NewKafkaConsumer(opts KafkaOptions, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" || opts.GroupID == "" {
		return nil, core.Errorf(core.KindConfiguration, "kafka consumer", "incomplete kafka configuration: brokers, topic and group id are all required")
	}

	sessionTimeout := opts.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 3 * time.Second
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:           opts.Brokers,
		GroupID:           opts.GroupID,
		Topic:             opts.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           time.Second,
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       kafka.FirstOffset,
	}

	switch opts.AutoOffsetReset {
	case "", "earliest":
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	default:
		logger.Warn("unknown auto offset reset, using earliest", "value", opts.AutoOffsetReset)
	}

	logger.Info("kafka consumer created",
		"brokers", opts.Brokers,
		"topic", opts.Topic,
		"group_id", opts.GroupID,
	)

	return newKafkaConsumer(kafka.NewReader(readerConfig), logger), nil
}

func newKafkaConsumer(r messageReader, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: r, logger: logger}
}

// Consume implements Consumer.
func (k *KafkaConsumer) Consume(ctx context.Context) (trigger.Object, func(success bool), error) {
	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return trigger.Object{}, nil, ctx.Err()
		}
		return trigger.Object{}, nil, fmt.Errorf("fetch message: %w", err)
	}

	log := k.logger.With("partition", msg.Partition, "offset", msg.Offset)

	obj, err := trigger.Parse(ctx, msg.Value)
	if err != nil {
		// Redelivery cannot fix a malformed notification.
		if cerr := k.reader.CommitMessages(context.WithoutCancel(ctx), msg); cerr != nil {
			log.Error("failed to commit discarded message", "error", cerr)
		}
		return trigger.Object{}, nil, err
	}

	ack := func(success bool) {
		if !success {
			log.Warn("message not acknowledged, offset will not be committed", "object", obj.String())
			return
		}
		if err := k.reader.CommitMessages(context.Background(), msg); err != nil {
			log.Error("failed to commit offset", "error", err)
		}
	}

	return obj, ack, nil
}

// Close implements Consumer.
func (k *KafkaConsumer) Close() error {
	k.logger.Info("closing kafka consumer")
	if err := k.reader.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var _ Consumer = (*KafkaConsumer)(nil)
