package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/chandlergims/shillster/pkg/log"
)

const pollTimeoutMs = 100

// Config configures the follows CDC consumer.
type Config struct {
	Brokers string
	Topic   string
	GroupID string
	// OffsetReset is where a new group starts reading. Defaults to latest:
	// the cache only needs changes from now on.
	OffsetReset string
}

// ConfluentConsumer feeds Debezium change events on the follows table to a
// CDCEventHandler.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  CDCEventHandler

	started   bool
	doneCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConfluentConsumer creates the Kafka consumer. It does not subscribe
// until Start.
func NewConfluentConsumer(cfg Config, handler CDCEventHandler) (*ConfluentConsumer, error) {
	reset := cfg.OffsetReset
	if reset == "" {
		reset = "latest"
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  reset,
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    cfg.Topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start subscribes to the topic and polls it until ctx is cancelled.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	cc.started = true
	go cc.poll(ctx)

	l := pkglog.L()
	l.Info().Str("topic", cc.topic).Msg("kafka CDC consumer started")
	return nil
}

func (cc *ConfluentConsumer) poll(ctx context.Context) {
	l := pkglog.L().With().Str("topic", cc.topic).Logger()
	defer close(cc.doneCh)

	// Handlers run to completion even when shutdown starts mid-message.
	handleCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		switch ev := cc.consumer.Poll(pollTimeoutMs).(type) {
		case nil:
		case *kafka.Message:
			cc.handle(handleCtx, ev.Value)
		case kafka.Error:
			if ev.IsFatal() {
				l.Error().Err(ev).Msg("kafka CDC consumer fatal error, stopping")
				return
			}
			l.Warn().Err(ev).Msg("kafka CDC consumer error")
		default:
			l.Debug().Str("event", ev.String()).Msg("ignoring kafka event")
		}
	}
	l.Info().Msg("kafka CDC consumer shutting down")
}

// handle decodes one message value and passes it to the handler. Bad
// messages are logged and skipped so one poison record cannot stall the
// partition.
func (cc *ConfluentConsumer) handle(ctx context.Context, value []byte) {
	l := pkglog.L()

	event, err := Decode(value)
	if errors.Is(err, ErrTombstone) {
		return
	}
	if err != nil {
		l.Error().Err(err).Msg("skipping undecodable CDC message")
		return
	}

	op := event.Payload.Op
	l.Debug().Str("op", op).Int64("ts_ms", event.Payload.TsMs).Msg("received CDC event")

	if err := cc.handler.HandleCDCEvent(ctx, event); err != nil {
		l.Error().Err(err).Str("op", op).Msg("failed to handle CDC event")
	}
}

// Close waits for the poll loop to finish, then closes the Kafka consumer.
// The context passed to Start must be cancelled first. Close is safe to call
// when Start was never called or failed.
func (cc *ConfluentConsumer) Close() error {
	cc.closeOnce.Do(func() {
		if cc.started {
			<-cc.doneCh
		}
		if err := cc.consumer.Close(); err != nil {
			cc.closeErr = fmt.Errorf("failed to close kafka consumer: %w", err)
		}
	})
	return cc.closeErr
}

// Ensure interface is satisfied at compile time.
var _ CDCEventConsumer = (*ConfluentConsumer)(nil)
