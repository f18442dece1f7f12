package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Outbox hands out unpublished events in id order. fn runs inside the store's
// transaction; the batch is marked published only if fn returns nil.
type Outbox interface {
	DrainOutbox(ctx context.Context, limit int, fn func(ctx context.Context, batch []Event) error) (int, error)
}

// Writer is the subset of *kafka.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type Relay struct {
	outbox    Outbox
	writer    Writer
	logger    *slog.Logger
	batchSize int
}

func NewRelay(outbox Outbox, writer Writer, logger *slog.Logger, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		outbox:    outbox,
		writer:    writer,
		logger:    logger,
		batchSize: batchSize,
	}
}

// RunOnce publishes at most one batch and returns how many events went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.outbox.DrainOutbox(ctx, r.batchSize, func(ctx context.Context, batch []Event) error {
		msgs := make([]kafka.Message, 0, len(batch))
		for _, ev := range batch {
			msgs = append(msgs, toMessage(ev))
		}
		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write kafka messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.logger.Error("outbox relay run failed", "err", err)
		return
	}
	if n > 0 {
		r.logger.Info("outbox relay published", "events", n, "duration", time.Since(start))
	}
}

func toMessage(ev Event) kafka.Message {
	return kafka.Message{
		Topic: ev.EventType,
		Key:   []byte(ev.AggregateID.String()),
		Value: ev.Payload,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(strconv.FormatInt(ev.ID, 10))},
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}
}
