package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler processes one message. Returning nil acks; returning a
// plain error nacks for redelivery, up to the consumer's MaxDeliver —
// beyond that the message is terminated (spec.md §7's poison-message
// handling), never redelivered forever. Returning an error wrapped with
// Poison terminates immediately, on the first delivery, for failure
// classes spec.md §7 says are never worth retrying (malformed message
// data, an embedding model that rejects the crop outright).
type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// poisonError marks a handler error as never worth redelivering.
type poisonError struct{ err error }

func (p *poisonError) Error() string { return p.err.Error() }
func (p *poisonError) Unwrap() error { return p.err }

// Poison wraps err so the consume loop terminates the message on its
// first delivery instead of nacking it for retry (spec.md §7's
// message-data-error / algorithmic-no-op classes, e.g. malformed JSON
// or a crop the embedder can never process).
func Poison(err error) error {
	return &poisonError{err: err}
}

// prefetch and maxDeliver realize spec.md §5's "reference: 10" prefetch
// bound and the bounded-redelivery poison policy.
const (
	prefetch   = 10
	maxDeliver = 3
	ackWait    = 30 * time.Second
)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// consume is the shared fetch/dispatch loop for all three pipeline
// streams: bounded prefetch, worker-pool dispatch, guaranteed ack/nack/
// term on every message (spec.md §7/§9 — no handler exits without
// resolving the message).
func (c *Consumer) consume(ctx context.Context, streamName, subject, consumerName string, handler MessageHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		FilterSubject: subject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	if workerCount <= 0 {
		workerCount = 1
	}
	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		for {
			select {
			case <-ctx.Done():
				close(msgCh)
				return
			default:
			}

			batch, err := cons.Fetch(prefetch, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					close(msgCh)
					return
				}
				slog.Warn("fetch error", "stream", streamName, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					close(msgCh)
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				var err error
				func() {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("handler panic: %v", r)
						}
					}()
					err = handler(ctx, msg)
				}()
				resolve(msg, err, streamName, workerID)
			}
		}(i)
	}

	slog.Info("consumer started", "stream", streamName, "consumer", consumerName, "workers", workerCount)
	return nil
}

// ackResolver is the slice of jetstream.Msg that resolve needs — narrow
// enough to fake in tests without a real JetStream connection.
type ackResolver interface {
	Ack() error
	Nak() error
	Term() error
	Metadata() (*jetstream.MsgMetadata, error)
}

// resolve converts a handler result into an ack/nack/term decision. A
// message wrapped with Poison is terminated immediately — it will never
// succeed on retry. Otherwise a message that has exhausted MaxDeliver is
// terminated rather than nacked again, so a permanently-failing message
// does not loop forever (spec.md §7's "message-data error" / poison-
// message resolution).
func resolve(msg ackResolver, err error, streamName string, workerID int) {
	if err == nil {
		_ = msg.Ack()
		return
	}

	var poison *poisonError
	if errors.As(err, &poison) {
		slog.Error("poison message, terminating", "stream", streamName, "worker", workerID, "error", err)
		_ = msg.Term()
		return
	}

	meta, metaErr := msg.Metadata()
	if metaErr == nil && meta.NumDelivered >= maxDeliver {
		slog.Error("poison message, terminating", "stream", streamName, "worker", workerID, "error", err, "deliveries", meta.NumDelivered)
		_ = msg.Term()
		return
	}

	slog.Error("process message error, will retry", "stream", streamName, "worker", workerID, "error", err)
	_ = msg.Nak()
}

// ConsumeFrames starts consuming captured frames for detection.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	return c.consume(ctx, FramesStreamName, FramesSubject, consumerName, handler, workerCount)
}

// ConsumeDetections starts consuming detected face crops for recognition.
func (c *Consumer) ConsumeDetections(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	return c.consume(ctx, DetectionsStreamName, DetectionsSubject, consumerName, handler, workerCount)
}

// ConsumeRecognitions starts consuming resolved faces for persistence.
func (c *Consumer) ConsumeRecognitions(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	return c.consume(ctx, RecognitionsStreamName, RecognitionsSubject, consumerName, handler, workerCount)
}

func (c *Consumer) Close() {
	c.nc.Close()
}
