package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Three durable work-queue streams couple CW→DW→RW→PW, mirroring
// spec.md §2/§6's three named queues. Each is WorkQueuePolicy (a message
// is removed once acked by the sole consumer group working it) rather
// than the teacher's InterestPolicy EVENTS stream, because spec.md's
// queues are work queues, not fan-out topics.
const (
	FramesStreamName  = "FRAMES"
	FramesSubject     = "frames.in"
	DetectionsStreamName = "DETECTIONS"
	DetectionsSubject = "detections.in"
	RecognitionsStreamName = "RECOGNITIONS"
	RecognitionsSubject = "recognitions.in"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
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

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the JetStream streams if they don't exist.
// Makes up to 30 attempts (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        FramesStreamName,
			Subjects:    []string{FramesSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      10 * time.Minute,
			MaxMsgs:     200000,
			MaxBytes:    2 * 1024 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Captured frames awaiting detection",
		},
		{
			Name:        DetectionsStreamName,
			Subjects:    []string{DetectionsSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      10 * time.Minute,
			MaxMsgs:     500000,
			MaxBytes:    2 * 1024 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Detected face crops awaiting recognition",
		},
		{
			Name:        RecognitionsStreamName,
			Subjects:    []string{RecognitionsSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      10 * time.Minute,
			MaxMsgs:     500000,
			MaxBytes:    1 * 1024 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Resolved faces awaiting persistence",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// PublishFrame publishes a captured frame to the frames queue.
func (p *Producer) PublishFrame(ctx context.Context, msg interface{}) error {
	return p.publish(ctx, FramesSubject, msg)
}

// PublishDetection publishes one detected face crop to the detections queue.
func (p *Producer) PublishDetection(ctx context.Context, msg interface{}) error {
	return p.publish(ctx, DetectionsSubject, msg)
}

// PublishRecognition publishes one resolved face to the recognitions queue.
func (p *Producer) PublishRecognition(ctx context.Context, msg interface{}) error {
	return p.publish(ctx, RecognitionsSubject, msg)
}

// QueueDepth returns the number of pending messages across all three
// pipeline streams, keyed by stream name, for metrics reporting.
func (p *Producer) QueueDepth(ctx context.Context) (map[string]uint64, error) {
	depths := make(map[string]uint64, 3)
	for _, name := range []string{FramesStreamName, DetectionsStreamName, RecognitionsStreamName} {
		stream, err := p.js.Stream(ctx, name)
		if err != nil {
			return nil, err
		}
		info, err := stream.Info(ctx)
		if err != nil {
			return nil, err
		}
		depths[name] = info.State.Msgs
	}
	return depths, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
