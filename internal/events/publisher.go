// Package events publishes canonicalization run lifecycle events to Kafka so
// downstream consumers can track corpus state changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/scholium/corpus-service/internal/canonical"
)

const (
	// EventRunCompleted is emitted after a run's snapshot is promoted.
	EventRunCompleted = "canonicalization.run.completed"
	// EventRunFailed is emitted when a run aborts, including gate failures.
	EventRunFailed = "canonicalization.run.failed"
)

// RunEvent is the wire shape of a run lifecycle event.
type RunEvent struct {
	EventType string                `json:"event_type"`
	EmittedAt time.Time             `json:"emitted_at"`
	Error     string                `json:"error,omitempty"`
	Summary   *canonical.RunSummary `json:"summary,omitempty"`
}

// Config holds publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish call.
	WriteTimeout time.Duration
}

// messageWriter is the subset of kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes run events to a Kafka topic. Publishing is best effort:
// a failed write is logged and never fails the run that produced it.
type Publisher struct {
	writer       messageWriter
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewPublisher creates a publisher over a kafka.Writer for the configured topic.
func NewPublisher(cfg Config, logger zerolog.Logger) *Publisher {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
	}
	return &Publisher{
		writer:       writer,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "run_events").Logger(),
	}
}

// RunCompleted publishes a completion event for a promoted run.
func (p *Publisher) RunCompleted(ctx context.Context, summary canonical.RunSummary) {
	p.publish(ctx, RunEvent{
		EventType: EventRunCompleted,
		EmittedAt: time.Now().UTC(),
		Summary:   &summary,
	}, summary.RunID.String())
}

// RunFailed publishes a failure event. The summary may carry partial counts,
// such as the gate report of a run discarded below the quality floors.
func (p *Publisher) RunFailed(ctx context.Context, summary canonical.RunSummary, runErr error) {
	event := RunEvent{
		EventType: EventRunFailed,
		EmittedAt: time.Now().UTC(),
		Summary:   &summary,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	p.publish(ctx, event, summary.RunID.String())
}

func (p *Publisher) publish(ctx context.Context, event RunEvent, key string) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to marshal run event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("run_id", key).
			Msg("failed to publish run event")
		return
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("run_id", key).
		Msg("published run event")
}

// Close closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}
