// Package kafka mirrors persisted audit entries to a Kafka topic for
// downstream compliance tooling. Mirroring is best-effort: the database row
// is the record of truth.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "caregov/pkg/platform/audit"
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("audit mirror circuit open")

// Producer is the subset of *kgo.Client used by the publisher.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher implements audit.Sink.
type Publisher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	breaker  *circuitBreaker
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithCircuitBreaker overrides the failure threshold and cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.breaker = newCircuitBreaker(threshold, cooldown)
	}
}

// WithTimeout bounds each produce call.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func New(producer Producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		timeout:  2 * time.Second,
		breaker:  newCircuitBreaker(5, time.Minute),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewClient builds a franz-go client for the audit topic.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Publish writes entry keyed by entity so one entity's history stays ordered
// within a partition.
func (p *Publisher) Publish(ctx context.Context, entry audit.Entry) error {
	if !p.breaker.Allow() {
		if p.metrics != nil {
			p.metrics.CircuitDropped.Inc()
		}
		return ErrCircuitOpen
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.EntityType + "/" + entry.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "sensitivity", Value: []byte(entry.Sensitivity)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		p.observeState()
		if p.metrics != nil {
			p.metrics.Failures.Inc()
		}
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit mirror publish failed",
				"entry_id", entry.ID,
				"entity_type", entry.EntityType,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit entry: %w", err)
	}

	p.breaker.RecordSuccess()
	p.observeState()
	if p.metrics != nil {
		p.metrics.Published.Inc()
	}
	return nil
}

func (p *Publisher) observeState() {
	if p.metrics == nil {
		return
	}
	if p.breaker.IsOpen() {
		p.metrics.CircuitBreakerState.Set(1)
	} else {
		p.metrics.CircuitBreakerState.Set(0)
	}
}
