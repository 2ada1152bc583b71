// Package ingest feeds readings published on MQTT into the reading store.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/infrastructure/mqtt"
	"github.com/nerrad567/influx-north/internal/reading"
)

// appendTimeout bounds the store write for a single message.
const appendTimeout = 5 * time.Second

// Subscriber is the part of the MQTT client used by the service.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Appender stores decoded readings.
type Appender interface {
	Append(ctx context.Context, readings []*reading.Reading) ([]int64, error)
}

// Stats holds message counters.
type Stats struct {
	Messages uint64 `json:"messages"`
	Rejected uint64 `json:"rejected"`
	Readings uint64 `json:"readings"`
}

// Service subscribes to a topic filter and appends every decoded reading
// to the store.
type Service struct {
	topic  string
	qos    byte
	sub    Subscriber
	store  Appender
	logger *logging.Logger
	now    func() time.Time

	mu  sync.RWMutex
	ctx context.Context

	messages atomic.Uint64
	rejected atomic.Uint64
	readings atomic.Uint64
}

// New creates an ingest service for topic.
func New(topic string, qos byte, sub Subscriber, store Appender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		topic:  topic,
		qos:    qos,
		sub:    sub,
		store:  store,
		logger: logger.With("component", "ingest"),
		now:    time.Now,
	}
}

// Start subscribes to the topic. Messages are stored until ctx is cancelled
// or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.sub.Subscribe(s.topic, s.qos, s.HandleMessage); err != nil {
		s.mu.Lock()
		s.ctx = nil
		s.mu.Unlock()
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.logger.Info("ingest started", "topic", s.topic, "qos", s.qos)
	return nil
}

// Stop unsubscribes. Messages arriving afterwards are rejected.
func (s *Service) Stop() error {
	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(s.topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", s.topic, err)
	}
	return nil
}

// HandleMessage decodes payload and appends the readings. A reading with no
// asset is named after the last topic level; one with no timestamp is
// stamped with the receive time.
func (s *Service) HandleMessage(topic string, payload []byte) error {
	s.messages.Add(1)

	s.mu.RLock()
	parent := s.ctx
	s.mu.RUnlock()
	if parent == nil {
		s.rejected.Add(1)
		return ErrNotStarted
	}

	readings, err := reading.Decode(payload)
	if err != nil {
		s.rejected.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	received := s.now().UTC()
	fallbackAsset := mqtt.LastSegment(topic)
	for i, r := range readings {
		if r == nil {
			s.rejected.Add(1)
			return fmt.Errorf("%w: entry %d is null", ErrInvalidPayload, i)
		}
		if r.Asset == "" {
			r.Asset = fallbackAsset
		}
		if err := r.Validate(); err != nil {
			s.rejected.Add(1)
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidPayload, i, err)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = received
		}
	}

	ctx, cancel := context.WithTimeout(parent, appendTimeout)
	defer cancel()

	if _, err := s.store.Append(ctx, readings); err != nil {
		return fmt.Errorf("storing readings from %s: %w", topic, err)
	}
	s.readings.Add(uint64(len(readings)))

	s.logger.Debug("readings stored", "topic", topic, "count", len(readings))
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Messages: s.messages.Load(),
		Rejected: s.rejected.Load(),
		Readings: s.readings.Load(),
	}
}
