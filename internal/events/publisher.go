// Package events publishes map interaction events to Kafka without ever
// blocking the interaction path.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/logger"
)

const (
	TypeMapLoaded   = "map_loaded"
	TypeInteraction = "interaction"
	TypeFilter      = "filter_change"
)

type Event struct {
	Type    string    `json:"type"`
	Session string    `json:"session,omitempty"`
	Mode    string    `json:"mode,omitempty"`
	Lng     float64   `json:"lng,omitempty"`
	Lat     float64   `json:"lat,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	TS      time.Time `json:"ts"`
}

// Sink receives interaction events.
type Sink interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, log), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		logger:  log,
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Session),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEvent("failed")
				p.logger.Warn("events: producer error", "err", err.Err, "topic", p.topic)
			}
		}
	}()

	return p
}

// Publish enqueues ev; when the queue is full the event is dropped.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
		observability.IncEvent("queued")
	default:
		p.dropped.Add(1)
		observability.IncEvent("dropped")
	}
}

// Dropped reports how many events were discarded on a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close drains queued events into the producer and closes it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
