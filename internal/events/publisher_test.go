package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
)

func TestPublisher_SendsJSONToTopic(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != TypeInteraction || ev.Lng != 153.5 || ev.Lat != -28.1 {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		if ev.TS.IsZero() {
			return fmt.Errorf("timestamp not set")
		}
		return nil
	})

	p := newWithProducer(prod, "heatmap-interactions", 4, nil)
	p.Publish(Event{Type: TypeInteraction, Lng: 153.5, Lat: -28.1, Session: "s1"})

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	// no pump goroutine: the queue never drains
	p := &Publisher{events: make(chan Event, 1)}

	done := make(chan struct{})
	go func() {
		p.Publish(Event{Type: TypeInteraction})
		p.Publish(Event{Type: TypeInteraction})
		p.Publish(Event{Type: TypeInteraction})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	if got := p.Dropped(); got != 2 {
		t.Fatalf("dropped=%d want 2", got)
	}
}

func TestPublisher_PublishAfterCloseIsIgnored(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	p := newWithProducer(prod, "t", 4, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Publish(Event{Type: TypeFilter})
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Publish(Event{Type: TypeMapLoaded})
}
