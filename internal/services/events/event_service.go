package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/interfaces"
)

const queueSize = 64

// subscriber delivers events to one handler in publish order
type subscriber struct {
	handler interfaces.EventHandler
	queue   chan delivery
}

type delivery struct {
	ctx   context.Context
	event interfaces.Event
}

// Service implements EventService. Publish is asynchronous but preserves
// order per subscriber; PublishSync runs handlers on the caller's goroutine.
type Service struct {
	subscribers map[interfaces.EventType][]*subscriber
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closed      bool
	logger      arbor.ILogger
}

var _ interfaces.EventService = (*Service)(nil)

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("event service closed")
	}

	sub := &subscriber{handler: handler, queue: make(chan delivery, queueSize)}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.wg.Add(1)
	common.SafeGo(s.logger, "event-subscriber-"+string(eventType), func() {
		defer s.wg.Done()
		for d := range sub.queue {
			s.invoke(d.ctx, sub.handler, d.event)
		}
	})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) invoke(ctx context.Context, handler interfaces.EventHandler, event interfaces.Event) error {
	if err := handler(ctx, event); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
		return err
	}
	return nil
}

// Publish queues an event for every subscriber. A subscriber whose queue
// is full misses the event rather than blocking the publisher.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	subs := s.subscribers[event.Type]
	if len(subs) == 0 {
		s.logger.Trace().
			Str("event_type", string(event.Type)).
			Msg("No subscribers for event")
		return nil
	}

	detached := context.WithoutCancel(ctx)
	for _, sub := range subs {
		select {
		case sub.queue <- delivery{ctx: detached, event: event}:
		default:
			s.logger.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event subscriber queue full, event dropped")
		}
	}
	return nil
}

// PublishSync runs every handler for the event and waits for them
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := append([]*subscriber(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	var failed int
	for _, sub := range subs {
		if err := s.invoke(ctx, sub.handler, event); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("event handlers failed: %d errors", failed)
	}
	return nil
}

// Close stops delivery and waits for queued events to drain
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscriber)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Event service closed")
	return nil
}
