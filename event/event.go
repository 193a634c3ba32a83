// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event provides a lightweight pub/sub bus for ingestion
// lifecycle events.
package event

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

type SubscriberID int

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// Bus delivers events synchronously to subscribers. Handlers must not
// block; long-running work belongs in the handler's own goroutine.
type Bus struct {
	subscribers map[EventType]map[SubscriberID]HandlerFunc
	lastSubID   SubscriberID
	metrics     *busMetrics
	logger      *slog.Logger
	mu          sync.RWMutex
}

type busMetrics struct {
	eventsPublished *prometheus.CounterVec
}

// NewBus creates an event bus. promRegistry may be nil to disable
// metrics.
func NewBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &Bus{
		subscribers: make(map[EventType]map[SubscriberID]HandlerFunc),
		logger:      logger.With("component", "eventbus"),
	}
	if promRegistry != nil {
		b.metrics = &busMetrics{
			eventsPublished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gridsync_events_published_total",
					Help: "Total events published by type",
				},
				[]string{"type"},
			),
		}
		promRegistry.MustRegister(b.metrics.eventsPublished)
	}
	return b
}

// SubscribeFunc registers a handler for an event type and returns a
// subscriber ID usable with Unsubscribe.
func (b *Bus) SubscribeFunc(
	eventType EventType,
	handler HandlerFunc,
) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSubID++
	id := b.lastSubID
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[SubscriberID]HandlerFunc)
	}
	b.subscribers[eventType][id] = handler
	return id
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[eventType], id)
}

// Publish delivers an event to all subscribers of its type.
func (b *Bus) Publish(eventType EventType, evt Event) {
	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.subscribers[eventType]))
	for _, h := range b.subscribers[eventType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	if b.metrics != nil {
		b.metrics.eventsPublished.
			WithLabelValues(string(eventType)).
			Inc()
	}
	for _, h := range handlers {
		h(evt)
	}
}
