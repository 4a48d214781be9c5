package engine

import (
	"log"
	"sync"
)

// EventKind is the directory change verb.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventRemoved EventKind = "removed"
	EventUpdated EventKind = "updated"
)

// EntityKind identifies what a directory event is about.
type EntityKind string

const (
	EntityUser  EntityKind = "user"
	EntityArea  EntityKind = "area"
	EntityLabel EntityKind = "label"
	EntityPanel EntityKind = "panel"
)

// Event is a directory change notification from the host environment.
// ID is the host-local id (no resource-type prefix). Name and IsAdmin are
// optional depending on kind.
type Event struct {
	Kind       EventKind  `json:"kind"`
	EntityKind EntityKind `json:"entity_kind"`
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	IsAdmin    *bool      `json:"is_admin,omitempty"`
}

// EventHandler processes one event. Errors are logged by the queue; a
// failing handler never stops the dispatch loop.
type EventHandler func(Event) error

// Queue dispatches events to subscribers on a single worker goroutine, so
// handlers never race each other. Subscribe returns a cancellation handle;
// on shutdown every subscription is deregistered before the queue closes.
type Queue struct {
	mu       sync.Mutex
	handlers map[int]EventHandler
	nextID   int
	events   chan Event
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewQueue(buffer int) *Queue {
	q := &Queue{
		handlers: make(map[int]EventHandler),
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Subscribe registers a handler and returns its cancellation func.
func (q *Queue) Subscribe(h EventHandler) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.handlers[id] = h
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.handlers, id)
		q.mu.Unlock()
	}
}

// Publish enqueues an event. Blocks if the buffer is full rather than
// dropping; the host retries on transport errors, not on silence.
func (q *Queue) Publish(ev Event) {
	select {
	case <-q.done:
	case q.events <- ev:
	}
}

// Close stops the worker after draining already-queued events.
func (q *Queue) Close() {
	close(q.done)
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			// Drain what is already queued so a clean shutdown does not
			// drop accepted events.
			for {
				select {
				case ev := <-q.events:
					q.dispatch(ev)
				default:
					return
				}
			}
		case ev := <-q.events:
			q.dispatch(ev)
		}
	}
}

func (q *Queue) dispatch(ev Event) {
	q.mu.Lock()
	handlers := make([]EventHandler, 0, len(q.handlers))
	for _, h := range q.handlers {
		handlers = append(handlers, h)
	}
	q.mu.Unlock()

	for _, h := range handlers {
		if err := h(ev); err != nil {
			log.Printf("ERROR: handling %s %s event for %s: %v", ev.Kind, ev.EntityKind, ev.ID, err)
		}
	}
}
