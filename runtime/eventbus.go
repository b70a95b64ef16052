// Copyright 2025 achetronic
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

package runtime

import "sync"

// EventKind identifies the source of an Event flowing through the
// runtime's EventBus: the background process handler's lifecycle
// (spec.md §4.9) and the worker daemon's scheduling lifecycle (§4.10)
// are the two emitters today.
type EventKind string

const (
	EventKindBackground EventKind = "background"
	EventKindWorker      EventKind = "worker"
)

// Event is one notification published to the bus.
type Event struct {
	Kind    EventKind
	Name    string
	Subject string // job id for background events, worker type for worker events
}

// EventBus is an in-process, mutex-guarded pub-sub fan-out, generalizing
// the same sync.Mutex-plus-map bookkeeping style already used by
// breaker.Registry and handoff.Manager — no repo in the corpus ships a
// general in-process pub-sub abstraction (the pack's pub-sub libraries,
// e.g. redis/amqp, address cross-process messaging, a different concern)
// so this follows the repo's own established convention instead.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewEventBus returns a ready-to-use EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving every future published Event, and
// an unsubscribe function that closes it. The channel is buffered so a
// slow subscriber cannot block Publish; events beyond the buffer are
// dropped for that subscriber.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing)
			delete(b.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans Event out to every current subscriber, non-blockingly.
func (b *EventBus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
