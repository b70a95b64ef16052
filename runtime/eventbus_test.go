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

import "testing"

func TestEventBus_PublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(Event{Kind: EventKindWorker, Name: "worker:started", Subject: "codebase-map"})

	got1 := <-ch1
	got2 := <-ch2
	if got1 != got2 {
		t.Fatalf("expected both subscribers to see the same event, got %+v and %+v", got1, got2)
	}
	if got1.Subject != "codebase-map" {
		t.Fatalf("unexpected subject: %q", got1.Subject)
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe()
	unsub()

	bus.Publish(Event{Kind: EventKindBackground, Name: "started", Subject: "job-1"})

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}

func TestEventBus_PublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	bus := NewEventBus()
	_, unsub := bus.Subscribe()
	defer unsub()

	for i := 0; i < 200; i++ {
		bus.Publish(Event{Kind: EventKindWorker, Name: "worker:completed", Subject: "benchmark"})
	}
}

func TestEventBus_PublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(Event{Kind: EventKindWorker, Name: "worker:deferred", Subject: "test-gaps"})
}
