/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package events

import (
	"sync"
	"sync/atomic"

	"github.com/hivepot/hivepot/lib/defaults"
)

// Bus broadcasts new events to all live subscribers. Publish never
// blocks: a subscriber that falls behind loses its oldest buffered
// events and can observe how many via Lagged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
}

// Subscription is one subscriber's bounded view of the bus. Created per
// SSE connection and closed on disconnect.
type Subscription struct {
	// C delivers events in publish order.
	C <-chan *Event

	id     int64
	ch     chan *Event
	bus    *Bus
	lagged atomic.Int64
	once   sync.Once
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int64]*Subscription)}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		ch:  make(chan *Event, defaults.EventBusCapacity),
		bus: b,
	}
	sub.C = sub.ch
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers e to every subscriber, dropping each subscriber's
// oldest buffered event on overflow.
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- e:
			default:
				// Full buffer: evict the oldest and retry.
				select {
				case <-sub.ch:
					sub.lagged.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes the subscription from the bus. Safe to call more than
// once; the events channel is drained by garbage collection, not closed,
// so a racing Publish never panics.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs, s.id)
	})
}

// Lagged reports how many events this subscriber has lost to overflow.
func (s *Subscription) Lagged() int64 {
	return s.lagged.Load()
}
