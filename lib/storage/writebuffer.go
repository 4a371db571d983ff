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

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
)

// WriteBuffer decouples event producers from the store: handlers enqueue
// without ever blocking, a single consumer goroutine drains batches into
// one transaction each. A failed flush drops the batch; honeypot data is
// statistical and a retry would double-insert on partial failures.
//
// The queue is unbounded by design: in steady state it drains faster
// than producers fill it, and a long store outage trades memory for not
// losing ingestion ordering.
type WriteBuffer struct {
	store *Store

	mu      sync.Mutex
	pending []*events.Event
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewWriteBuffer starts the consumer goroutine.
func NewWriteBuffer(store *Store) *WriteBuffer {
	w := &WriteBuffer{
		store: store,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.run()
	logger.Info("write buffer started",
		"batch_size", defaults.WriteBufferBatchSize,
		"flush_interval", defaults.WriteBufferFlushInterval)
	return w
}

// Enqueue queues one event for persistence. It never blocks. Events
// enqueued after Close are dropped.
func (w *WriteBuffer) Enqueue(e *events.Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, e)
	full := len(w.pending) >= defaults.WriteBufferBatchSize
	w.mu.Unlock()

	if full {
		w.signal()
	}
}

func (w *WriteBuffer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close stops intake, flushes whatever is queued and waits for the
// consumer to exit.
func (w *WriteBuffer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.signal()
	<-w.done
}

func (w *WriteBuffer) run() {
	defer close(w.done)

	ticker := time.NewTicker(defaults.WriteBufferFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.wake:
		case <-ticker.C:
		}

		w.flush()

		w.mu.Lock()
		closed := w.closed
		remaining := len(w.pending)
		w.mu.Unlock()
		if closed && remaining == 0 {
			logger.Info("write buffer shutting down")
			return
		}
	}
}

// flush writes the queued events in batches of WriteBufferBatchSize.
func (w *WriteBuffer) flush() {
	for {
		w.mu.Lock()
		n := len(w.pending)
		if n == 0 {
			w.mu.Unlock()
			return
		}
		if n > defaults.WriteBufferBatchSize {
			n = defaults.WriteBufferBatchSize
		}
		batch := w.pending[:n:n]
		w.pending = w.pending[n:]
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), defaults.StorageBusyTimeout)
		err := w.store.BatchInsertEvents(ctx, batch)
		cancel()
		if err != nil {
			// The batch is lost. Acceptable for honeypot data.
			logger.Error("failed to flush events", "count", len(batch), "error", err)
		} else {
			logger.Debug("flushed events", "count", len(batch))
		}
	}
}
