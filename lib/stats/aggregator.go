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

package stats

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/storage"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
)

var aggLogger = logutils.NewPackageLogger(hivepot.ComponentKey, hivepot.ComponentAggregator)

// Aggregator materializes completed days into the rollup table: a
// backfill pass at boot, then an hourly re-attempt of yesterday. Both
// paths ride on AggregateDay's idempotence, so the steady-state cost of
// a tick is a single existence check.
type Aggregator struct {
	store *storage.Store
	clock clockwork.Clock
}

// NewAggregator builds an aggregator on the given store.
func NewAggregator(store *storage.Store, clock clockwork.Clock) *Aggregator {
	return &Aggregator{store: store, clock: clock}
}

// Run blocks until ctx is canceled. Intended to run on its own goroutine.
func (a *Aggregator) Run(ctx context.Context) {
	a.Backfill(ctx)

	ticker := a.clock.NewTicker(defaults.AggregatorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.AggregateYesterday(ctx)
		}
	}
}

// Backfill rolls up every completed day that has raw events but no
// stats_daily row, oldest first.
func (a *Aggregator) Backfill(ctx context.Context) {
	today := storage.TodayBucket(a.clock.Now())
	days, err := a.store.DaysNeedingRollup(ctx, today)
	if err != nil {
		aggLogger.Error("cannot list days needing rollup", "error", err)
		return
	}
	if len(days) == 0 {
		aggLogger.Info("rollup backfill: nothing to do")
		return
	}
	aggLogger.Info("rollup backfill starting", "days", len(days))
	for _, bucket := range days {
		if ctx.Err() != nil {
			return
		}
		if err := a.store.AggregateDay(ctx, bucket); err != nil {
			aggLogger.Error("backfill failed for day", "bucket", bucket, "error", err)
			continue
		}
		aggLogger.Debug("day rolled up", "bucket", bucket)
	}
	aggLogger.Info("rollup backfill done", "days", len(days))
}

// AggregateYesterday rolls up the most recent completed day.
func (a *Aggregator) AggregateYesterday(ctx context.Context) {
	bucket := storage.TodayBucket(a.clock.Now()) - defaults.DayMillis
	if err := a.store.AggregateDay(ctx, bucket); err != nil {
		aggLogger.Error("aggregating yesterday failed", "bucket", bucket, "error", err)
	}
}
