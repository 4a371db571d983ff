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
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/defaults"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/storage"
)

// testBase is "now" for every engine test: a fixed mid-morning instant
// so day-bucket arithmetic stays predictable.
var testBase = time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

func newStatsStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *clockwork.FakeClock) {
	t.Helper()
	store := newStatsStore(t)
	clock := clockwork.NewFakeClockAt(testBase)
	return NewEngine(store, clock), store, clock
}

// seed inserts n ssh events with the given ip at a fixed instant.
func seed(t *testing.T, store *storage.Store, at time.Time, ip string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e := events.New(ip, "ssh", 22, "probe").
			WithCredentials("root", "123456").
			WithGeo("CN", 39.9, 116.4).
			WithRequestSize(10)
		e.Timestamp = at
		_, err := store.InsertEvent(ctx, e)
		require.NoError(t, err)
	}
}

func yesterdayNoon() time.Time {
	bucket := storage.TodayBucket(testBase) - defaults.DayMillis
	return time.UnixMilli(bucket).UTC().Add(12 * time.Hour)
}

func TestValidateHours(t *testing.T) {
	for _, h := range []int64{24, 168, 720, 8760} {
		require.NoError(t, ValidateHours(h))
	}
	for _, h := range []int64{0, -24, 5, 48, 100000} {
		err := ValidateHours(h)
		require.True(t, trace.IsBadParameter(err), "hours=%d", h)
	}
}

func TestStatsRejectsInvalidHours(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Stats(context.Background(), 5)
	require.True(t, trace.IsBadParameter(err))
}

func TestStatsServedFromYesterdayRollup(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, yesterdayNoon(), "203.0.113.5", 10)
	// Today's raw events are invisible to the 24h view once a rollup
	// exists; only the completed day is served.
	seed(t, store, testBase, "198.51.100.1", 5)

	yesterday := storage.TodayBucket(testBase) - defaults.DayMillis
	require.NoError(t, store.AggregateDay(ctx, yesterday))

	out, err := engine.Stats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(10), out.Total)
	require.Len(t, out.Services, 1)
	require.Equal(t, "ssh", out.Services[0].Service)
	require.Equal(t, int64(10), out.Services[0].Count)
	require.Equal(t, float64(100), out.Services[0].Percentage)
	require.Len(t, out.Credentials, 1)
	require.Equal(t, "root", out.Credentials[0].Username)
	require.Equal(t, "123456", out.Credentials[0].Password)

	// Unique IPs always come from the raw table: both addresses fall
	// inside the last 24 hours.
	require.Equal(t, int64(2), out.UniqueIPs)
}

func TestStatsLiveFallbackWithoutRollups(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, testBase.Add(-time.Hour), "203.0.113.5", 3)

	out, err := engine.Stats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)
	require.Equal(t, int64(1), out.UniqueIPs)
	require.Len(t, out.Services, 1)
}

func TestStatsWeekMergesRollups(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	today := storage.TodayBucket(testBase)
	for i := int64(1); i <= 3; i++ {
		bucket := today - i*defaults.DayMillis
		seed(t, store, time.UnixMilli(bucket).UTC().Add(6*time.Hour), "203.0.113.5", int(i))
		require.NoError(t, store.AggregateDay(ctx, bucket))
	}
	// Raw events today are excluded from the rollup-backed week view.
	seed(t, store, testBase, "203.0.113.5", 100)

	out, err := engine.Stats(ctx, 168)
	require.NoError(t, err)
	require.Equal(t, int64(6), out.Total)
	require.Equal(t, int64(6), out.Services[0].Count)
}

func TestStatsCacheExpiresWithClock(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, testBase.Add(-time.Hour), "203.0.113.5", 3)
	out, err := engine.Stats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)

	// New data within the TTL is not visible.
	seed(t, store, testBase.Add(-time.Minute), "203.0.113.5", 2)
	out, err = engine.Stats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)

	clock.Advance(defaults.StatsCacheTTL + time.Second)
	out, err = engine.Stats(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Total)
}

func TestCountriesFromRollups(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, yesterdayNoon(), "203.0.113.5", 4)
	yesterday := storage.TodayBucket(testBase) - defaults.DayMillis
	require.NoError(t, store.AggregateDay(ctx, yesterday))

	out, err := engine.Countries(ctx, 24)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "CN", out[0].CountryCode)
	require.Equal(t, int64(4), out[0].Count)
}

func TestLocationsFromRollups(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, yesterdayNoon(), "203.0.113.5", 2)
	yesterday := storage.TodayBucket(testBase) - defaults.DayMillis
	require.NoError(t, store.AggregateDay(ctx, yesterday))

	out, err := engine.Locations(ctx, 24)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 39.9, out[0].Lat)
	require.Equal(t, 116.4, out[0].Lon)
	require.Equal(t, int64(2), out[0].Count)
}

func TestTopIPsMergeAcrossDays(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	today := storage.TodayBucket(testBase)
	for i := int64(1); i <= 2; i++ {
		bucket := today - i*defaults.DayMillis
		at := time.UnixMilli(bucket).UTC().Add(6 * time.Hour)
		seed(t, store, at, "203.0.113.5", 3)
		seed(t, store, at, "198.51.100.1", 1)
		require.NoError(t, store.AggregateDay(ctx, bucket))
	}

	byRequests, err := engine.TopIPsByRequests(ctx, 168)
	require.NoError(t, err)
	require.Len(t, byRequests, 2)
	require.Equal(t, "203.0.113.5", byRequests[0].IP)
	require.Equal(t, int64(6), byRequests[0].Count)
	require.Equal(t, int64(2), byRequests[1].Count)

	// Every seeded event weighs 10 bytes.
	byBytes, err := engine.TopIPsByBytes(ctx, 168)
	require.NoError(t, err)
	require.Equal(t, int64(60), byBytes[0].Count)
}

func TestTotalBytes(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, yesterdayNoon(), "203.0.113.5", 7)
	yesterday := storage.TodayBucket(testBase) - defaults.DayMillis
	require.NoError(t, store.AggregateDay(ctx, yesterday))

	total, err := engine.TotalBytes(ctx, 24)
	require.NoError(t, err)
	require.Equal(t, int64(70), total)
}

func TestTotalBytesLiveFallback(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	seed(t, store, testBase.Add(-time.Hour), "203.0.113.5", 2)

	total, err := engine.TotalBytes(context.Background(), 24)
	require.NoError(t, err)
	require.Equal(t, int64(20), total)
}

func TestRecent(t *testing.T) {
	engine, store, clock := newTestEngine(t)
	ctx := context.Background()

	seed(t, store, testBase.Add(-time.Minute), "203.0.113.5", 3)
	out, err := engine.Recent(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)
	require.Len(t, out.Events, 3)
	require.NotEmpty(t, out.Credentials)

	// Memoized for RecentCacheTTL.
	seed(t, store, testBase, "203.0.113.5", 1)
	out, err = engine.Recent(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Total)

	clock.Advance(defaults.RecentCacheTTL + time.Second)
	out, err = engine.Recent(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), out.Total)
}

func TestRecentEmptyStore(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	out, err := engine.Recent(context.Background())
	require.NoError(t, err)
	require.Zero(t, out.Total)
	// Empty tables serialize as [], not null.
	require.NotNil(t, out.Events)
	require.NotNil(t, out.Credentials)
}
