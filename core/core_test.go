package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/core/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func event(skill core.SkillID, user core.UserID, when time.Time, points int) core.SkillEvent {
	return core.SkillEvent{
		ProjectID:     "p1",
		SkillID:       skill,
		UserID:        user,
		OccurredAt:    when,
		PointsAwarded: points,
	}
}

func key(skill core.SkillID, user core.UserID) core.ProgressKey {
	return core.ProgressKey{ProjectID: "p1", SkillID: skill, UserID: user}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_BalanceAt(t *testing.T) {
	// GIVEN: Events for alice on two skills, with different frozen points
	// WHEN: The balance is read with and without an upper bound
	// THEN: Only events up to and including the bound count
	ctx := context.Background()
	mem := store.NewMemory()
	for _, e := range []core.SkillEvent{
		event("run", "alice", at(2025, time.March, 1, 9), 10),
		event("run", "alice", at(2025, time.March, 2, 9), 20),
		event("swim", "alice", at(2025, time.March, 3, 9), 5),
		event("run", "bob", at(2025, time.March, 1, 9), 10),
	} {
		require.NoError(t, mem.AppendEvent(ctx, e))
	}
	ledger := core.NewLedger(mem)

	total, err := ledger.Balance(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 35, total.IntPart())

	upTo, err := ledger.BalanceAt(ctx, "p1", "alice", at(2025, time.March, 2, 9))
	require.NoError(t, err)
	assert.Equal(t, 30, upTo.IntPart(), "bound is inclusive")

	none, err := ledger.BalanceAt(ctx, "p1", "alice", at(2025, time.February, 1, 0))
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	other, err := ledger.Balance(ctx, "p2", "alice")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestReplay_FoldsByKeyInTimeOrder(t *testing.T) {
	events := []core.SkillEvent{
		event("run", "alice", at(2025, time.March, 3, 9), 20),
		event("run", "alice", at(2025, time.March, 1, 9), 10),
		event("run", "bob", at(2025, time.March, 2, 9), 10),
	}

	got := core.Replay(events)

	require.Len(t, got, 2)
	alice := got[key("run", "alice")]
	assert.Equal(t, 2, alice.EventCount)
	assert.Equal(t, 30, alice.PointsEarned)
	assert.Equal(t, at(2025, time.March, 3, 9), alice.LastEventAt)
	assert.False(t, alice.IsCompleted, "completion is decided by the caller")
	assert.Equal(t, 1, got[key("run", "bob")].EventCount)

	// input is not reordered
	assert.Equal(t, at(2025, time.March, 3, 9), events[0].OccurredAt)
}

func TestDrift(t *testing.T) {
	replayed := core.Replay([]core.SkillEvent{
		event("run", "alice", at(2025, time.March, 1, 9), 10),
		event("run", "bob", at(2025, time.March, 1, 9), 10),
		event("swim", "carol", at(2025, time.March, 1, 9), 10),
	})

	tests := map[string]struct {
		stored []core.Progress
		want   []core.ProgressKey
	}{
		"in sync": {
			stored: []core.Progress{
				{ProjectID: "p1", SkillID: "run", UserID: "alice", EventCount: 1, PointsEarned: 10},
				{ProjectID: "p1", SkillID: "run", UserID: "bob", EventCount: 1, PointsEarned: 10},
				{ProjectID: "p1", SkillID: "swim", UserID: "carol", EventCount: 1, PointsEarned: 10},
			},
			want: nil,
		},
		"wrong points and missing row": {
			stored: []core.Progress{
				{ProjectID: "p1", SkillID: "run", UserID: "alice", EventCount: 1, PointsEarned: 99},
				{ProjectID: "p1", SkillID: "run", UserID: "bob", EventCount: 1, PointsEarned: 10},
			},
			want: []core.ProgressKey{key("run", "alice"), key("swim", "carol")},
		},
		"stored row with no events behind it": {
			stored: []core.Progress{
				{ProjectID: "p1", SkillID: "run", UserID: "alice", EventCount: 1, PointsEarned: 10},
				{ProjectID: "p1", SkillID: "run", UserID: "bob", EventCount: 1, PointsEarned: 10},
				{ProjectID: "p1", SkillID: "swim", UserID: "carol", EventCount: 1, PointsEarned: 10},
				{ProjectID: "p1", SkillID: "run", UserID: "ghost", EventCount: 2, PointsEarned: 20},
			},
			want: []core.ProgressKey{key("run", "ghost")},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, core.Drift(tc.stored, replayed))
		})
	}
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	// GIVEN: Many goroutines locking the same key
	// WHEN: Each does a read-modify-write under the lock
	// THEN: No update is lost and the entry is dropped afterwards
	km := core.NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("progress:p1/run/alice")
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.Held())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := core.NewKeyedMutex()

	unlockA := km.Lock("a")
	assert.Equal(t, 1, km.Held())

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		acquired.Store(true)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.True(t, acquired.Load())
	assert.Equal(t, 1, km.Held())

	unlockA()
	assert.Equal(t, 0, km.Held())
}

func TestKeyedMutex_WaiterKeepsEntryAlive(t *testing.T) {
	km := core.NewKeyedMutex()
	unlock := km.Lock("a")

	got := make(chan func())
	go func() { got <- km.Lock("a") }()

	time.Sleep(20 * time.Millisecond)
	unlock()
	second := <-got
	// the waiter held a reference, so the entry survived the first unlock
	assert.Equal(t, 1, km.Held())
	second()
	assert.Equal(t, 0, km.Held())
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "project:p1", core.ProjectLockKey("p1"))
	assert.Equal(t, "progress:p1/run/foo/bar", core.ProgressLockKey(key("run", "foo/bar")))
}

// =============================================================================
// WINDOW
// =============================================================================

func TestParseWindow(t *testing.T) {
	for in, want := range map[string]core.Window{
		"":        core.WindowNone,
		"none":    core.WindowNone,
		"Day":     core.WindowDay,
		" weekly": core.WindowWeek,
		"MONTH":   core.WindowMonth,
	} {
		got, err := core.ParseWindow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := core.ParseWindow("fortnight")
	assert.Error(t, err)
}

func TestWindow_Bounds(t *testing.T) {
	tests := map[string]struct {
		window    core.Window
		t         time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		"day": {
			window:    core.WindowDay,
			t:         time.Date(2025, time.October, 15, 23, 59, 0, 0, time.UTC),
			wantStart: at(2025, time.October, 15, 0),
			wantEnd:   at(2025, time.October, 16, 0),
		},
		"week starts on Monday": {
			window:    core.WindowWeek,
			t:         at(2025, time.October, 15, 12), // Wednesday
			wantStart: at(2025, time.October, 13, 0),
			wantEnd:   at(2025, time.October, 20, 0),
		},
		"Sunday belongs to the previous Monday": {
			window:    core.WindowWeek,
			t:         time.Date(2025, time.October, 19, 23, 30, 0, 0, time.UTC),
			wantStart: at(2025, time.October, 13, 0),
			wantEnd:   at(2025, time.October, 20, 0),
		},
		"Monday starts its own week": {
			window:    core.WindowWeek,
			t:         at(2025, time.October, 13, 0),
			wantStart: at(2025, time.October, 13, 0),
			wantEnd:   at(2025, time.October, 20, 0),
		},
		"week spanning the year end": {
			window:    core.WindowWeek,
			t:         at(2026, time.January, 1, 8), // Thursday
			wantStart: at(2025, time.December, 29, 0),
			wantEnd:   at(2026, time.January, 5, 0),
		},
		"offset input is bucketed in UTC": {
			window:    core.WindowWeek,
			t:         time.Date(2025, time.October, 20, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)),
			wantStart: at(2025, time.October, 13, 0),
			wantEnd:   at(2025, time.October, 20, 0),
		},
		"month": {
			window:    core.WindowMonth,
			t:         at(2025, time.October, 31, 22),
			wantStart: at(2025, time.October, 1, 0),
			wantEnd:   at(2025, time.November, 1, 0),
		},
		"month rolls over the year": {
			window:    core.WindowMonth,
			t:         at(2025, time.December, 31, 23),
			wantStart: at(2025, time.December, 1, 0),
			wantEnd:   at(2026, time.January, 1, 0),
		},
		"leap February": {
			window:    core.WindowMonth,
			t:         at(2024, time.February, 29, 12),
			wantStart: at(2024, time.February, 1, 0),
			wantEnd:   at(2024, time.March, 1, 0),
		},
		"none covers all history": {
			window: core.WindowNone,
			t:      at(2025, time.October, 15, 12),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.wantStart, tc.window.Start(tc.t))
			assert.Equal(t, tc.wantEnd, tc.window.End(tc.t))
		})
	}
}

func TestProgress_Complete(t *testing.T) {
	p := core.Progress{EventCount: 3}
	p.Complete(3)
	assert.True(t, p.IsCompleted)
	p.Complete(4)
	assert.False(t, p.IsCompleted)
	p.Complete(0)
	assert.False(t, p.IsCompleted)
}
