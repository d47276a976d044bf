/*
ledger.go - Read side of the append-only skill event log

PURPOSE:
  The event log is the source of truth for points. Progress rows are a
  materialized cache; Ledger recomputes totals straight from the log so the
  cache can be verified or rebuilt at any time.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: events are never edited or deleted
  2. FROZEN POINTS: an event keeps the PointsAwarded it was recorded with
  3. DERIVED: Progress == Replay(events) for every (skill, user)

SEE ALSO:
  - store.go: EventStore
  - skills/recorder.go: The only writer of events
*/
package core

import (
	"context"
	"sort"
	"time"
)

type Ledger struct {
	Store EventStore
}

func NewLedger(store EventStore) *Ledger {
	return &Ledger{Store: store}
}

// Balance returns the user's points across all skills of a project.
func (l *Ledger) Balance(ctx context.Context, projectID ProjectID, userID UserID) (Amount, error) {
	return l.BalanceAt(ctx, projectID, userID, time.Time{})
}

// BalanceAt returns the user's points earned up to and including 'at'.
// A zero 'at' means no upper bound.
func (l *Ledger) BalanceAt(ctx context.Context, projectID ProjectID, userID UserID, at time.Time) (Amount, error) {
	events, err := l.Store.LoadUserEvents(ctx, projectID, userID)
	if err != nil {
		return Amount{}, err
	}
	balance := NewPoints(0)
	for _, e := range events {
		if !at.IsZero() && e.OccurredAt.After(at) {
			continue
		}
		balance = balance.Add(NewPoints(e.PointsAwarded))
	}
	return balance, nil
}

// Replay folds an event log into progress rows keyed by (skill, user).
// IsCompleted is left unset; it depends on the skill's current threshold.
func Replay(events []SkillEvent) map[ProgressKey]Progress {
	sorted := make([]SkillEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	out := make(map[ProgressKey]Progress)
	for _, e := range sorted {
		key := ProgressKey{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID}
		p, ok := out[key]
		if !ok {
			p = Progress{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID}
		}
		p.Apply(e)
		out[key] = p
	}
	return out
}

// Drift compares stored progress rows against a replay of the log and returns
// the keys whose counts or points disagree (including rows missing on either side).
func Drift(stored []Progress, replayed map[ProgressKey]Progress) []ProgressKey {
	seen := make(map[ProgressKey]bool, len(stored))
	var drift []ProgressKey
	for _, p := range stored {
		key := p.Key()
		seen[key] = true
		want, ok := replayed[key]
		if !ok || want.EventCount != p.EventCount || want.PointsEarned != p.PointsEarned {
			drift = append(drift, key)
		}
	}
	for key := range replayed {
		if !seen[key] {
			drift = append(drift, key)
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].String() < drift[j].String() })
	return drift
}
