/*
recorder.go - Event recorder and per-user aggregation

PURPOSE:
  Turns "user U performed skill S" into an immutable SkillEvent and folds it
  into the (S, U) Progress row. Every submission is independent: a batch of
  user IDs yields one outcome per ID and a failure never touches siblings.

RECORD FLOW:
  1. User ID rules (required, no whitespace)   -> Validation, no remote call
  2. Skill exists                              -> NotFound
  3. Directory lookup, no lock held            -> UserLookup (UserNotFound)
  4. Lock progress:<project>/<skill>/<user>
  5. Repeat policy                             -> Validation (EventLimitReached)
  6. One transaction: append event, increment progress
  7. IsCompleted against the skill's current threshold

AGGREGATES:
  PointsEarned sums the frozen PointsAwarded of each event, so editing a
  skill's PointIncrement never rewrites history. While the increment is
  unchanged it equals EventCount x PointIncrement.

SEE ALSO:
  - core/ledger.go: Replay / Drift over the same log
  - policy.go: RepeatPolicy
*/
package skills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/users"
	"github.com/warp/skill-engine/validation"
	"golang.org/x/sync/errgroup"
)

type Recorder struct {
	*env
	dir    users.Directory
	ledger *core.Ledger
}

// Outcome is the result for one user of a batch.
type Outcome struct {
	UserID   string
	Progress core.Progress
	Err      error
}

func (r *Recorder) Record(ctx context.Context, projectID core.ProjectID, skillID core.SkillID, userID string) (p core.Progress, err error) {
	defer func() { eventsRecorded.WithLabelValues(outcome(err)).Inc() }()

	if err := validation.Check(validation.FieldUserID, userID, validation.UserIDRules()); err != nil {
		return core.Progress{}, err
	}
	if _, err := r.skill(ctx, r.store, projectID, skillID); err != nil {
		return core.Progress{}, err
	}
	if err := r.lookup(ctx, userID); err != nil {
		return core.Progress{}, err
	}

	key := core.ProgressKey{ProjectID: projectID, SkillID: skillID, UserID: core.UserID(userID)}
	unlock := r.locks.Lock(core.ProgressLockKey(key))
	defer unlock()

	now := r.clock()
	if r.policy.Limited() {
		from, to := r.policy.Bounds(now)
		n, err := r.store.CountEvents(ctx, key, from, to)
		if err != nil {
			return core.Progress{}, fmt.Errorf("count events %s: %w", key, err)
		}
		if !r.policy.Allows(n) {
			return core.Progress{}, core.Validation(validation.FieldUserID, core.CodeEventLimitReached,
				fmt.Sprintf("User [%s] already reached the limit of %s for skill [%s]", userID, r.policy, skillID))
		}
	}

	var threshold int
	err = r.store.WithTx(ctx, func(tx core.Store) error {
		// Re-read inside the transaction: points are frozen at the
		// increment in effect when the event is written.
		sk, err := r.skill(ctx, tx, projectID, skillID)
		if err != nil {
			return err
		}
		threshold = sk.NumPerformToCompletion

		e := core.SkillEvent{
			ID:            core.EventID(r.newID()),
			ProjectID:     projectID,
			SkillID:       skillID,
			UserID:        core.UserID(userID),
			OccurredAt:    now,
			PointsAwarded: sk.PointIncrement,
		}
		if err := tx.AppendEvent(ctx, e); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		p, err = tx.IncrementProgress(ctx, e)
		if err != nil {
			return fmt.Errorf("increment progress: %w", err)
		}
		return nil
	})
	if err != nil {
		if core.KindOf(err) != core.KindUnknown {
			return core.Progress{}, err
		}
		return core.Progress{}, fmt.Errorf("record %s: %w: %w", key, core.ErrTransactionFailed, err)
	}

	p.Complete(threshold)
	return p, nil
}

// RecordBatch records one event per user ID and returns outcomes in input
// order. Each user is processed independently.
func (r *Recorder) RecordBatch(ctx context.Context, projectID core.ProjectID, skillID core.SkillID, userIDs []string) []Outcome {
	out := make([]Outcome, len(userIDs))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, id := range userIDs {
		i, id := i, id
		g.Go(func() error {
			p, err := r.Record(ctx, projectID, skillID, id)
			out[i] = Outcome{UserID: id, Progress: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Progress returns the aggregate for (skill, user). A user with no events
// gets a zero row, not an error.
func (r *Recorder) Progress(ctx context.Context, projectID core.ProjectID, skillID core.SkillID, userID string) (core.Progress, error) {
	sk, err := r.skill(ctx, r.store, projectID, skillID)
	if err != nil {
		return core.Progress{}, err
	}
	key := core.ProgressKey{ProjectID: projectID, SkillID: skillID, UserID: core.UserID(userID)}
	row, err := r.store.GetProgress(ctx, key)
	if err != nil {
		return core.Progress{}, fmt.Errorf("get progress %s: %w", key, err)
	}
	p := core.Progress{ProjectID: projectID, SkillID: skillID, UserID: core.UserID(userID)}
	if row != nil {
		p = *row
	}
	p.Complete(sk.NumPerformToCompletion)
	return p, nil
}

// Events returns the (skill, user) log ordered by OccurredAt.
func (r *Recorder) Events(ctx context.Context, projectID core.ProjectID, skillID core.SkillID, userID string) ([]core.SkillEvent, error) {
	if _, err := r.skill(ctx, r.store, projectID, skillID); err != nil {
		return nil, err
	}
	key := core.ProgressKey{ProjectID: projectID, SkillID: skillID, UserID: core.UserID(userID)}
	events, err := r.store.LoadEvents(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", key, err)
	}
	return events, nil
}

// UserPoints returns the user's points across every skill of the project.
func (r *Recorder) UserPoints(ctx context.Context, projectID core.ProjectID, userID string) (core.Amount, error) {
	p, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return core.Amount{}, fmt.Errorf("get project %s: %w", projectID, err)
	}
	if p == nil {
		return core.Amount{}, core.NotFound(fmt.Sprintf("Project [%s] does not exist", projectID))
	}
	return r.ledger.Balance(ctx, projectID, core.UserID(userID))
}

// =============================================================================
// REBUILD - Progress rows from the event log
// =============================================================================

// Drift reports the progress rows of a project that disagree with a replay
// of its event log. It writes nothing.
func (r *Recorder) Drift(ctx context.Context, projectID core.ProjectID) ([]core.ProgressKey, error) {
	events, err := r.store.LoadProjectEvents(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project events: %w", err)
	}
	stored, err := r.store.ListProgress(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return core.Drift(stored, core.Replay(events)), nil
}

// Rebuild rewrites every drifted progress row from the event log in one
// transaction and returns the keys it fixed.
func (r *Recorder) Rebuild(ctx context.Context, projectID core.ProjectID) ([]core.ProgressKey, error) {
	var fixed []core.ProgressKey
	err := r.store.WithTx(ctx, func(tx core.Store) error {
		events, err := tx.LoadProjectEvents(ctx, projectID)
		if err != nil {
			return fmt.Errorf("load project events: %w", err)
		}
		stored, err := tx.ListProgress(ctx, projectID)
		if err != nil {
			return fmt.Errorf("list progress: %w", err)
		}
		replayed := core.Replay(events)
		for _, key := range core.Drift(stored, replayed) {
			p, ok := replayed[key]
			if !ok {
				// a row with no events behind it is reset, never deleted
				p = core.Progress{ProjectID: key.ProjectID, SkillID: key.SkillID, UserID: key.UserID}
			}
			if err := tx.PutProgress(ctx, p); err != nil {
				return fmt.Errorf("put progress %s: %w", key, err)
			}
			fixed = append(fixed, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	progressRebuilt.Add(float64(len(fixed)))
	return fixed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Recorder) skill(ctx context.Context, s core.SkillStore, projectID core.ProjectID, skillID core.SkillID) (*core.Skill, error) {
	sk, err := s.GetSkill(ctx, projectID, skillID)
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", skillID, err)
	}
	if sk == nil {
		return nil, core.NotFound(fmt.Sprintf("Skill [%s] does not exist in project [%s]", skillID, projectID))
	}
	return sk, nil
}

func (r *Recorder) lookup(ctx context.Context, userID string) error {
	start := time.Now()
	_, err := r.dir.Lookup(ctx, userID)
	lookupDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, users.ErrUserNotFound):
		return core.UserLookup(core.CodeUserNotFound, fmt.Sprintf("User [%s] does not exist", userID), err)
	default:
		return core.UserLookup(core.CodeUserLookupFailed, fmt.Sprintf("Could not resolve user [%s]", userID), err)
	}
}
