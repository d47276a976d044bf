/*
Package core provides the storage-facing types and primitives of the skill engine.

PURPOSE:
  This package contains the records every other package agrees on (skills,
  dependency edges, skill events, aggregate progress) plus the primitives the
  rules engines are built from: the error taxonomy, keyed locks, points
  amounts, repeat windows, and the store interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of points (decimal, never float)
  - Skill: A trackable behavior with a point value and a completion threshold
  - Edge: A directed prerequisite between two skills of one project
  - SkillEvent: One immutable occurrence of a user performing a skill
  - Progress: Per (skill, user) running total derived from the event log

DESIGN PRINCIPLES:
  1. Derived fields are recomputed, never stored independently (TotalPoints)
  2. The event log is append-only; Progress can always be rebuilt from it
  3. Type Safety: Strong typing for IDs prevents mixing project/skill/user IDs

SEE ALSO:
  - store.go: Persistence interfaces
  - errors.go: Result taxonomy
  - ledger.go: Points ledger over the event log
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Points quantity
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const UnitPoints Unit = "points"

func NewPoints(value int) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: UnitPoints}
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsZero() bool { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }
func (a Amount) IntPart() int { return int(a.Value.IntPart()) }
func (a Amount) String() string { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type SubjectID string
type SkillID string
type UserID string
type EdgeID string
type EventID string

// =============================================================================
// CONTAINERS - Project and subject (existence only)
// =============================================================================

type Project struct {
	ID        ProjectID
	Name      string
	CreatedAt time.Time
}

type Subject struct {
	ID        SubjectID
	ProjectID ProjectID
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// SKILL
// =============================================================================

// Skill is a unit of trackable behavior.
// INVARIANT: TotalPoints == PointIncrement * NumPerformToCompletion.
type Skill struct {
	ID                     SkillID
	ProjectID              ProjectID
	SubjectID              SubjectID
	Name                   string
	PointIncrement         int
	NumPerformToCompletion int
	TotalPoints            int
	Version                int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Recompute refreshes the derived TotalPoints field.
func (s *Skill) Recompute() {
	s.TotalPoints = s.PointIncrement * s.NumPerformToCompletion
}

// =============================================================================
// DEPENDENCY EDGE
// =============================================================================

type EdgeStatus string

const (
	EdgePending  EdgeStatus = "pending"
	EdgeActive   EdgeStatus = "active"
	EdgeRejected EdgeStatus = "rejected"
)

// Edge is a prerequisite: From depends on To.
type Edge struct {
	ID        EdgeID
	ProjectID ProjectID
	From      SkillID
	To        SkillID
	Status    EdgeStatus
	CreatedAt time.Time
}

// =============================================================================
// SKILL EVENT - Immutable occurrence
// =============================================================================

// SkillEvent records one occurrence. PointsAwarded is frozen at the skill's
// PointIncrement when the event was recorded.
type SkillEvent struct {
	ID            EventID
	ProjectID     ProjectID
	SkillID       SkillID
	UserID        UserID
	OccurredAt    time.Time
	PointsAwarded int
}

// =============================================================================
// PROGRESS - Aggregate per (skill, user)
// =============================================================================

type ProgressKey struct {
	ProjectID ProjectID
	SkillID   SkillID
	UserID    UserID
}

func (k ProgressKey) String() string {
	return string(k.ProjectID) + "/" + string(k.SkillID) + "/" + string(k.UserID)
}

// Progress is the materialized aggregate of a (skill, user) event log.
// IsCompleted is filled in by the recorder from the skill's current threshold.
type Progress struct {
	ProjectID    ProjectID
	SkillID      SkillID
	UserID       UserID
	EventCount   int
	PointsEarned int
	IsCompleted  bool
	LastEventAt  time.Time
}

func (p Progress) Key() ProgressKey {
	return ProgressKey{ProjectID: p.ProjectID, SkillID: p.SkillID, UserID: p.UserID}
}

// Apply folds one event into the aggregate.
func (p *Progress) Apply(e SkillEvent) {
	p.EventCount++
	p.PointsEarned += e.PointsAwarded
	if e.OccurredAt.After(p.LastEventAt) {
		p.LastEventAt = e.OccurredAt
	}
}

// Complete sets IsCompleted against a threshold.
func (p *Progress) Complete(numPerformToCompletion int) {
	p.IsCompleted = numPerformToCompletion > 0 && p.EventCount >= numPerformToCompletion
}
