/*
store.go - Persistence interfaces for skills, edges, and events

PURPOSE:
  Defines the interface between the rules engines and the database.
  Physical layout is up to the implementation; the engines only rely on
  the contracts below.

KEY INTERFACES:
  ContainerStore: Project/subject existence
  SkillStore:     Skill definitions
  EdgeStore:      Dependency edges
  EventStore:     Append-only skill events + materialized progress
  TxStore:        Atomic multi-write operations

APPEND-ONLY CONTRACT:
  Skill events are never updated or deleted. Progress rows are a cache of the
  event log and may be rewritten by PutProgress during a rebuild.

MISSING RECORDS:
  Getters return (nil, nil) when the record does not exist. Uniqueness
  violations surface as ErrDuplicateKey.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - core/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Read side over EventStore
*/
package core

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateKey is returned by stores when a unique key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// =============================================================================
// CONTAINERS
// =============================================================================

type ContainerStore interface {
	SaveProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	SaveSubject(ctx context.Context, s Subject) error
	GetSubject(ctx context.Context, projectID ProjectID, id SubjectID) (*Subject, error)
}

// =============================================================================
// SKILLS
// =============================================================================

type SkillStore interface {
	// InsertSkill fails with ErrDuplicateKey if (ProjectID, ID) exists.
	InsertSkill(ctx context.Context, s Skill) error

	// UpdateSkill replaces the mutable fields of an existing skill.
	UpdateSkill(ctx context.Context, s Skill) error

	GetSkill(ctx context.Context, projectID ProjectID, id SkillID) (*Skill, error)

	// ListSkills returns skills of a subject ordered by creation.
	// An empty subjectID lists the whole project.
	ListSkills(ctx context.Context, projectID ProjectID, subjectID SubjectID) ([]Skill, error)
}

// =============================================================================
// EDGES
// =============================================================================

type EdgeStore interface {
	// InsertEdge stores a new edge. Fails with ErrDuplicateKey if an Active
	// edge with the same (ProjectID, From, To) exists.
	InsertEdge(ctx context.Context, e Edge) error

	// SetEdgeStatus moves an edge to a new status.
	SetEdgeStatus(ctx context.Context, id EdgeID, status EdgeStatus) error

	// DeleteEdge removes the Active edge From->To. Returns false if absent.
	DeleteEdge(ctx context.Context, projectID ProjectID, from, to SkillID) (bool, error)

	// ListEdges returns Active edges of a project ordered by creation.
	ListEdges(ctx context.Context, projectID ProjectID) ([]Edge, error)
}

// =============================================================================
// EVENTS + PROGRESS
// =============================================================================

type EventStore interface {
	// AppendEvent persists an event. This is the ONLY write to the log.
	AppendEvent(ctx context.Context, e SkillEvent) error

	// LoadEvents returns the (skill, user) log ordered by OccurredAt.
	LoadEvents(ctx context.Context, key ProgressKey) ([]SkillEvent, error)

	// LoadUserEvents returns every event of a user inside a project.
	LoadUserEvents(ctx context.Context, projectID ProjectID, userID UserID) ([]SkillEvent, error)

	// LoadProjectEvents returns the whole project log ordered by OccurredAt.
	LoadProjectEvents(ctx context.Context, projectID ProjectID) ([]SkillEvent, error)

	// CountEvents counts (skill, user) events with OccurredAt in [from, to).
	// A zero 'to' means unbounded.
	CountEvents(ctx context.Context, key ProgressKey, from, to time.Time) (int, error)

	// IncrementProgress folds e into its progress row, creating it on the
	// first event, and returns the updated row.
	IncrementProgress(ctx context.Context, e SkillEvent) (Progress, error)

	GetProgress(ctx context.Context, key ProgressKey) (*Progress, error)

	// PutProgress overwrites a progress row. Used by rebuilds only.
	PutProgress(ctx context.Context, p Progress) error

	ListProgress(ctx context.Context, projectID ProjectID) ([]Progress, error)
}

// =============================================================================
// STORE - Everything together
// =============================================================================

type Store interface {
	ContainerStore
	SkillStore
	EdgeStore
	EventStore
}

// TxStore wraps Store with transaction support.
// If fn returns error, every write made through the Store passed to fn is
// rolled back; otherwise all of them commit together.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
