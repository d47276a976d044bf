/*
definitions.go - Skill definition store

PURPOSE:
  Owns skill records. TotalPoints is derived (PointIncrement x
  NumPerformToCompletion) and recomputed on every write, so a read that
  follows a successful create/update always observes the new total.

UNIQUENESS:
  Skill IDs are unique per project. The existence check and the insert run
  under the project lock so two concurrent creates of the same ID cannot
  both succeed; the store's duplicate-key error is the final guard.

VERSIONING:
  Version starts at 1 and increments on every update. Callers that pass the
  version they read get a StaleSkillVersion conflict if someone else wrote
  in between. Version 0 means "don't check".

SEE ALSO:
  - id.go: GenerateID
  - graph.go: Edges between skills
*/
package skills

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/validation"
)

const (
	FieldPointIncrement         = "pointIncrement"
	FieldNumPerformToCompletion = "numPerformToCompletion"
)

type Definitions struct {
	*env
}

// =============================================================================
// CONTAINERS
// =============================================================================

func (d *Definitions) CreateProject(ctx context.Context, id core.ProjectID, name string) (core.Project, error) {
	if err := validation.Check("projectId", string(id), []validation.Rule{
		validation.Required("Project ID"), validation.AlphaNumeric("Project ID"),
	}); err != nil {
		return core.Project{}, err
	}
	if name == "" {
		name = string(id)
	}

	unlock := d.locks.Lock(core.ProjectLockKey(id))
	defer unlock()

	p := core.Project{ID: id, Name: name, CreatedAt: d.clock()}
	if err := d.store.SaveProject(ctx, p); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return core.Project{}, core.Conflict(core.CodeProjectExists,
				fmt.Sprintf("Project with id [%s] already exists", id))
		}
		return core.Project{}, fmt.Errorf("save project %s: %w", id, err)
	}
	return p, nil
}

func (d *Definitions) CreateSubject(ctx context.Context, projectID core.ProjectID, id core.SubjectID, name string) (core.Subject, error) {
	if err := validation.Check("subjectId", string(id), []validation.Rule{
		validation.Required("Subject ID"), validation.AlphaNumeric("Subject ID"),
	}); err != nil {
		return core.Subject{}, err
	}
	if name == "" {
		name = string(id)
	}

	unlock := d.locks.Lock(core.ProjectLockKey(projectID))
	defer unlock()

	if err := d.requireProject(ctx, projectID); err != nil {
		return core.Subject{}, err
	}
	s := core.Subject{ID: id, ProjectID: projectID, Name: name, CreatedAt: d.clock()}
	if err := d.store.SaveSubject(ctx, s); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return core.Subject{}, core.Conflict(core.CodeSubjectExists,
				fmt.Sprintf("Subject with id [%s] already exists in project [%s]", id, projectID))
		}
		return core.Subject{}, fmt.Errorf("save subject %s: %w", id, err)
	}
	return s, nil
}

// Projects lists every project, ordered by ID.
func (d *Definitions) Projects(ctx context.Context) ([]core.Project, error) {
	return d.store.ListProjects(ctx)
}

func (d *Definitions) requireProject(ctx context.Context, id core.ProjectID) error {
	p, err := d.store.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("get project %s: %w", id, err)
	}
	if p == nil {
		return core.NotFound(fmt.Sprintf("Project [%s] does not exist", id))
	}
	return nil
}

func (d *Definitions) requireSubject(ctx context.Context, projectID core.ProjectID, id core.SubjectID) error {
	if err := d.requireProject(ctx, projectID); err != nil {
		return err
	}
	s, err := d.store.GetSubject(ctx, projectID, id)
	if err != nil {
		return fmt.Errorf("get subject %s: %w", id, err)
	}
	if s == nil {
		return core.NotFound(fmt.Sprintf("Subject [%s] does not exist in project [%s]", id, projectID))
	}
	return nil
}

// =============================================================================
// SKILLS
// =============================================================================

// CreateSkill is the input of Create. ID is optional; when empty it is
// derived from Name.
type CreateSkill struct {
	ID                     core.SkillID
	ProjectID              core.ProjectID
	SubjectID              core.SubjectID
	Name                   string
	PointIncrement         int
	NumPerformToCompletion int
}

// UpdateSkill carries the mutable fields; nil leaves a field unchanged.
type UpdateSkill struct {
	Name                   *string
	PointIncrement         *int
	NumPerformToCompletion *int
	Version                int
}

func (d *Definitions) Create(ctx context.Context, in CreateSkill) (sk core.Skill, err error) {
	defer func() { skillWrites.WithLabelValues("create", outcome(err)).Inc() }()

	if err := validation.Check(validation.FieldSkillName, in.Name, validation.SkillNameRules()); err != nil {
		return core.Skill{}, err
	}
	id := in.ID
	if id == "" {
		id = GenerateID(in.Name)
	} else if err := validation.Check(validation.FieldSkillID, string(id), validation.SkillIDRules()); err != nil {
		return core.Skill{}, err
	}
	if err := checkCounts(in.PointIncrement, in.NumPerformToCompletion); err != nil {
		return core.Skill{}, err
	}

	unlock := d.locks.Lock(core.ProjectLockKey(in.ProjectID))
	defer unlock()

	if err := d.requireSubject(ctx, in.ProjectID, in.SubjectID); err != nil {
		return core.Skill{}, err
	}

	now := d.clock()
	sk = core.Skill{
		ID:                     id,
		ProjectID:              in.ProjectID,
		SubjectID:              in.SubjectID,
		Name:                   in.Name,
		PointIncrement:         in.PointIncrement,
		NumPerformToCompletion: in.NumPerformToCompletion,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	sk.Recompute()

	if err := d.store.InsertSkill(ctx, sk); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return core.Skill{}, skillIDTaken(in.ProjectID, id)
		}
		return core.Skill{}, fmt.Errorf("insert skill %s: %w", id, err)
	}
	return sk, nil
}

func (d *Definitions) Update(ctx context.Context, projectID core.ProjectID, id core.SkillID, in UpdateSkill) (sk core.Skill, err error) {
	defer func() { skillWrites.WithLabelValues("update", outcome(err)).Inc() }()

	if in.Name != nil {
		if err := validation.Check(validation.FieldSkillName, *in.Name, validation.SkillNameRules()); err != nil {
			return core.Skill{}, err
		}
	}

	unlock := d.locks.Lock(core.ProjectLockKey(projectID))
	defer unlock()

	cur, err := d.get(ctx, projectID, id)
	if err != nil {
		return core.Skill{}, err
	}
	if in.Version != 0 && in.Version != cur.Version {
		return core.Skill{}, core.Conflict(core.CodeStaleSkillVersion,
			fmt.Sprintf("Skill [%s] was modified (version %d, expected %d)", id, cur.Version, in.Version))
	}

	sk = *cur
	if in.Name != nil {
		sk.Name = *in.Name
	}
	if in.PointIncrement != nil {
		sk.PointIncrement = *in.PointIncrement
	}
	if in.NumPerformToCompletion != nil {
		sk.NumPerformToCompletion = *in.NumPerformToCompletion
	}
	if err := checkCounts(sk.PointIncrement, sk.NumPerformToCompletion); err != nil {
		return core.Skill{}, err
	}
	sk.Recompute()
	sk.Version++
	sk.UpdatedAt = d.clock()

	if err := d.store.UpdateSkill(ctx, sk); err != nil {
		return core.Skill{}, fmt.Errorf("update skill %s: %w", id, err)
	}
	return sk, nil
}

func (d *Definitions) Get(ctx context.Context, projectID core.ProjectID, id core.SkillID) (core.Skill, error) {
	sk, err := d.get(ctx, projectID, id)
	if err != nil {
		return core.Skill{}, err
	}
	return *sk, nil
}

func (d *Definitions) get(ctx context.Context, projectID core.ProjectID, id core.SkillID) (*core.Skill, error) {
	sk, err := d.store.GetSkill(ctx, projectID, id)
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", id, err)
	}
	if sk == nil {
		return nil, core.NotFound(fmt.Sprintf("Skill [%s] does not exist in project [%s]", id, projectID))
	}
	return sk, nil
}

// List returns the skills of a subject in creation order.
func (d *Definitions) List(ctx context.Context, projectID core.ProjectID, subjectID core.SubjectID) ([]core.Skill, error) {
	if err := d.requireSubject(ctx, projectID, subjectID); err != nil {
		return nil, err
	}
	out, err := d.store.ListSkills(ctx, projectID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	return out, nil
}

// SubjectTotals sums TotalPoints over the skills of a subject.
func (d *Definitions) SubjectTotals(ctx context.Context, projectID core.ProjectID, subjectID core.SubjectID) (int, error) {
	list, err := d.List(ctx, projectID, subjectID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sk := range list {
		total += sk.TotalPoints
	}
	return total, nil
}

// IDAvailable reports whether id is free inside the project. It takes no
// lock: the answer is advisory and Create re-checks under the project lock.
func (d *Definitions) IDAvailable(ctx context.Context, projectID core.ProjectID, id core.SkillID) (bool, error) {
	sk, err := d.store.GetSkill(ctx, projectID, id)
	if err != nil {
		return false, fmt.Errorf("get skill %s: %w", id, err)
	}
	return sk == nil, nil
}

// AvailabilityCheck adapts IDAvailable to a validation.AsyncCheck.
func (d *Definitions) AvailabilityCheck(projectID core.ProjectID) validation.AsyncCheck {
	return func(ctx context.Context, value string) error {
		ok, err := d.IDAvailable(ctx, projectID, core.SkillID(value))
		if err != nil {
			return err
		}
		if !ok {
			return skillIDTaken(projectID, core.SkillID(value))
		}
		return nil
	}
}

func skillIDTaken(projectID core.ProjectID, id core.SkillID) error {
	return core.Conflict(core.CodeSkillIDTaken,
		fmt.Sprintf("Skill with id [%s] already exists in project [%s]", id, projectID))
}

func checkCounts(pointIncrement, numPerform int) error {
	if pointIncrement <= 0 {
		return core.Validation(FieldPointIncrement, core.CodeInvalidInput, "Point Increment must be greater than 0")
	}
	if numPerform <= 0 {
		return core.Validation(FieldNumPerformToCompletion, core.CodeInvalidInput, "Occurrences to Completion must be greater than 0")
	}
	return nil
}
