/*
Package factory provides JSON to Go project conversion.

PURPOSE:
  Converts a JSON project definition (subjects, skills, dependencies and
  optional seed events) into calls on the skills engine. Admins can keep a
  whole skill tree in version control and load it with one request or one
  CLI command.

JSON SCHEMA:
  {
    "project_id": "movies",
    "name": "Movie Buffs",
    "subjects": [
      {
        "subject_id": "classics",
        "name": "Classics",
        "skills": [
          {"name": "Watch Casablanca", "point_increment": 10, "num_perform_to_completion": 5},
          {"id": "noir1", "name": "Film Noir"}
        ]
      }
    ],
    "dependencies": [{"from": "noir1", "to": "WatchCasablancaSkill"}],
    "events": [{"skill": "noir1", "users": ["alice", "bob"], "times": 2}]
  }

DEFAULTS:
  point_increment            10
  num_perform_to_completion  5
  times                      1

REFERENCES:
  Dependencies and events name skills by ID. A skill without an explicit
  id is referenced by its generated ID (or by its display name).

USAGE:
  f := factory.NewProjectFactory()
  def, err := f.ParseProject(jsonString)
  result, err := f.Apply(ctx, engine, def)

SEE ALSO:
  - skills/id.go: GenerateID
  - api/scenarios.go: Demo projects built from this format
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/skills"
)

const (
	DefaultPointIncrement         = 10
	DefaultNumPerformToCompletion = 5
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type ProjectJSON struct {
	ProjectID    string           `json:"project_id" validate:"required,alphanum"`
	Name         string           `json:"name,omitempty"`
	Subjects     []SubjectJSON    `json:"subjects" validate:"dive"`
	Dependencies []DependencyJSON `json:"dependencies,omitempty" validate:"dive"`
	Events       []EventJSON      `json:"events,omitempty" validate:"dive"`
}

type SubjectJSON struct {
	SubjectID string      `json:"subject_id" validate:"required,alphanum"`
	Name      string      `json:"name,omitempty"`
	Skills    []SkillJSON `json:"skills" validate:"dive"`
}

type SkillJSON struct {
	ID                     string `json:"id,omitempty" validate:"omitempty,alphanum"`
	Name                   string `json:"name" validate:"required,max=100"`
	PointIncrement         int    `json:"point_increment,omitempty" validate:"gte=0"`
	NumPerformToCompletion int    `json:"num_perform_to_completion,omitempty" validate:"gte=0"`
}

type DependencyJSON struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// EventJSON seeds 'times' events for each user on one skill.
type EventJSON struct {
	Skill string   `json:"skill" validate:"required"`
	Users []string `json:"users" validate:"min=1"`
	Times int      `json:"times,omitempty" validate:"gte=0"`
}

// =============================================================================
// PROJECT FACTORY
// =============================================================================

type ProjectFactory struct {
	validate *validator.Validate
}

func NewProjectFactory() *ProjectFactory {
	return &ProjectFactory{validate: validator.New()}
}

// ParseProject decodes, defaults and validates a project definition.
func (f *ProjectFactory) ParseProject(jsonStr string) (*ProjectJSON, error) {
	var pj ProjectJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("invalid project JSON: %w", err)
	}
	applyDefaults(&pj)
	if err := f.validate.Struct(&pj); err != nil {
		return nil, fmt.Errorf("invalid project definition: %w", err)
	}
	return &pj, nil
}

func applyDefaults(pj *ProjectJSON) {
	for i := range pj.Subjects {
		for j := range pj.Subjects[i].Skills {
			sk := &pj.Subjects[i].Skills[j]
			if sk.PointIncrement == 0 {
				sk.PointIncrement = DefaultPointIncrement
			}
			if sk.NumPerformToCompletion == 0 {
				sk.NumPerformToCompletion = DefaultNumPerformToCompletion
			}
		}
	}
	for i := range pj.Events {
		if pj.Events[i].Times == 0 {
			pj.Events[i].Times = 1
		}
	}
}

// Result lists everything Apply created.
type Result struct {
	Project  core.Project
	Subjects []core.Subject
	Skills   []core.Skill
	Edges    []core.Edge
	Events   []skills.Outcome
}

// Apply creates the project through the engine. It stops at the first
// definition error; seed event failures are reported per user in
// Result.Events and do not stop the load.
func (f *ProjectFactory) Apply(ctx context.Context, eng *skills.Engine, pj *ProjectJSON) (*Result, error) {
	projectID := core.ProjectID(pj.ProjectID)
	res := &Result{}

	p, err := eng.Definitions.CreateProject(ctx, projectID, pj.Name)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	res.Project = p

	refs := make(map[string]core.SkillID)
	for _, sj := range pj.Subjects {
		sub, err := eng.Definitions.CreateSubject(ctx, projectID, core.SubjectID(sj.SubjectID), sj.Name)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", sj.SubjectID, err)
		}
		res.Subjects = append(res.Subjects, sub)

		for _, kj := range sj.Skills {
			sk, err := eng.Definitions.Create(ctx, skills.CreateSkill{
				ID:                     core.SkillID(kj.ID),
				ProjectID:              projectID,
				SubjectID:              sub.ID,
				Name:                   kj.Name,
				PointIncrement:         kj.PointIncrement,
				NumPerformToCompletion: kj.NumPerformToCompletion,
			})
			if err != nil {
				return nil, fmt.Errorf("skill %q: %w", kj.Name, err)
			}
			res.Skills = append(res.Skills, sk)
			refs[string(sk.ID)] = sk.ID
			refs[kj.Name] = sk.ID
		}
	}

	resolve := func(ref string) core.SkillID {
		if id, ok := refs[ref]; ok {
			return id
		}
		return core.SkillID(ref)
	}

	for _, dj := range pj.Dependencies {
		edge, err := eng.Graph.Assign(ctx, projectID, resolve(dj.From), resolve(dj.To))
		if err != nil {
			return nil, fmt.Errorf("dependency %s -> %s: %w", dj.From, dj.To, err)
		}
		res.Edges = append(res.Edges, edge)
	}

	for _, ej := range pj.Events {
		skillID := resolve(ej.Skill)
		for i := 0; i < ej.Times; i++ {
			res.Events = append(res.Events, eng.Recorder.RecordBatch(ctx, projectID, skillID, ej.Users)...)
		}
	}

	return res, nil
}

// ToJSON renders a definition back to indented JSON.
func (f *ProjectFactory) ToJSON(pj *ProjectJSON) (string, error) {
	out, err := json.MarshalIndent(pj, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
