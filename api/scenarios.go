/*
scenarios.go - Demo project loaders for testing and demonstrations

PURPOSE:

	Provides pre-built projects that populate the store with realistic data
	for demos. Each scenario is a factory JSON definition: subjects, skills,
	dependencies and seed events.

AVAILABLE SCENARIOS:

	movie-buffs:      Two subjects, a small prerequisite tree, a few events
	learning-path:    Linear prerequisite chain across three skills
	team-onboarding:  Five users each completing a five-step skill

HOW SCENARIOS WORK:
 1. Reset the store when a Resetter is configured
 2. Parse the definition with factory.ProjectFactory
 3. Apply it through the engine (same validation as the API)

USAGE VIA API:

	POST /scenarios/load
	{"scenario_id": "movie-buffs"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add its JSON definition to scenarioDefinitions

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/project.go: Project JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "movie-buffs",
		Name:        "Movie Buffs",
		Description: "Two subjects with a small prerequisite tree and a few recorded events",
		Category:    "demo",
	},
	{
		ID:          "learning-path",
		Name:        "Learning Path",
		Description: "Linear prerequisite chain: basics before intermediate before advanced",
		Category:    "dependencies",
	},
	{
		ID:          "team-onboarding",
		Name:        "Team Onboarding",
		Description: "Five users each record a five-step skill to completion",
		Category:    "events",
	},
}

var scenarioDefinitions = map[string]string{
	"movie-buffs": `{
  "project_id": "movies",
  "name": "Movie Buffs",
  "subjects": [
    {
      "subject_id": "classics",
      "name": "Classics",
      "skills": [
        {"name": "Watch Casablanca", "point_increment": 10, "num_perform_to_completion": 5},
        {"name": "Watch Metropolis", "point_increment": 15, "num_perform_to_completion": 2}
      ]
    },
    {
      "subject_id": "noir",
      "name": "Film Noir",
      "skills": [
        {"id": "MalteseFalcon", "name": "The Maltese Falcon", "point_increment": 25, "num_perform_to_completion": 2}
      ]
    }
  ],
  "dependencies": [
    {"from": "MalteseFalcon", "to": "WatchCasablancaSkill"},
    {"from": "WatchMetropolisSkill", "to": "WatchCasablancaSkill"}
  ],
  "events": [
    {"skill": "WatchCasablancaSkill", "users": ["alice", "bob"], "times": 2},
    {"skill": "MalteseFalcon", "users": ["alice"], "times": 1}
  ]
}`,

	"learning-path": `{
  "project_id": "golang",
  "name": "Go Learning Path",
  "subjects": [
    {
      "subject_id": "language",
      "skills": [
        {"id": "basics", "name": "Basics", "point_increment": 5, "num_perform_to_completion": 3},
        {"id": "intermediate", "name": "Intermediate", "point_increment": 10, "num_perform_to_completion": 3},
        {"id": "advanced", "name": "Advanced", "point_increment": 20, "num_perform_to_completion": 3}
      ]
    }
  ],
  "dependencies": [
    {"from": "intermediate", "to": "basics"},
    {"from": "advanced", "to": "intermediate"}
  ],
  "events": [
    {"skill": "basics", "users": ["alice"], "times": 3}
  ]
}`,

	"team-onboarding": `{
  "project_id": "onboarding",
  "name": "Team Onboarding",
  "subjects": [
    {
      "subject_id": "firstweek",
      "name": "First Week",
      "skills": [
        {"id": "standup", "name": "Attend Standup", "point_increment": 10, "num_perform_to_completion": 5}
      ]
    }
  ],
  "events": [
    {"skill": "standup", "users": ["user1", "user2", "user3", "user4", "user5"], "times": 5}
  ]
}`,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario resets the store and loads the requested scenario.
// POST /scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	info, ok := findScenario(req.ScenarioID)
	if !ok {
		h.writeError(w, r, core.NotFound(fmt.Sprintf("Scenario [%s] does not exist", req.ScenarioID)))
		return
	}

	res, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events := 0
	for _, o := range res.Events {
		if o.Err == nil {
			events++
		}
	}
	h.log.Info("scenario loaded", "scenario", req.ScenarioID, "skills", len(res.Skills), "edges", len(res.Edges), "events", events)

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Scenario: info,
		Skills:   len(res.Skills),
		Edges:    len(res.Edges),
		Events:   events,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) (*factory.Result, error) {
	def, ok := scenarioDefinitions[id]
	if !ok {
		return nil, core.NotFound(fmt.Sprintf("Scenario [%s] does not exist", id))
	}
	if h.store != nil {
		if err := h.store.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset store: %w", err)
		}
	}
	pj, err := h.factory.ParseProject(def)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	return h.factory.Apply(ctx, h.engine, pj)
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}
