/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in core/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Containers:  ProjectDTO, SubjectDTO, CreateContainerRequest
  Skills:      SkillDTO, SkillRequest, SkillListResponse, GenerateIDResponse
  Graph:       EdgeDTO, DependenciesResponse
  Events:      RecordEventsRequest, ProgressDTO, EventOutcomeDTO, PointsDTO
  Users:       SuggestRequest, SuggestResponse
  Scenarios:   ScenarioDTO, LoadScenarioRequest
  Errors:      ErrorResponse

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeRequest before any handler logic runs. Field rules shared with the
  CLI (user IDs, skill names) live in validation/ and run in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - core/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/skill-engine/core"
)

// =============================================================================
// CONTAINERS
// =============================================================================

// CreateContainerRequest creates a project or a subject. Body is optional.
type CreateContainerRequest struct {
	Name string `json:"name" validate:"omitempty,max=100"`
}

type ProjectDTO struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

type SubjectDTO struct {
	ProjectID string `json:"projectId"`
	SubjectID string `json:"subjectId"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

func toProjectDTO(p core.Project) ProjectDTO {
	return ProjectDTO{ProjectID: string(p.ID), Name: p.Name, CreatedAt: formatTime(p.CreatedAt)}
}

func toSubjectDTO(s core.Subject) SubjectDTO {
	return SubjectDTO{
		ProjectID: string(s.ProjectID),
		SubjectID: string(s.ID),
		Name:      s.Name,
		CreatedAt: formatTime(s.CreatedAt),
	}
}

// =============================================================================
// SKILLS
// =============================================================================

// SkillRequest creates a skill when the path ID is unused, otherwise updates
// it. Nil fields are left unchanged on update. Version, when non-zero, must
// match the stored version.
type SkillRequest struct {
	Name                   *string `json:"name" validate:"omitempty,max=100"`
	PointIncrement         *int    `json:"pointIncrement" validate:"omitempty,gt=0"`
	NumPerformToCompletion *int    `json:"numPerformToCompletion" validate:"omitempty,gt=0"`
	Version                int     `json:"version" validate:"gte=0"`
}

type SkillDTO struct {
	SkillID                string `json:"skillId"`
	ProjectID              string `json:"projectId"`
	SubjectID              string `json:"subjectId"`
	Name                   string `json:"name"`
	PointIncrement         int    `json:"pointIncrement"`
	NumPerformToCompletion int    `json:"numPerformToCompletion"`
	TotalPoints            int    `json:"totalPoints"`
	Version                int    `json:"version"`
	CreatedAt              string `json:"createdAt"`
	UpdatedAt              string `json:"updatedAt"`
}

func toSkillDTO(sk core.Skill) SkillDTO {
	return SkillDTO{
		SkillID:                string(sk.ID),
		ProjectID:              string(sk.ProjectID),
		SubjectID:              string(sk.SubjectID),
		Name:                   sk.Name,
		PointIncrement:         sk.PointIncrement,
		NumPerformToCompletion: sk.NumPerformToCompletion,
		TotalPoints:            sk.TotalPoints,
		Version:                sk.Version,
		CreatedAt:              formatTime(sk.CreatedAt),
		UpdatedAt:              formatTime(sk.UpdatedAt),
	}
}

// SkillListResponse lists a subject's skills with the subject total.
type SkillListResponse struct {
	Skills      []SkillDTO `json:"skills"`
	TotalPoints int        `json:"totalPoints"`
}

type GenerateIDResponse struct {
	SkillID   string `json:"skillId"`
	Available bool   `json:"available"`
}

// =============================================================================
// DEPENDENCY GRAPH
// =============================================================================

type EdgeDTO struct {
	EdgeID    string `json:"edgeId,omitempty"`
	ProjectID string `json:"projectId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func toEdgeDTO(e core.Edge) EdgeDTO {
	return EdgeDTO{
		EdgeID:    string(e.ID),
		ProjectID: string(e.ProjectID),
		From:      string(e.From),
		To:        string(e.To),
		Status:    string(e.Status),
		CreatedAt: formatTime(e.CreatedAt),
	}
}

// DependenciesResponse lists direct edges and the full prerequisite closure.
type DependenciesResponse struct {
	SkillID       string    `json:"skillId"`
	Direct        []EdgeDTO `json:"direct"`
	Prerequisites []string  `json:"prerequisites"`
}

// =============================================================================
// EVENTS AND PROGRESS
// =============================================================================

// RecordEventsRequest carries one user (UserID) or a batch (UserIDs).
type RecordEventsRequest struct {
	UserID  string   `json:"userId"`
	UserIDs []string `json:"userIds" validate:"omitempty,max=500"`
}

type ProgressDTO struct {
	ProjectID    string `json:"projectId"`
	SkillID      string `json:"skillId"`
	UserID       string `json:"userId"`
	EventCount   int    `json:"eventCount"`
	PointsEarned int    `json:"pointsEarned"`
	IsCompleted  bool   `json:"isCompleted"`
	LastEventAt  string `json:"lastEventAt,omitempty"`
}

func toProgressDTO(p core.Progress) ProgressDTO {
	return ProgressDTO{
		ProjectID:    string(p.ProjectID),
		SkillID:      string(p.SkillID),
		UserID:       string(p.UserID),
		EventCount:   p.EventCount,
		PointsEarned: p.PointsEarned,
		IsCompleted:  p.IsCompleted,
		LastEventAt:  formatTime(p.LastEventAt),
	}
}

// EventOutcomeDTO is one entry of a batch response. Exactly one of Progress
// and ErrorCode is set.
type EventOutcomeDTO struct {
	UserID      string       `json:"userId"`
	Progress    *ProgressDTO `json:"progress,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}

type EventBatchResponse struct {
	Results   []EventOutcomeDTO `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

type PointsDTO struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Points    string `json:"points"`
	Unit      string `json:"unit"`
}

// =============================================================================
// USER SUGGESTIONS
// =============================================================================

type SuggestRequest struct {
	Query string `json:"query" validate:"max=256"`
	Field string `json:"field" validate:"required,max=64"`
}

type SuggestResponse struct {
	Option      string   `json:"option"`
	Suggestions []string `json:"suggestions"`
	Superseded  bool     `json:"superseded,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type LoadScenarioResponse struct {
	Scenario ScenarioDTO `json:"scenario"`
	Skills   int         `json:"skills"`
	Edges    int         `json:"edges"`
	Events   int         `json:"events"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode   string   `json:"errorCode"`
	Explanation string   `json:"explanation"`
	Field       string   `json:"field,omitempty"`
	Edge        *EdgeDTO `json:"edge,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
