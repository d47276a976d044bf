/*
handlers.go - HTTP API handlers for the skill engine

PURPOSE:
  Exposes the skills engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to skills.Engine.

ENDPOINTS:
  Containers:
    GET    /projects                                         List projects
    POST   /projects/{projectId}                             Create project
    POST   /projects/{projectId}/subjects/{subjectId}        Create subject

  Skills:
    GET    /projects/{p}/subjects/{s}/skills                 List + subject total
    POST   /projects/{p}/subjects/{s}/skills/{skillId}       Create or update
    GET    /projects/{p}/subjects/{s}/skills/{skillId}       Get
    GET    /projects/{p}/skills/generate-id?name=            ID preview

  Dependencies:
    POST   /projects/{p}/skills/{fromId}/dependency/{toId}   Assign
    DELETE /projects/{p}/skills/{fromId}/dependency/{toId}   Remove
    GET    /projects/{p}/skills/{skillId}/dependencies       Direct + closure

  Events:
    POST   /projects/{p}/skills/{skillId}/events             Record one or many
    GET    /projects/{p}/skills/{skillId}/events/{userId}    Progress
    GET    /projects/{p}/users/{userId}/points               Project points

  Users:
    POST   /users/suggest?option=N                           Suggestions

  Admin:
    POST   /admin/reconcile                                  Rebuild drifted progress
    GET    /admin/drift/{projectId}                          Report drift only

REQUEST FLOW:
  1. Parse path and body (decodeRequest validates DTO tags)
  2. Call the engine
  3. Serialize response, or map the error kind to a status

ERROR HANDLING:
  Errors are returned as {errorCode, explanation}:
  - 400: Validation, conflict, dependency and user lookup failures
  - 404: Referenced project/subject/skill/edge does not exist
  - 500: Store or transaction failures (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo project loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/factory"
	"github.com/warp/skill-engine/logger"
	"github.com/warp/skill-engine/skills"
	"github.com/warp/skill-engine/users"
	"github.com/warp/skill-engine/validation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes a store. Required only by the scenario loader.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Deps are the collaborators of a Handler. Store may be nil, in which case
// scenarios load on top of existing data and fail on conflicting IDs.
type Deps struct {
	Engine    *skills.Engine
	Directory users.Directory
	Store     Resetter
	Log       *logger.Logger

	// Reconciler backs the admin endpoints; one is created when nil.
	Reconciler *Reconciler

	// FormTimeout bounds the async checks behind skill creation.
	FormTimeout time.Duration
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine    *skills.Engine
	dir       users.Directory
	store     Resetter
	log       *logger.Logger
	factory   *factory.ProjectFactory
	suggester *validation.Suggester
	validate  *validator.Validate

	reconciler  *Reconciler
	formTimeout time.Duration
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	timeout := d.FormTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rec := d.Reconciler
	if rec == nil {
		rec = NewReconciler(d.Engine, log, 0)
	}
	return &Handler{
		engine:      d.Engine,
		dir:         d.Directory,
		store:       d.Store,
		log:         log,
		factory:     factory.NewProjectFactory(),
		suggester:   validation.NewSuggester(),
		validate:    validator.New(),
		reconciler:  rec,
		formTimeout: timeout,
	}
}

// =============================================================================
// CONTAINER HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.engine.Definitions.Projects(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject creates a project.
// POST /projects/{projectId}
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateContainerRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	p, err := h.engine.Definitions.CreateProject(r.Context(), projectParam(r), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// CreateSubject creates a subject inside a project.
// POST /projects/{projectId}/subjects/{subjectId}
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateContainerRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	s, err := h.engine.Definitions.CreateSubject(r.Context(), projectParam(r),
		core.SubjectID(chi.URLParam(r, "subjectId")), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(s))
}

// =============================================================================
// SKILL HANDLERS
// =============================================================================

// SaveSkill creates the skill named by the path when it does not exist yet,
// otherwise applies the request as an update.
// POST /projects/{projectId}/subjects/{subjectId}/skills/{skillId}
func (h *Handler) SaveSkill(w http.ResponseWriter, r *http.Request) {
	var req SkillRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	ctx := r.Context()
	projectID := projectParam(r)
	subjectID := core.SubjectID(chi.URLParam(r, "subjectId"))
	skillID := skillParam(r, "skillId")

	existing, err := h.engine.Definitions.Get(ctx, projectID, skillID)
	switch {
	case err == nil:
		if existing.SubjectID != subjectID {
			h.writeError(w, r, core.NotFound(fmt.Sprintf(
				"Skill [%s] does not exist in subject [%s]", skillID, subjectID)))
			return
		}
		sk, err := h.engine.Definitions.Update(ctx, projectID, skillID, skills.UpdateSkill{
			Name:                   req.Name,
			PointIncrement:         req.PointIncrement,
			NumPerformToCompletion: req.NumPerformToCompletion,
			Version:                req.Version,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSkillDTO(sk))
		return
	case !core.IsNotFound(err):
		h.writeError(w, r, err)
		return
	}

	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	if err := h.gateSkillForm(ctx, projectID, skillID, name); err != nil {
		h.writeError(w, r, err)
		return
	}

	in := skills.CreateSkill{ID: skillID, ProjectID: projectID, SubjectID: subjectID, Name: name}
	if req.PointIncrement != nil {
		in.PointIncrement = *req.PointIncrement
	}
	if req.NumPerformToCompletion != nil {
		in.NumPerformToCompletion = *req.NumPerformToCompletion
	}
	sk, err := h.engine.Definitions.Create(ctx, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSkillDTO(sk))
}

// gateSkillForm runs the skill name and ID fields through a Form: the sync
// rules plus the remote availability check must all pass before Create.
func (h *Handler) gateSkillForm(ctx context.Context, projectID core.ProjectID, id core.SkillID, name string) error {
	form := validation.NewForm(ctx)
	defer form.Close()

	form.AddField(validation.FieldSkillName, validation.SkillNameRules(), nil)
	form.AddField(validation.FieldSkillID, validation.SkillIDRules(), h.engine.Definitions.AvailabilityCheck(projectID))
	form.Set(validation.FieldSkillName, name)
	form.Set(validation.FieldSkillID, string(id))

	settleCtx, cancel := context.WithTimeout(ctx, h.formTimeout)
	defer cancel()
	if err := form.Settle(settleCtx); err != nil {
		return fmt.Errorf("skill availability check: %w", err)
	}
	if form.CanSubmit() {
		return nil
	}
	return formError(form)
}

// formError returns the first failing field as a structured error. Async
// results that are already structured (SkillIdTaken) pass through.
func formError(form *validation.Form) error {
	for _, fe := range form.Errors() {
		err := form.FieldError(fe.Field)
		if _, ok := core.AsError(err); ok {
			return err
		}
		return core.Validation(fe.Field, core.CodeInvalidInput, fe.Message)
	}
	return core.Validation("", core.CodeInvalidInput, "Form is not ready to submit")
}

// GetSkill returns one skill.
// GET /projects/{projectId}/subjects/{subjectId}/skills/{skillId}
func (h *Handler) GetSkill(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	subjectID := core.SubjectID(chi.URLParam(r, "subjectId"))
	skillID := skillParam(r, "skillId")

	sk, err := h.engine.Definitions.Get(r.Context(), projectID, skillID)
	if err == nil && sk.SubjectID != subjectID {
		err = core.NotFound(fmt.Sprintf("Skill [%s] does not exist in subject [%s]", skillID, subjectID))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSkillDTO(sk))
}

// ListSkills returns the subject's skills and their TotalPoints sum.
// GET /projects/{projectId}/subjects/{subjectId}/skills
func (h *Handler) ListSkills(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Definitions.List(r.Context(), projectParam(r), core.SubjectID(chi.URLParam(r, "subjectId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := SkillListResponse{Skills: make([]SkillDTO, len(list))}
	for i, sk := range list {
		resp.Skills[i] = toSkillDTO(sk)
		resp.TotalPoints += sk.TotalPoints
	}
	writeJSON(w, http.StatusOK, resp)
}

// GenerateID previews the ID derived from a display name.
// GET /projects/{projectId}/skills/generate-id?name=
func (h *Handler) GenerateID(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := validation.Check(validation.FieldSkillName, name, validation.SkillNameRules()); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := skills.GenerateID(name)
	available, err := h.engine.Definitions.IDAvailable(r.Context(), projectParam(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateIDResponse{SkillID: string(id), Available: available})
}

// =============================================================================
// DEPENDENCY HANDLERS
// =============================================================================

// AssignDependency adds the edge from -> to.
// POST /projects/{projectId}/skills/{fromId}/dependency/{toId}
func (h *Handler) AssignDependency(w http.ResponseWriter, r *http.Request) {
	edge, err := h.engine.Graph.Assign(r.Context(), projectParam(r), skillParam(r, "fromId"), skillParam(r, "toId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeDTO(edge))
}

// RemoveDependency deletes the active edge from -> to.
// DELETE /projects/{projectId}/skills/{fromId}/dependency/{toId}
func (h *Handler) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	from, to := skillParam(r, "fromId"), skillParam(r, "toId")
	if err := h.engine.Graph.Remove(r.Context(), projectID, from, to); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EdgeDTO{ProjectID: string(projectID), From: string(from), To: string(to), Status: "removed"})
}

// ListDependencies returns direct edges and the transitive prerequisites.
// GET /projects/{projectId}/skills/{skillId}/dependencies
func (h *Handler) ListDependencies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := projectParam(r)
	skillID := skillParam(r, "skillId")

	edges, err := h.engine.Graph.List(ctx, projectID, skillID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	prereqs, err := h.engine.Graph.Prerequisites(ctx, projectID, skillID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := DependenciesResponse{
		SkillID:       string(skillID),
		Direct:        make([]EdgeDTO, len(edges)),
		Prerequisites: make([]string, len(prereqs)),
	}
	for i, e := range edges {
		resp.Direct[i] = toEdgeDTO(e)
	}
	for i, id := range prereqs {
		resp.Prerequisites[i] = string(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// RecordEvents records one event for userId, or one per entry of userIds.
// A batch always answers 200 with per-user outcomes.
// POST /projects/{projectId}/skills/{skillId}/events
func (h *Handler) RecordEvents(w http.ResponseWriter, r *http.Request) {
	var req RecordEventsRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	ctx := r.Context()
	projectID := projectParam(r)
	skillID := skillParam(r, "skillId")

	if len(req.UserIDs) == 0 {
		p, err := h.engine.Recorder.Record(ctx, projectID, skillID, req.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProgressDTO(p))
		return
	}
	if req.UserID != "" {
		h.writeError(w, r, core.Validation(validation.FieldUserID, core.CodeInvalidInput,
			"Send either userId or userIds, not both"))
		return
	}

	outcomes := h.engine.Recorder.RecordBatch(ctx, projectID, skillID, req.UserIDs)
	resp := EventBatchResponse{Results: make([]EventOutcomeDTO, len(outcomes))}
	for i, o := range outcomes {
		dto := EventOutcomeDTO{UserID: o.UserID}
		if o.Err != nil {
			resp.Failed++
			payload, _ := h.errorPayload(r, o.Err)
			dto.ErrorCode, dto.Explanation = payload.ErrorCode, payload.Explanation
		} else {
			resp.Succeeded++
			p := toProgressDTO(o.Progress)
			dto.Progress = &p
		}
		resp.Results[i] = dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetProgress returns the (skill, user) aggregate.
// GET /projects/{projectId}/skills/{skillId}/events/{userId}
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Recorder.Progress(r.Context(), projectParam(r), skillParam(r, "skillId"), userParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(p))
}

// GetUserPoints returns the user's points across the project.
// GET /projects/{projectId}/users/{userId}/points
func (h *Handler) GetUserPoints(w http.ResponseWriter, r *http.Request) {
	projectID := projectParam(r)
	userID := userParam(r)
	amt, err := h.engine.Recorder.UserPoints(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PointsDTO{
		ProjectID: string(projectID),
		UserID:    userID,
		Points:    amt.Value.String(),
		Unit:      string(amt.Unit),
	})
}

// =============================================================================
// USER SUGGESTIONS
// =============================================================================

// SuggestUsers returns user IDs matching a partial query. A newer query from
// the same session and field cancels this one; the superseded caller gets an
// empty list flagged superseded.
// POST /users/suggest?option=N
func (h *Handler) SuggestUsers(w http.ResponseWriter, r *http.Request) {
	option, err := users.ParseOption(r.URL.Query().Get("option"))
	if err != nil {
		h.writeError(w, r, core.Validation("option", core.CodeInvalidInput, err.Error()))
		return
	}
	var req SuggestRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	key := sessionKey(r) + "|" + req.Field
	ids, err := h.suggester.Do(r.Context(), key, func(ctx context.Context) ([]string, error) {
		return h.dir.Suggest(ctx, option, req.Query)
	})
	resp := SuggestResponse{Option: option.String(), Suggestions: []string{}}
	switch {
	case errors.Is(err, validation.ErrSuperseded):
		resp.Superseded = true
	case err != nil:
		h.writeError(w, r, core.UserLookup(core.CodeUserLookupFailed, "User suggestions are unavailable", err))
		return
	case ids != nil:
		resp.Suggestions = ids
	}
	writeJSON(w, http.StatusOK, resp)
}

func sessionKey(r *http.Request) string {
	if s := r.Header.Get("X-Session-ID"); s != "" {
		return s
	}
	return r.RemoteAddr
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func projectParam(r *http.Request) core.ProjectID {
	return core.ProjectID(chi.URLParam(r, "projectId"))
}

func skillParam(r *http.Request, name string) core.SkillID {
	return core.SkillID(chi.URLParam(r, name))
}

// userParam decodes the userId segment. User IDs may contain "/", which
// clients send as %2F; chi routes on the escaped path.
func userParam(r *http.Request) string {
	raw := chi.URLParam(r, "userId")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// decodeRequest decodes and validates a JSON body. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, core.Validation("", core.CodeInvalidInput, "Invalid request body: "+err.Error()))
		return false
	}
	return h.validateRequest(w, r, v)
}

// decodeOptional is decodeRequest for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, core.Validation("", core.CodeInvalidInput, "Invalid request body: "+err.Error()))
		return false
	}
	return h.validateRequest(w, r, v)
}

func (h *Handler) validateRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		h.writeError(w, r, core.Validation(lowerFirst(fe.Field()), core.CodeInvalidInput,
			fmt.Sprintf("The %s field failed the %q rule", fe.Field(), fe.Tag())))
		return false
	}
	h.writeError(w, r, core.Validation("", core.CodeInvalidInput, err.Error()))
	return false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps an engine error to a status and an ErrorResponse.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	payload, status := h.errorPayload(r, err)
	writeJSON(w, status, payload)
}

func (h *Handler) errorPayload(r *http.Request, err error) (ErrorResponse, int) {
	if e, ok := core.AsError(err); ok {
		resp := ErrorResponse{ErrorCode: e.Code, Explanation: e.Explanation, Field: e.Field}
		if e.Edge != nil {
			edge := toEdgeDTO(*e.Edge)
			resp.Edge = &edge
		}
		switch {
		case core.IsNotFound(err):
			return resp, http.StatusNotFound
		case core.IsClientError(err):
			return resp, http.StatusBadRequest
		}
	}

	h.log.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	code := "InternalError"
	if errors.Is(err, core.ErrTransactionFailed) {
		code = "TransactionFailed"
	}
	return ErrorResponse{ErrorCode: code, Explanation: "The request could not be completed"}, http.StatusInternalServerError
}
