// Package store provides in-memory core.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/skill-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

type skillKey struct {
	ProjectID core.ProjectID
	ID        core.SkillID
}

type subjectKey struct {
	ProjectID core.ProjectID
	ID        core.SubjectID
}

type state struct {
	seq      int64
	projects map[core.ProjectID]core.Project
	subjects map[subjectKey]core.Subject
	skills   map[skillKey]core.Skill
	skillSeq map[skillKey]int64
	edges    map[core.EdgeID]core.Edge
	edgeSeq  map[core.EdgeID]int64
	events   map[core.ProgressKey][]core.SkillEvent
	progress map[core.ProgressKey]core.Progress
}

func newState() *state {
	return &state{
		projects: make(map[core.ProjectID]core.Project),
		subjects: make(map[subjectKey]core.Subject),
		skills:   make(map[skillKey]core.Skill),
		skillSeq: make(map[skillKey]int64),
		edges:    make(map[core.EdgeID]core.Edge),
		edgeSeq:  make(map[core.EdgeID]int64),
		events:   make(map[core.ProgressKey][]core.SkillEvent),
		progress: make(map[core.ProgressKey]core.Progress),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ core.Store = (*Memory)(nil)

// =============================================================================
// CONTAINERS
// =============================================================================

func (m *Memory) SaveProject(_ context.Context, p core.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveProject(p)
}

func (m *Memory) GetProject(_ context.Context, id core.ProjectID) (*core.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProject(id), nil
}

func (m *Memory) ListProjects(_ context.Context) ([]core.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listProjects(), nil
}

func (m *Memory) SaveSubject(_ context.Context, s core.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveSubject(s)
}

func (m *Memory) GetSubject(_ context.Context, projectID core.ProjectID, id core.SubjectID) (*core.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSubject(projectID, id), nil
}

// =============================================================================
// SKILLS
// =============================================================================

func (m *Memory) InsertSkill(_ context.Context, s core.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertSkill(s)
}

func (m *Memory) UpdateSkill(_ context.Context, s core.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateSkill(s)
}

func (m *Memory) GetSkill(_ context.Context, projectID core.ProjectID, id core.SkillID) (*core.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSkill(projectID, id), nil
}

func (m *Memory) ListSkills(_ context.Context, projectID core.ProjectID, subjectID core.SubjectID) ([]core.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSkills(projectID, subjectID), nil
}

// =============================================================================
// EDGES
// =============================================================================

func (m *Memory) InsertEdge(_ context.Context, e core.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertEdge(e)
}

func (m *Memory) SetEdgeStatus(_ context.Context, id core.EdgeID, status core.EdgeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setEdgeStatus(id, status)
}

func (m *Memory) DeleteEdge(_ context.Context, projectID core.ProjectID, from, to core.SkillID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteEdge(projectID, from, to), nil
}

func (m *Memory) ListEdges(_ context.Context, projectID core.ProjectID) ([]core.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listEdges(projectID), nil
}

// =============================================================================
// EVENTS + PROGRESS
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, e core.SkillEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.appendEvent(e)
	return nil
}

func (m *Memory) LoadEvents(_ context.Context, key core.ProgressKey) ([]core.SkillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.loadEvents(key), nil
}

func (m *Memory) LoadUserEvents(_ context.Context, projectID core.ProjectID, userID core.UserID) ([]core.SkillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.loadFiltered(func(k core.ProgressKey) bool {
		return k.ProjectID == projectID && k.UserID == userID
	}), nil
}

func (m *Memory) LoadProjectEvents(_ context.Context, projectID core.ProjectID) ([]core.SkillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.loadFiltered(func(k core.ProgressKey) bool { return k.ProjectID == projectID }), nil
}

func (m *Memory) CountEvents(_ context.Context, key core.ProgressKey, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.countEvents(key, from, to), nil
}

func (m *Memory) IncrementProgress(_ context.Context, e core.SkillEvent) (core.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.incrementProgress(e), nil
}

func (m *Memory) GetProgress(_ context.Context, key core.ProgressKey) (*core.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProgress(key), nil
}

func (m *Memory) PutProgress(_ context.Context, p core.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.progress[p.Key()] = p
	return nil
}

func (m *Memory) ListProgress(_ context.Context, projectID core.ProjectID) ([]core.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listProgress(projectID), nil
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and transactional views
// =============================================================================

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func (s *state) saveProject(p core.Project) error {
	if _, ok := s.projects[p.ID]; ok {
		return core.ErrDuplicateKey
	}
	s.projects[p.ID] = p
	return nil
}

func (s *state) getProject(id core.ProjectID) *core.Project {
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) listProjects() []core.Project {
	out := make([]core.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) saveSubject(sub core.Subject) error {
	k := subjectKey{ProjectID: sub.ProjectID, ID: sub.ID}
	if _, ok := s.subjects[k]; ok {
		return core.ErrDuplicateKey
	}
	s.subjects[k] = sub
	return nil
}

func (s *state) getSubject(projectID core.ProjectID, id core.SubjectID) *core.Subject {
	sub, ok := s.subjects[subjectKey{ProjectID: projectID, ID: id}]
	if !ok {
		return nil
	}
	return &sub
}

func (s *state) insertSkill(sk core.Skill) error {
	k := skillKey{ProjectID: sk.ProjectID, ID: sk.ID}
	if _, ok := s.skills[k]; ok {
		return core.ErrDuplicateKey
	}
	s.skills[k] = sk
	s.skillSeq[k] = s.next()
	return nil
}

func (s *state) updateSkill(sk core.Skill) error {
	k := skillKey{ProjectID: sk.ProjectID, ID: sk.ID}
	if _, ok := s.skills[k]; !ok {
		return fmt.Errorf("update skill %s: %w", sk.ID, core.ErrNotFound)
	}
	s.skills[k] = sk
	return nil
}

func (s *state) getSkill(projectID core.ProjectID, id core.SkillID) *core.Skill {
	sk, ok := s.skills[skillKey{ProjectID: projectID, ID: id}]
	if !ok {
		return nil
	}
	return &sk
}

func (s *state) listSkills(projectID core.ProjectID, subjectID core.SubjectID) []core.Skill {
	var out []core.Skill
	for k, sk := range s.skills {
		if k.ProjectID != projectID {
			continue
		}
		if subjectID != "" && sk.SubjectID != subjectID {
			continue
		}
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.skillSeq[skillKey{ProjectID: out[i].ProjectID, ID: out[i].ID}] <
			s.skillSeq[skillKey{ProjectID: out[j].ProjectID, ID: out[j].ID}]
	})
	return out
}

func (s *state) insertEdge(e core.Edge) error {
	for _, existing := range s.edges {
		if existing.Status == core.EdgeActive && existing.ProjectID == e.ProjectID &&
			existing.From == e.From && existing.To == e.To {
			return core.ErrDuplicateKey
		}
	}
	s.edges[e.ID] = e
	s.edgeSeq[e.ID] = s.next()
	return nil
}

func (s *state) setEdgeStatus(id core.EdgeID, status core.EdgeStatus) error {
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, core.ErrNotFound)
	}
	if status == core.EdgeActive {
		for otherID, other := range s.edges {
			if otherID != id && other.Status == core.EdgeActive && other.ProjectID == e.ProjectID &&
				other.From == e.From && other.To == e.To {
				return core.ErrDuplicateKey
			}
		}
	}
	e.Status = status
	s.edges[id] = e
	return nil
}

func (s *state) deleteEdge(projectID core.ProjectID, from, to core.SkillID) bool {
	for id, e := range s.edges {
		if e.Status == core.EdgeActive && e.ProjectID == projectID && e.From == from && e.To == to {
			delete(s.edges, id)
			delete(s.edgeSeq, id)
			return true
		}
	}
	return false
}

func (s *state) listEdges(projectID core.ProjectID) []core.Edge {
	var out []core.Edge
	for _, e := range s.edges {
		if e.ProjectID == projectID && e.Status == core.EdgeActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.edgeSeq[out[i].ID] < s.edgeSeq[out[j].ID] })
	return out
}

func (s *state) appendEvent(e core.SkillEvent) {
	k := core.ProgressKey{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID}
	evs := s.events[k]

	// Keep each log sorted by OccurredAt; equal timestamps keep arrival order.
	i := sort.Search(len(evs), func(i int) bool {
		return evs[i].OccurredAt.After(e.OccurredAt)
	})
	evs = append(evs, core.SkillEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = e
	s.events[k] = evs
}

func (s *state) loadEvents(key core.ProgressKey) []core.SkillEvent {
	out := make([]core.SkillEvent, len(s.events[key]))
	copy(out, s.events[key])
	return out
}

func (s *state) loadFiltered(match func(core.ProgressKey) bool) []core.SkillEvent {
	var out []core.SkillEvent
	for k, evs := range s.events {
		if match(k) {
			out = append(out, evs...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

func (s *state) countEvents(key core.ProgressKey, from, to time.Time) int {
	n := 0
	for _, e := range s.events[key] {
		if e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.OccurredAt.Before(to) {
			continue
		}
		n++
	}
	return n
}

func (s *state) incrementProgress(e core.SkillEvent) core.Progress {
	k := core.ProgressKey{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID}
	p, ok := s.progress[k]
	if !ok {
		p = core.Progress{ProjectID: e.ProjectID, SkillID: e.SkillID, UserID: e.UserID}
	}
	p.Apply(e)
	s.progress[k] = p
	return p
}

func (s *state) getProgress(key core.ProgressKey) *core.Progress {
	p, ok := s.progress[key]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) listProgress(projectID core.ProjectID) []core.Progress {
	var out []core.Progress
	for k, p := range s.progress {
		if k.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.subjects {
		c.subjects[k] = v
	}
	for k, v := range s.skills {
		c.skills[k] = v
	}
	for k, v := range s.skillSeq {
		c.skillSeq[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.edgeSeq {
		c.edgeSeq[k] = v
	}
	for k, v := range s.events {
		c.events[k] = append([]core.SkillEvent{}, v...)
	}
	for k, v := range s.progress {
		c.progress[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ core.TxStore = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(core.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()

	if err := fn(&txMemoryView{st: tm.st}); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// Reset drops all state.
func (tm *TxMemory) Reset(_ context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.st = newState()
	return nil
}

// txMemoryView runs against the parent state while the parent lock is held.
type txMemoryView struct {
	st *state
}

func (v *txMemoryView) SaveProject(_ context.Context, p core.Project) error {
	return v.st.saveProject(p)
}

func (v *txMemoryView) GetProject(_ context.Context, id core.ProjectID) (*core.Project, error) {
	return v.st.getProject(id), nil
}

func (v *txMemoryView) ListProjects(_ context.Context) ([]core.Project, error) {
	return v.st.listProjects(), nil
}

func (v *txMemoryView) SaveSubject(_ context.Context, s core.Subject) error {
	return v.st.saveSubject(s)
}

func (v *txMemoryView) GetSubject(_ context.Context, projectID core.ProjectID, id core.SubjectID) (*core.Subject, error) {
	return v.st.getSubject(projectID, id), nil
}

func (v *txMemoryView) InsertSkill(_ context.Context, s core.Skill) error {
	return v.st.insertSkill(s)
}

func (v *txMemoryView) UpdateSkill(_ context.Context, s core.Skill) error {
	return v.st.updateSkill(s)
}

func (v *txMemoryView) GetSkill(_ context.Context, projectID core.ProjectID, id core.SkillID) (*core.Skill, error) {
	return v.st.getSkill(projectID, id), nil
}

func (v *txMemoryView) ListSkills(_ context.Context, projectID core.ProjectID, subjectID core.SubjectID) ([]core.Skill, error) {
	return v.st.listSkills(projectID, subjectID), nil
}

func (v *txMemoryView) InsertEdge(_ context.Context, e core.Edge) error {
	return v.st.insertEdge(e)
}

func (v *txMemoryView) SetEdgeStatus(_ context.Context, id core.EdgeID, status core.EdgeStatus) error {
	return v.st.setEdgeStatus(id, status)
}

func (v *txMemoryView) DeleteEdge(_ context.Context, projectID core.ProjectID, from, to core.SkillID) (bool, error) {
	return v.st.deleteEdge(projectID, from, to), nil
}

func (v *txMemoryView) ListEdges(_ context.Context, projectID core.ProjectID) ([]core.Edge, error) {
	return v.st.listEdges(projectID), nil
}

func (v *txMemoryView) AppendEvent(_ context.Context, e core.SkillEvent) error {
	v.st.appendEvent(e)
	return nil
}

func (v *txMemoryView) LoadEvents(_ context.Context, key core.ProgressKey) ([]core.SkillEvent, error) {
	return v.st.loadEvents(key), nil
}

func (v *txMemoryView) LoadUserEvents(_ context.Context, projectID core.ProjectID, userID core.UserID) ([]core.SkillEvent, error) {
	return v.st.loadFiltered(func(k core.ProgressKey) bool {
		return k.ProjectID == projectID && k.UserID == userID
	}), nil
}

func (v *txMemoryView) LoadProjectEvents(_ context.Context, projectID core.ProjectID) ([]core.SkillEvent, error) {
	return v.st.loadFiltered(func(k core.ProgressKey) bool { return k.ProjectID == projectID }), nil
}

func (v *txMemoryView) CountEvents(_ context.Context, key core.ProgressKey, from, to time.Time) (int, error) {
	return v.st.countEvents(key, from, to), nil
}

func (v *txMemoryView) IncrementProgress(_ context.Context, e core.SkillEvent) (core.Progress, error) {
	return v.st.incrementProgress(e), nil
}

func (v *txMemoryView) GetProgress(_ context.Context, key core.ProgressKey) (*core.Progress, error) {
	return v.st.getProgress(key), nil
}

func (v *txMemoryView) PutProgress(_ context.Context, p core.Progress) error {
	v.st.progress[p.Key()] = p
	return nil
}

func (v *txMemoryView) ListProgress(_ context.Context, projectID core.ProjectID) ([]core.Progress, error) {
	return v.st.listProgress(projectID), nil
}
