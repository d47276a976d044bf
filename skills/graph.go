/*
graph.go - Dependency graph manager

PURPOSE:
  Maintains prerequisite edges between skills of one project. An edge
  From -> To means "From depends on To". The graph over Active edges is
  always acyclic and holds at most one Active edge per (From, To).

ASSIGNMENT:
  1. Both skills must exist                        -> NotFound
  2. From == To                                    -> FailedToAssignDependency
  3. Active edge From -> To already exists         -> FailedToAssignDependency
  4. To already reaches From over committed edges  -> FailedToAssignDependency
  5. Insert Pending, flip to Active, one transaction

  Steps 1-5 run under the project lock, so the reachability search always
  sees a consistent committed graph and concurrent assignments are
  serialized. If step 5 fails the transaction rolls back and nothing is
  observable.

SEE ALSO:
  - core/types.go: Edge, EdgeStatus
  - core/store.go: EdgeStore
*/
package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/skill-engine/core"
)

type Graph struct {
	*env
}

// Assign adds the prerequisite from -> to. Rejections return a
// *core.Error of kind Dependency carrying the rejected edge.
func (g *Graph) Assign(ctx context.Context, projectID core.ProjectID, from, to core.SkillID) (edge core.Edge, err error) {
	defer func() { dependencyAssignments.WithLabelValues(outcome(err)).Inc() }()

	edge = core.Edge{ProjectID: projectID, From: from, To: to, Status: core.EdgePending}

	unlock := g.locks.Lock(core.ProjectLockKey(projectID))
	defer unlock()

	for _, id := range []core.SkillID{from, to} {
		sk, err := g.store.GetSkill(ctx, projectID, id)
		if err != nil {
			return core.Edge{}, fmt.Errorf("get skill %s: %w", id, err)
		}
		if sk == nil {
			return core.Edge{}, core.NotFound(fmt.Sprintf("Skill [%s] does not exist in project [%s]", id, projectID))
		}
	}

	if from == to {
		return core.Edge{}, core.Dependency(edge, fmt.Sprintf("Skill [%s] cannot depend on itself", from))
	}

	adj, err := g.adjacency(ctx, projectID)
	if err != nil {
		return core.Edge{}, err
	}
	for _, next := range adj[from] {
		if next == to {
			return core.Edge{}, core.Dependency(edge, fmt.Sprintf("Skill [%s] already depends on [%s]", from, to))
		}
	}
	if path := findPath(adj, to, from); path != nil {
		return core.Edge{}, core.Dependency(edge, fmt.Sprintf(
			"Discovered circular dependency [%s -> %s]", from, joinPath(path)))
	}

	edge.ID = core.EdgeID(g.newID())
	edge.CreatedAt = g.clock()

	err = g.store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.InsertEdge(ctx, edge); err != nil {
			return err
		}
		return tx.SetEdgeStatus(ctx, edge.ID, core.EdgeActive)
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return core.Edge{}, core.Dependency(edge, fmt.Sprintf("Skill [%s] already depends on [%s]", from, to))
		}
		return core.Edge{}, fmt.Errorf("assign dependency %s -> %s: %w: %w", from, to, core.ErrTransactionFailed, err)
	}

	edge.Status = core.EdgeActive
	return edge, nil
}

// List returns the outgoing Active edges of a skill in creation order.
func (g *Graph) List(ctx context.Context, projectID core.ProjectID, skillID core.SkillID) ([]core.Edge, error) {
	sk, err := g.store.GetSkill(ctx, projectID, skillID)
	if err != nil {
		return nil, fmt.Errorf("get skill %s: %w", skillID, err)
	}
	if sk == nil {
		return nil, core.NotFound(fmt.Sprintf("Skill [%s] does not exist in project [%s]", skillID, projectID))
	}

	edges, err := g.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	out := make([]core.Edge, 0, len(edges))
	for _, e := range edges {
		if e.From == skillID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Remove deletes the Active edge from -> to.
func (g *Graph) Remove(ctx context.Context, projectID core.ProjectID, from, to core.SkillID) error {
	unlock := g.locks.Lock(core.ProjectLockKey(projectID))
	defer unlock()

	ok, err := g.store.DeleteEdge(ctx, projectID, from, to)
	if err != nil {
		return fmt.Errorf("delete edge %s -> %s: %w", from, to, err)
	}
	if !ok {
		return core.NotFound(fmt.Sprintf("Skill [%s] does not depend on [%s]", from, to))
	}
	return nil
}

// Prerequisites returns every skill reachable from skillID, nearest first.
func (g *Graph) Prerequisites(ctx context.Context, projectID core.ProjectID, skillID core.SkillID) ([]core.SkillID, error) {
	adj, err := g.adjacency(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []core.SkillID
	seen := map[core.SkillID]bool{skillID: true}
	queue := []core.SkillID{skillID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}

// =============================================================================
// REACHABILITY
// =============================================================================

func (g *Graph) adjacency(ctx context.Context, projectID core.ProjectID) (map[core.SkillID][]core.SkillID, error) {
	edges, err := g.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	adj := make(map[core.SkillID][]core.SkillID)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj, nil
}

// findPath runs an iterative BFS and returns the path start..target, or nil.
func findPath(adj map[core.SkillID][]core.SkillID, start, target core.SkillID) []core.SkillID {
	parent := map[core.SkillID]core.SkillID{}
	seen := map[core.SkillID]bool{start: true}
	queue := []core.SkillID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			var path []core.SkillID
			for n := cur; ; n = parent[n] {
				path = append(path, n)
				if n == start {
					break
				}
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func joinPath(path []core.SkillID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
