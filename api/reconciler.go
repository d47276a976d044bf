/*
reconciler.go - Background progress reconciliation

PURPOSE:
  Periodically re-derives every project's progress aggregates from the
  append-only event log and repairs rows that drifted (for example after a
  manual database edit or a partially restored backup).

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each pass lists projects and calls Recorder.Rebuild per project
  - Rebuild runs in one store transaction per project; a failing project is
    logged and the pass continues with the next one
  - Also exposed as POST /admin/reconcile for manual runs

USAGE:
  rec := NewReconciler(engine, log, time.Hour)
  rec.Start()
  // ... later
  rec.Stop()

SEE ALSO:
  - skills/recorder.go: Drift and Rebuild
  - core/ledger.go: Replay
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/logger"
	"github.com/warp/skill-engine/skills"
)

// Reconciler rebuilds drifted progress rows on a timer.
type Reconciler struct {
	engine        *skills.Engine
	log           *logger.Logger
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	Projects int      `json:"projects"`
	Repaired []string `json:"repaired"`
	Failed   []string `json:"failed,omitempty"`
}

func NewReconciler(engine *skills.Engine, log *logger.Logger, interval time.Duration) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reconciler{engine: engine, log: log, CheckInterval: interval}
}

// Start begins the background loop. The first pass runs immediately.
func (rc *Reconciler) Start() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.ticker != nil {
		return
	}

	rc.ticker = time.NewTicker(rc.CheckInterval)
	rc.stop = make(chan struct{})
	rc.wg.Add(1)
	go rc.run(rc.ticker, rc.stop)

	rc.log.Info("reconciler started", "interval", rc.CheckInterval)
}

// Stop halts the loop and waits for an in-flight pass.
func (rc *Reconciler) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.ticker == nil {
		return
	}
	rc.ticker.Stop()
	close(rc.stop)
	rc.wg.Wait()
	rc.ticker = nil
	rc.log.Info("reconciler stopped")
}

func (rc *Reconciler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rc.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rc.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rc.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one reconciliation pass over every project.
func (rc *Reconciler) RunNow(ctx context.Context) ReconcileReport {
	report := ReconcileReport{Repaired: []string{}}

	projects, err := rc.engine.Definitions.Projects(ctx)
	if err != nil {
		rc.log.Error("reconcile: list projects", "error", err)
		report.Failed = append(report.Failed, "*")
		return report
	}
	report.Projects = len(projects)

	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		keys, err := rc.engine.Recorder.Rebuild(ctx, p.ID)
		if err != nil {
			rc.log.Error("reconcile: rebuild project", "project", p.ID, "error", err)
			report.Failed = append(report.Failed, string(p.ID))
			continue
		}
		for _, k := range keys {
			report.Repaired = append(report.Repaired, k.String())
		}
		if len(keys) > 0 {
			rc.log.Warn("reconcile: repaired drifted progress", "project", p.ID, "rows", len(keys))
		}
	}

	if len(report.Repaired) > 0 || len(report.Failed) > 0 {
		rc.log.Info("reconcile: completed", "projects", report.Projects, "repaired", len(report.Repaired), "failed", len(report.Failed))
	}
	return report
}

// ProjectDrift lists drifted progress keys of one project without repairing.
func (rc *Reconciler) ProjectDrift(ctx context.Context, projectID core.ProjectID) ([]core.ProgressKey, error) {
	return rc.engine.Recorder.Drift(ctx, projectID)
}

// TriggerReconcile runs one pass synchronously.
// POST /admin/reconcile
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reconciler.RunNow(r.Context()))
}

// GetDrift reports drifted progress rows of a project.
// GET /admin/drift/{projectId}
func (h *Handler) GetDrift(w http.ResponseWriter, r *http.Request) {
	keys, err := h.reconciler.ProjectDrift(r.Context(), projectParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"drifted": out})
}
