package skills_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/core/store"
	"github.com/warp/skill-engine/skills"
	"github.com/warp/skill-engine/users"
)

// =============================================================================
// FIXTURES
// =============================================================================

// countingDirectory records how many lookups reached the directory.
type countingDirectory struct {
	users.Directory
	calls int64
}

func (c *countingDirectory) Lookup(ctx context.Context, id string) (users.User, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.Directory.Lookup(ctx, id)
}

// failingTx injects a failure into one write inside every transaction.
type failingTx struct {
	core.TxStore
	failOn string
}

func (f *failingTx) WithTx(ctx context.Context, fn func(core.Store) error) error {
	return f.TxStore.WithTx(ctx, func(tx core.Store) error {
		return fn(&failingStore{Store: tx, failOn: f.failOn})
	})
}

type failingStore struct {
	core.Store
	failOn string
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) SetEdgeStatus(ctx context.Context, id core.EdgeID, st core.EdgeStatus) error {
	if s.failOn == "edge" {
		return errDiskFull
	}
	return s.Store.SetEdgeStatus(ctx, id, st)
}

func (s *failingStore) IncrementProgress(ctx context.Context, e core.SkillEvent) (core.Progress, error) {
	if s.failOn == "progress" {
		return core.Progress{}, errDiskFull
	}
	return s.Store.IncrementProgress(ctx, e)
}

type fixture struct {
	ctx   context.Context
	store core.TxStore
	dir   *countingDirectory
	eng   *skills.Engine
}

const (
	proj = core.ProjectID("proj1")
	subj = core.SubjectID("subj1")
)

func newFixture(t *testing.T, opts ...skills.Option) *fixture {
	t.Helper()
	mem := users.NewMemory(false)
	mem.Add(users.OptionOne, "alice", "bob", "carol", "dave", "erin", "foo/bar", "user@#$&*")
	return newFixtureWith(t, store.NewTxMemory(), mem, opts...)
}

func newFixtureWith(t *testing.T, st core.TxStore, dir users.Directory, opts ...skills.Option) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: st, dir: &countingDirectory{Directory: dir}}
	f.eng = skills.New(st, f.dir, opts...)
	_, err := f.eng.Definitions.CreateProject(f.ctx, proj, "Project 1")
	require.NoError(t, err)
	_, err = f.eng.Definitions.CreateSubject(f.ctx, proj, subj, "Subject 1")
	require.NoError(t, err)
	return f
}

func (f *fixture) skill(t *testing.T, name string, inc, num int) core.Skill {
	t.Helper()
	sk, err := f.eng.Definitions.Create(f.ctx, skills.CreateSkill{
		ProjectID: proj, SubjectID: subj, Name: name,
		PointIncrement: inc, NumPerformToCompletion: num,
	})
	require.NoError(t, err)
	return sk
}

func intPtr(n int) *int { return &n }

func requireKind(t *testing.T, err error, kind core.Kind, code string) *core.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := core.AsError(err)
	require.True(t, ok, "expected structured error, got %v", err)
	assert.Equal(t, kind, e.Kind)
	assert.Equal(t, code, e.Code)
	return e
}

// =============================================================================
// IDENTIFIER GENERATOR
// =============================================================================

func TestGenerateID(t *testing.T) {
	cases := []struct {
		name string
		want core.SkillID
	}{
		{"Skill 1", "Skill1Skill"},
		{"!L@o#t$s of %s^p&e*c(i)a_l++_|}{P c'ha'rs", "LotsofspecialPcharsSkill"},
		{"Very Great Skill", "VeryGreatSkill"},
		{"", "Skill"},
		{"   ", "Skill"},
		{"Café au lait", "CafaulaitSkill"},
		{"skill", "skillSkill"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, skills.GenerateID(c.name), c.name)
	}
}

func TestGenerateID_DeterministicAndAlphanumeric(t *testing.T) {
	names := []string{"a b c", "x/y/z", "日本語 skill 9", "Skill Skill", "1", "@@@"}
	for _, name := range names {
		first := skills.GenerateID(name)
		assert.Equal(t, first, skills.GenerateID(name))
		assert.True(t, strings.HasSuffix(string(first), skills.IDSuffix))
		assert.True(t, skills.ValidID(first), "%q -> %q", name, first)
	}
}

// =============================================================================
// DEFINITIONS
// =============================================================================

func TestDefinitions_TotalPointsFollowsUpdates(t *testing.T) {
	// GIVEN: A skill with increment 10 and 5 occurrences
	// WHEN: Occurrences change from 5 to 10
	// THEN: TotalPoints goes from 50 to 100 and the read observes it
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)
	assert.Equal(t, core.SkillID("Skill1Skill"), sk.ID)
	assert.Equal(t, 50, sk.TotalPoints)
	assert.Equal(t, 1, sk.Version)

	upd, err := f.eng.Definitions.Update(f.ctx, proj, sk.ID, skills.UpdateSkill{NumPerformToCompletion: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, 100, upd.TotalPoints)
	assert.Equal(t, 2, upd.Version)

	got, err := f.eng.Definitions.Get(f.ctx, proj, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.TotalPoints)
	assert.Equal(t, sk.ID, got.ID)
}

func TestDefinitions_TotalPointsInvariant(t *testing.T) {
	f := newFixture(t)
	for inc := 1; inc <= 4; inc++ {
		for num := 1; num <= 4; num++ {
			sk := f.skill(t, fmt.Sprintf("S %d %d", inc, num), inc, num)
			assert.Equal(t, inc*num, sk.TotalPoints)

			upd, err := f.eng.Definitions.Update(f.ctx, proj, sk.ID, skills.UpdateSkill{PointIncrement: intPtr(num), NumPerformToCompletion: intPtr(inc + 1)})
			require.NoError(t, err)
			assert.Equal(t, num*(inc+1), upd.TotalPoints)
		}
	}
}

func TestDefinitions_CreateRejections(t *testing.T) {
	f := newFixture(t)
	f.skill(t, "Skill 1", 10, 5)

	_, err := f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: proj, SubjectID: subj, Name: "Skill   1!", PointIncrement: 1, NumPerformToCompletion: 1})
	requireKind(t, err, core.KindConflict, core.CodeSkillIDTaken)

	_, err = f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: proj, SubjectID: subj, Name: "x", PointIncrement: 0, NumPerformToCompletion: 1})
	requireKind(t, err, core.KindValidation, core.CodeInvalidInput)

	_, err = f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: proj, SubjectID: subj, Name: "", PointIncrement: 1, NumPerformToCompletion: 1})
	requireKind(t, err, core.KindValidation, core.CodeInvalidInput)

	_, err = f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ID: "bad id", ProjectID: proj, SubjectID: subj, Name: "x", PointIncrement: 1, NumPerformToCompletion: 1})
	requireKind(t, err, core.KindValidation, core.CodeInvalidInput)

	_, err = f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: proj, SubjectID: "nope", Name: "x", PointIncrement: 1, NumPerformToCompletion: 1})
	assert.True(t, core.IsNotFound(err))

	_, err = f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: "nope", SubjectID: subj, Name: "x", PointIncrement: 1, NumPerformToCompletion: 1})
	assert.True(t, core.IsNotFound(err))
}

func TestDefinitions_ExplicitID(t *testing.T) {
	f := newFixture(t)
	sk, err := f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ID: "skill1", ProjectID: proj, SubjectID: subj, Name: "Skill 1", PointIncrement: 10, NumPerformToCompletion: 5})
	require.NoError(t, err)
	assert.Equal(t, core.SkillID("skill1"), sk.ID)

	ok, err := f.eng.Definitions.IDAvailable(f.ctx, proj, "skill1")
	require.NoError(t, err)
	assert.False(t, ok)

	check := f.eng.Definitions.AvailabilityCheck(proj)
	requireKind(t, check(f.ctx, "skill1"), core.KindConflict, core.CodeSkillIDTaken)
	assert.NoError(t, check(f.ctx, "skill2"))
}

func TestDefinitions_UpdateNotFoundAndStaleVersion(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Definitions.Update(f.ctx, proj, "missingSkill", skills.UpdateSkill{PointIncrement: intPtr(1)})
	assert.True(t, core.IsNotFound(err))

	sk := f.skill(t, "Skill 1", 10, 5)
	_, err = f.eng.Definitions.Update(f.ctx, proj, sk.ID, skills.UpdateSkill{PointIncrement: intPtr(20), Version: sk.Version})
	require.NoError(t, err)

	_, err = f.eng.Definitions.Update(f.ctx, proj, sk.ID, skills.UpdateSkill{PointIncrement: intPtr(30), Version: sk.Version})
	requireKind(t, err, core.KindConflict, core.CodeStaleSkillVersion)

	got, err := f.eng.Definitions.Get(f.ctx, proj, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.PointIncrement)
	assert.Equal(t, 100, got.TotalPoints)
}

func TestDefinitions_ConcurrentCreateSameIDAdmitsOne(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	var ok, conflicts int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Definitions.Create(f.ctx, skills.CreateSkill{ProjectID: proj, SubjectID: subj, Name: "Race", PointIncrement: 1, NumPerformToCompletion: 1})
			if err == nil {
				atomic.AddInt64(&ok, 1)
			} else if errors.Is(err, core.ErrConflict) {
				atomic.AddInt64(&conflicts, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok)
	assert.Equal(t, int64(19), conflicts)
}

func TestDefinitions_ListAndSubjectTotals(t *testing.T) {
	f := newFixture(t)
	f.skill(t, "A", 10, 5)
	f.skill(t, "B", 5, 2)
	f.skill(t, "C", 1, 1)

	list, err := f.eng.Definitions.List(f.ctx, proj, subj)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []core.SkillID{"ASkill", "BSkill", "CSkill"}, []core.SkillID{list[0].ID, list[1].ID, list[2].ID})

	total, err := f.eng.Definitions.SubjectTotals(f.ctx, proj, subj)
	require.NoError(t, err)
	assert.Equal(t, 61, total)
}

func TestDefinitions_ContainerConflicts(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Definitions.CreateProject(f.ctx, proj, "")
	requireKind(t, err, core.KindConflict, core.CodeProjectExists)

	_, err = f.eng.Definitions.CreateSubject(f.ctx, proj, subj, "")
	requireKind(t, err, core.KindConflict, core.CodeSubjectExists)

	_, err = f.eng.Definitions.CreateSubject(f.ctx, "ghost", "s", "")
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// DEPENDENCY GRAPH
// =============================================================================

func TestGraph_AssignAndList(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1), f.skill(t, "C", 1, 1)

	e1, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EdgeActive, e1.Status)
	assert.NotEmpty(t, e1.ID)

	_, err = f.eng.Graph.Assign(f.ctx, proj, a.ID, c.ID)
	require.NoError(t, err)

	edges, err := f.eng.Graph.List(f.ctx, proj, a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, b.ID, edges[0].To)
	assert.Equal(t, c.ID, edges[1].To)
}

func TestGraph_RejectsSelfLoopAndDuplicate(t *testing.T) {
	f := newFixture(t)
	a, b := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1)

	_, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, a.ID)
	e := requireKind(t, err, core.KindDependency, core.CodeFailedToAssignDependency)
	require.NotNil(t, e.Edge)
	assert.Equal(t, core.EdgeRejected, e.Edge.Status)

	_, err = f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	requireKind(t, err, core.KindDependency, core.CodeFailedToAssignDependency)

	edges, err := f.eng.Graph.List(f.ctx, proj, a.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestGraph_CycleRejectedAndGraphUnchanged(t *testing.T) {
	// GIVEN: A -> B -> C
	// WHEN: C -> A is assigned
	// THEN: FailedToAssignDependency, explanation names the cycle, graph unchanged
	f := newFixture(t)
	a, b, c := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1), f.skill(t, "C", 1, 1)
	_, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.eng.Graph.Assign(f.ctx, proj, b.ID, c.ID)
	require.NoError(t, err)

	before, err := f.store.ListEdges(f.ctx, proj)
	require.NoError(t, err)

	_, err = f.eng.Graph.Assign(f.ctx, proj, c.ID, a.ID)
	e := requireKind(t, err, core.KindDependency, core.CodeFailedToAssignDependency)
	assert.Contains(t, e.Explanation, "CSkill -> ASkill -> BSkill -> CSkill")

	after, err := f.store.ListEdges(f.ctx, proj)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// repeating the failed request fails the same way
	_, err = f.eng.Graph.Assign(f.ctx, proj, c.ID, a.ID)
	requireKind(t, err, core.KindDependency, core.CodeFailedToAssignDependency)
}

func TestGraph_MissingSkillIsNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.skill(t, "A", 1, 1)
	_, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, "ghostSkill")
	assert.True(t, core.IsNotFound(err))
}

func TestGraph_FailedCommitLeavesNothing(t *testing.T) {
	// GIVEN: A store whose activation step fails
	// WHEN: An edge is assigned
	// THEN: The error wraps ErrTransactionFailed and no edge (pending or active) survives
	mem := users.NewMemory(true)
	inner := store.NewTxMemory()
	f := newFixtureWith(t, &failingTx{TxStore: inner, failOn: "edge"}, mem)
	a, b := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1)

	_, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransactionFailed)
	assert.ErrorIs(t, err, errDiskFull)

	edges, err := inner.ListEdges(f.ctx, proj)
	require.NoError(t, err)
	assert.Empty(t, edges)

	// the same store accepts the edge once writes succeed again
	ok := skills.New(inner, mem)
	_, err = ok.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	assert.NoError(t, err)
}

func TestGraph_ConcurrentOppositeEdgesNeverFormCycle(t *testing.T) {
	f := newFixture(t)
	a, b := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1)

	var wg sync.WaitGroup
	var okCount int64
	for i := 0; i < 10; i++ {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.eng.Graph.Assign(f.ctx, proj, from, to); err == nil {
				atomic.AddInt64(&okCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), okCount)
	edges, err := f.store.ListEdges(f.ctx, proj)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestGraph_RemoveAndPrerequisites(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.skill(t, "A", 1, 1), f.skill(t, "B", 1, 1), f.skill(t, "C", 1, 1)
	_, err := f.eng.Graph.Assign(f.ctx, proj, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.eng.Graph.Assign(f.ctx, proj, b.ID, c.ID)
	require.NoError(t, err)

	pre, err := f.eng.Graph.Prerequisites(f.ctx, proj, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.SkillID{b.ID, c.ID}, pre)

	require.NoError(t, f.eng.Graph.Remove(f.ctx, proj, b.ID, c.ID))
	assert.True(t, core.IsNotFound(f.eng.Graph.Remove(f.ctx, proj, b.ID, c.ID)))

	// C -> A is legal once B -> C is gone
	_, err = f.eng.Graph.Assign(f.ctx, proj, c.ID, a.ID)
	assert.NoError(t, err)
}

// =============================================================================
// RECORDER
// =============================================================================

func TestRecorder_EndToEndFiveUsersFiveEvents(t *testing.T) {
	// GIVEN: A skill worth 10 points, 5 occurrences to complete (total 50)
	// WHEN: 5 distinct users each record 5 events
	// THEN: Each user's progress is independent: count 5, 50 points, completed
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)
	assert.Equal(t, 50, sk.TotalPoints)

	people := []string{"alice", "bob", "carol", "dave", "erin"}
	for _, u := range people {
		var p core.Progress
		for i := 0; i < 5; i++ {
			var err error
			p, err = f.eng.Recorder.Record(f.ctx, proj, sk.ID, u)
			require.NoError(t, err)
			assert.Equal(t, i+1, p.EventCount)
			assert.Equal(t, i == 4, p.IsCompleted)
		}
		assert.Equal(t, 50, p.PointsEarned)
	}

	for _, u := range people {
		p, err := f.eng.Recorder.Progress(f.ctx, proj, sk.ID, u)
		require.NoError(t, err)
		assert.Equal(t, 5, p.EventCount)
		assert.Equal(t, 50, p.PointsEarned)
		assert.True(t, p.IsCompleted)
	}
}

func TestRecorder_WhitespaceRejectedBeforeLookup(t *testing.T) {
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)

	_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "user a")
	e := requireKind(t, err, core.KindValidation, core.CodeInvalidInput)
	assert.Equal(t, "The User Id field may not contain spaces", e.Explanation)
	assert.Equal(t, int64(0), atomic.LoadInt64(&f.dir.calls))

	p, err := f.eng.Recorder.Progress(f.ctx, proj, sk.ID, "user a")
	require.NoError(t, err)
	assert.Equal(t, 0, p.EventCount)
}

func TestRecorder_UnknownUser(t *testing.T) {
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)

	_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "mallory")
	requireKind(t, err, core.KindUserLookup, core.CodeUserNotFound)
	assert.ErrorIs(t, err, users.ErrUserNotFound)

	events, err := f.eng.Recorder.Events(f.ctx, proj, sk.ID, "mallory")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorder_SpecialCharacterUsers(t *testing.T) {
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)
	for _, u := range []string{"foo/bar", "user@#$&*"} {
		p, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, u)
		require.NoError(t, err, u)
		assert.Equal(t, 1, p.EventCount)
	}
}

func TestRecorder_BatchFailuresAreIndependent(t *testing.T) {
	// GIVEN: A batch interleaving valid users with invalid and unknown ones
	// WHEN: The batch is recorded
	// THEN: Outcomes come back in order and only the bad entries fail
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)

	in := []string{"alice", "user a", "bob", "mallory", "carol"}
	out := f.eng.Recorder.RecordBatch(f.ctx, proj, sk.ID, in)
	require.Len(t, out, len(in))

	for i, o := range out {
		assert.Equal(t, in[i], o.UserID)
	}
	assert.NoError(t, out[0].Err)
	assert.True(t, errors.Is(out[1].Err, core.ErrValidation))
	assert.NoError(t, out[2].Err)
	assert.True(t, errors.Is(out[3].Err, core.ErrUserLookup))
	assert.NoError(t, out[4].Err)

	for _, u := range []string{"alice", "bob", "carol"} {
		p, err := f.eng.Recorder.Progress(f.ctx, proj, sk.ID, u)
		require.NoError(t, err)
		assert.Equal(t, 1, p.EventCount, u)
	}
}

func TestRecorder_ConcurrentRecordsLoseNoIncrement(t *testing.T) {
	f := newFixture(t, skills.WithBatchConcurrency(16))
	sk := f.skill(t, "Skill 1", 10, 5)

	const n = 50
	batch := make([]string, n)
	for i := range batch {
		batch[i] = "alice"
	}
	for _, o := range f.eng.Recorder.RecordBatch(f.ctx, proj, sk.ID, batch) {
		require.NoError(t, o.Err)
	}

	p, err := f.eng.Recorder.Progress(f.ctx, proj, sk.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, n, p.EventCount)
	assert.Equal(t, n*10, p.PointsEarned)
}

func TestRecorder_PointsFrozenAtRecordTime(t *testing.T) {
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)

	_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
	require.NoError(t, err)

	_, err = f.eng.Definitions.Update(f.ctx, proj, sk.ID, skills.UpdateSkill{PointIncrement: intPtr(20), NumPerformToCompletion: intPtr(2)})
	require.NoError(t, err)

	p, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, p.EventCount)
	assert.Equal(t, 30, p.PointsEarned)
	assert.True(t, p.IsCompleted, "threshold follows the current definition")

	pts, err := f.eng.Recorder.UserPoints(f.ctx, proj, "alice")
	require.NoError(t, err)
	assert.Equal(t, 30, pts.IntPart())
}

func TestRecorder_RepeatPolicyCapsPerDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, skills.WithClock(clock), skills.WithRepeatPolicy(skills.PerWindow(2, core.WindowDay)))
	sk := f.skill(t, "Skill 1", 10, 5)

	for i := 0; i < 2; i++ {
		_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
		require.NoError(t, err)
	}
	_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
	requireKind(t, err, core.KindValidation, core.CodeEventLimitReached)

	// other users have their own budget
	_, err = f.eng.Recorder.Record(f.ctx, proj, sk.ID, "bob")
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	p, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, p.EventCount)
}

func TestRecorder_FailedCommitAppendsNothing(t *testing.T) {
	inner := store.NewTxMemory()
	mem := users.NewMemory(true)
	f := newFixtureWith(t, &failingTx{TxStore: inner, failOn: "progress"}, mem)
	sk := f.skill(t, "Skill 1", 10, 5)

	_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransactionFailed)

	events, err := inner.LoadEvents(f.ctx, core.ProgressKey{ProjectID: proj, SkillID: sk.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorder_RebuildRepairsDrift(t *testing.T) {
	f := newFixture(t)
	sk := f.skill(t, "Skill 1", 10, 5)
	for i := 0; i < 3; i++ {
		_, err := f.eng.Recorder.Record(f.ctx, proj, sk.ID, "alice")
		require.NoError(t, err)
	}

	key := core.ProgressKey{ProjectID: proj, SkillID: sk.ID, UserID: "alice"}
	require.NoError(t, f.store.PutProgress(f.ctx, core.Progress{ProjectID: proj, SkillID: sk.ID, UserID: "alice", EventCount: 99}))

	drift, err := f.eng.Recorder.Drift(f.ctx, proj)
	require.NoError(t, err)
	assert.Equal(t, []core.ProgressKey{key}, drift)

	fixed, err := f.eng.Recorder.Rebuild(f.ctx, proj)
	require.NoError(t, err)
	assert.Equal(t, []core.ProgressKey{key}, fixed)

	p, err := f.eng.Recorder.Progress(f.ctx, proj, sk.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, p.EventCount)
	assert.Equal(t, 30, p.PointsEarned)

	drift, err = f.eng.Recorder.Drift(f.ctx, proj)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestRecorder_MissingSkill(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Recorder.Record(f.ctx, proj, "ghostSkill", "alice")
	assert.True(t, core.IsNotFound(err))
	assert.Equal(t, int64(0), atomic.LoadInt64(&f.dir.calls))
}
