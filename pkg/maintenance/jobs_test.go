package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/config"
	"github.com/corralhq/corral/pkg/engine"
	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/trace"
	"github.com/corralhq/corral/pkg/types"
)

func newTestRunner(t *testing.T) (*Runner, *engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir, store.Options{Mode: store.ModeFast, LockWait: 2 * time.Second})
	require.NoError(t, err)
	clk := clock.New()
	w := trace.NewWriter(dir, clk)
	t.Cleanup(func() { w.Close() })
	e := engine.New(st, w, clk, engine.Options{})

	cfg := config.Default()
	cfg.CoordinationDir = dir
	v := queue.New(st, cfg.HeartbeatTimeout)
	cache, err := OpenCache(dir)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return NewRunner(e, v, cache, cfg), e, dir
}

// TestRunJobUnknown tests INVALID_ARG for unknown job names
func TestRunJobUnknown(t *testing.T) {
	r, _, _ := newTestRunner(t)
	err := r.RunJob(context.Background(), "defrag")
	assert.Equal(t, types.ErrInvalidArg, types.KindOf(err))
}

// TestRunJobTokenGate tests that a held token makes jobs BUSY
func TestRunJobTokenGate(t *testing.T) {
	r, e, dir := newTestRunner(t)

	token, _, err := acquireToken(dir, "manual", time.Minute, e.Clock())
	require.NoError(t, err)
	defer token.Release()

	err = r.RunJob(context.Background(), JobHealthCheck)
	assert.Equal(t, types.ErrBusy, types.KindOf(err))
}

// TestHealthCheckRecordsHistory tests score recording
func TestHealthCheckRecordsHistory(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobHealthCheck))
	require.NoError(t, r.RunJob(ctx, JobHealthCheck))

	history, err := r.cache.HealthHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 100, history[0].Score)
	assert.False(t, r.Degraded())
}

// TestArchiveCompletedIdempotent tests that archiving converges: the
// second run moves nothing and the archive is unchanged
func TestArchiveCompletedIdempotent(t *testing.T) {
	r, e, dir := newTestRunner(t)
	ctx := context.Background()

	old := e.Clock().NowWall().AddDate(0, 0, -30)
	fresh := e.Clock().NowWall()
	err := e.Store().Update(ctx, store.ScopeCompleted, func(st *store.State) error {
		for i, completedAt := range []time.Time{old, old, fresh} {
			at := completedAt
			st.Completed = append(st.Completed, &types.CompletedWorkRecord{
				WorkItem: types.WorkItem{
					WorkID:      fmt.Sprintf("work-%d", i),
					WorkType:    "feature",
					Priority:    types.PriorityMedium,
					Status:      types.WorkStatusCompleted,
					CreatedAt:   at.Add(-time.Hour),
					CompletedAt: &at,
				},
			})
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobArchive))

	archiveName := fmt.Sprintf("completed-log.%s.json", e.Clock().NowWall().Format("20060102"))
	var archived []*types.CompletedWorkRecord
	require.NoError(t, store.ReadSideFile(dir, archiveName, &archived))
	assert.Len(t, archived, 2)

	st, err := e.Store().Snapshot(ctx, store.ScopeCompleted)
	require.NoError(t, err)
	require.Len(t, st.Completed, 1)
	assert.Equal(t, "work-2", st.Completed[0].WorkID)

	// Second run: nothing left to archive, archive unchanged
	require.NoError(t, r.RunJob(ctx, JobArchive))
	archived = nil
	require.NoError(t, store.ReadSideFile(dir, archiveName, &archived))
	assert.Len(t, archived, 2)
}

// TestRotateSpanLog tests rotation past the threshold and the no-op
// below it
func TestRotateSpanLog(t *testing.T) {
	r, e, dir := newTestRunner(t)
	ctx := context.Background()
	r.cfg.SpanLogMaxBytes = 1

	// Produce some span traffic
	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobRotateSpanLog))

	rotated, err := filepath.Glob(filepath.Join(dir, "spans-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	// Below the threshold the job is a no-op
	r.cfg.SpanLogMaxBytes = 1 << 20
	require.NoError(t, r.RunJob(ctx, JobRotateSpanLog))
	again, err := filepath.Glob(filepath.Join(dir, "spans-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, again, 1)

	// The writer reopened onto a fresh active log
	info, err := os.Stat(filepath.Join(dir, trace.SpanLogName))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

// TestStaleHeartbeatSweep tests that a silent agent goes offline and
// its work returns to pending
func TestStaleHeartbeatSweep(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	item, err := e.CreateWork(ctx, "feature", "", types.PriorityHigh, "platform", 0)
	require.NoError(t, err)
	_, err = e.Claim(ctx, engine.ClaimRequest{AgentID: "a1", WorkID: item.WorkID})
	require.NoError(t, err)

	// Age the heartbeat past the timeout
	err = e.Store().Update(ctx, store.ScopeAgents, func(st *store.State) error {
		st.Agents["a1"].LastHeartbeatAt = e.Clock().NowWall().Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobStaleSweep))

	st, err := e.Store().Snapshot(ctx, store.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, st.Agents["a1"].Status)
	assert.Equal(t, 0, st.Agents["a1"].CurrentWorkload)
	w := st.FindClaim(item.WorkID)
	require.NotNil(t, w)
	assert.Equal(t, types.WorkStatusPending, w.Status)
	assert.Empty(t, w.AssignedAgentID)

	// Sweeping again is a no-op
	require.NoError(t, r.RunJob(ctx, JobStaleSweep))
}

// TestRealityVerifyClean tests a consistent directory passes
func TestRealityVerifyClean(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	item, err := e.CreateWork(ctx, "feature", "", types.PriorityHigh, "platform", 0)
	require.NoError(t, err)
	_, err = e.Claim(ctx, engine.ClaimRequest{AgentID: "a1", WorkID: item.WorkID})
	require.NoError(t, err)

	assert.NoError(t, r.RunJob(ctx, JobRealityVerify))
}

// TestRealityVerifyDetects tests CORRUPT_STATE on workload mismatch
func TestRealityVerifyDetects(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	err = e.Store().Update(ctx, store.ScopeAgents, func(st *store.State) error {
		st.Agents["a1"].CurrentWorkload = 2
		return nil
	})
	require.NoError(t, err)

	err = r.RunJob(ctx, JobRealityVerify)
	assert.Equal(t, types.ErrCorruptState, types.KindOf(err))
}

// TestVerifyStateFlagsBoundsAndOrdering tests detection of progress
// values outside [0,100], disordered timestamps, under-progressed
// completed records, and offline agents still carrying workload
func TestVerifyStateFlagsBoundsAndOrdering(t *testing.T) {
	created := time.Now().UTC()
	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)

	st := &store.State{
		Claims: []*types.WorkItem{
			{
				WorkID: "work-1", Status: types.WorkStatusActive, AssignedAgentID: "a1",
				CreatedAt: created, ClaimedAt: &before, StartedAt: &before,
			},
			{
				WorkID: "work-2", Status: types.WorkStatusActive, AssignedAgentID: "a1",
				CreatedAt: created, ClaimedAt: &after, StartedAt: &created,
				ProgressPercent: 150,
			},
		},
		Agents: map[string]*types.Agent{
			"a1": {AgentID: "a1", Team: "platform", Role: "dev",
				CapacityMax: 3, CurrentWorkload: 2, Status: types.AgentStatusActive},
			"gone": {AgentID: "gone", Team: "platform", Role: "dev",
				CapacityMax: 3, CurrentWorkload: 1, Status: types.AgentStatusOffline},
		},
		Completed: []*types.CompletedWorkRecord{
			{WorkItem: types.WorkItem{
				WorkID: "done-1", Status: types.WorkStatusCompleted,
				ProgressPercent: 60, CreatedAt: created, CompletedAt: &after,
			}},
		},
	}

	text := strings.Join(verifyState(st), "\n")
	assert.Contains(t, text, "item work-1 claimed_at precedes created_at")
	assert.Contains(t, text, "item work-2 started_at precedes claimed_at")
	assert.Contains(t, text, "item work-2 progress 150 out of bounds")
	assert.Contains(t, text, "completed item done-1 at progress 60")
	assert.Contains(t, text, "offline agent gone still carries workload 1")
}

// TestRealityVerifyDetectsTimestampDisorder tests CORRUPT_STATE when a
// held claim's claimed_at was rewound behind its created_at
func TestRealityVerifyDetectsTimestampDisorder(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	item, err := e.CreateWork(ctx, "feature", "", types.PriorityHigh, "platform", 0)
	require.NoError(t, err)
	_, err = e.Claim(ctx, engine.ClaimRequest{AgentID: "a1", WorkID: item.WorkID})
	require.NoError(t, err)

	err = e.Store().Update(ctx, store.ScopeClaims, func(st *store.State) error {
		w := st.FindClaim(item.WorkID)
		at := w.CreatedAt.Add(-time.Hour)
		w.ClaimedAt = &at
		return nil
	})
	require.NoError(t, err)

	err = r.RunJob(ctx, JobRealityVerify)
	assert.Equal(t, types.ErrCorruptState, types.KindOf(err))

	// With repair enabled the timestamps are pulled forward and the
	// job converges
	r.cfg.Maintenance.AutoRepair = true
	require.NoError(t, r.RunJob(ctx, JobRealityVerify))
	require.NoError(t, r.RunJob(ctx, JobRealityVerify))
}

// TestRealityVerifyAutoRepair tests repair when configured
func TestRealityVerifyAutoRepair(t *testing.T) {
	r, e, _ := newTestRunner(t)
	r.cfg.Maintenance.AutoRepair = true
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	err = e.Store().Update(ctx, store.ScopeAgents, func(st *store.State) error {
		st.Agents["a1"].CurrentWorkload = 2
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobRealityVerify))

	st, err := e.Store().Snapshot(ctx, store.ScopeAgents)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Agents["a1"].CurrentWorkload)

	// Verification now passes
	require.NoError(t, r.RunJob(ctx, JobRealityVerify))
}

// TestRebalancePlan tests the recommendation math
func TestRebalancePlan(t *testing.T) {
	st := &store.State{
		Agents: map[string]*types.Agent{
			"a1": {AgentID: "a1", Team: "platform", Status: types.AgentStatusActive, CapacityMax: 3},
			"a2": {AgentID: "a2", Team: "web", Status: types.AgentStatusActive, CapacityMax: 3},
		},
	}
	for i := 0; i < 8; i++ {
		st.Claims = append(st.Claims, &types.WorkItem{
			WorkID: fmt.Sprintf("work-%d", i), Status: types.WorkStatusPending, Team: "platform",
		})
	}

	from, to, move := rebalancePlan(st, 3.0)
	assert.Equal(t, "platform", from)
	assert.Equal(t, "web", to)
	assert.Equal(t, 4, move)

	// Balanced queues recommend nothing
	st.Claims = st.Claims[:2]
	st.Claims[1].Team = "web"
	_, _, move = rebalancePlan(st, 3.0)
	assert.Zero(t, move)
}

// TestRebalanceApply tests the opt-in move
func TestRebalanceApply(t *testing.T) {
	r, e, _ := newTestRunner(t)
	r.cfg.Maintenance.RebalanceApply = true
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	_, err = e.RegisterAgent(ctx, "a2", "web", "dev", 3, "")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := e.CreateWork(ctx, "feature", "", types.PriorityMedium, "platform", 0)
		require.NoError(t, err)
	}

	require.NoError(t, r.RunJob(ctx, JobRebalance))

	st, err := e.Store().Snapshot(ctx, store.ScopeClaims)
	require.NoError(t, err)
	moved := 0
	for _, w := range st.Claims {
		if w.Team == "web" {
			moved++
		}
	}
	assert.Equal(t, 4, moved)
}

// TestOptimizeWorkQueue tests the claim-order rewrite
func TestOptimizeWorkQueue(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.CreateWork(ctx, "feature", "", types.PriorityLow, "", 0)
	require.NoError(t, err)
	urgent, err := e.CreateWork(ctx, "incident", "", types.PriorityCritical, "", 0)
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobOptimize))

	st, err := e.Store().Snapshot(ctx, store.ScopeClaims)
	require.NoError(t, err)
	require.Len(t, st.Claims, 2)
	assert.Equal(t, urgent.WorkID, st.Claims[0].WorkID)

	// Idempotent: same order after a second run
	require.NoError(t, r.RunJob(ctx, JobOptimize))
	st2, err := e.Store().Snapshot(ctx, store.ScopeClaims)
	require.NoError(t, err)
	assert.Equal(t, st.Claims[0].WorkID, st2.Claims[0].WorkID)
}

// TestStatusReport tests the daily rollup lands in the cache
func TestStatusReport(t *testing.T) {
	r, e, _ := newTestRunner(t)
	ctx := context.Background()

	_, err := e.RegisterAgent(ctx, "a1", "platform", "dev", 3, "")
	require.NoError(t, err)
	_, err = e.CreateWork(ctx, "feature", "", types.PriorityMedium, "platform", 0)
	require.NoError(t, err)

	require.NoError(t, r.RunJob(ctx, JobStatusReport))

	report, err := r.cache.LastReport()
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.AgentsTotal)
	assert.Equal(t, 1, report.CountsByStatus[types.WorkStatusPending])
}

// TestSchedulerStartStop tests daemon startup and clean shutdown
func TestSchedulerStartStop(t *testing.T) {
	r, _, _ := newTestRunner(t)
	s := NewScheduler(r, r.cfg.Maintenance)

	s.Start(context.Background())
	// The seeding health check ran synchronously
	assert.False(t, r.Degraded())
	s.Stop()
}
