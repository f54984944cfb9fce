package maintenance

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/corralhq/corral/pkg/config"
	"github.com/corralhq/corral/pkg/engine"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/types"
)

// Job names, in the order the daemon starts them
const (
	JobHealthCheck   = "health_check"
	JobArchive       = "archive_completed"
	JobRotateSpanLog = "rotate_span_log"
	JobRealityVerify = "reality_verify"
	JobStaleSweep    = "stale_heartbeat_sweep"
	JobRebalance     = "rebalance"
	JobOptimize      = "optimize_work_queue"
	JobStatusReport  = "status_report"
)

// JobNames lists every maintenance job
var JobNames = []string{
	JobHealthCheck,
	JobArchive,
	JobRotateSpanLog,
	JobRealityVerify,
	JobStaleSweep,
	JobRebalance,
	JobOptimize,
	JobStatusReport,
}

// Runner executes maintenance jobs. Every run takes the maintenance
// token first, so concurrent daemons and one-shot invocations never
// overlap, and emits a maintenance.<job> span.
type Runner struct {
	engine *engine.Engine
	view   *queue.View
	cache  *Cache
	cfg    config.Config
	logger zerolog.Logger

	// lastHealth is the most recent health score, -1 before the first
	// health check
	lastHealth atomic.Int64
}

// NewRunner creates a job runner. The cache may be nil; history and
// report storage are then skipped.
func NewRunner(e *engine.Engine, v *queue.View, cache *Cache, cfg config.Config) *Runner {
	r := &Runner{
		engine: e,
		view:   v,
		cache:  cache,
		cfg:    cfg,
		logger: log.WithComponent("maintenance"),
	}
	r.lastHealth.Store(-1)
	return r
}

// Degraded reports whether the last health check fell below the
// configured threshold. The daemon raises job cadence while degraded.
func (r *Runner) Degraded() bool {
	h := r.lastHealth.Load()
	return h >= 0 && float64(h) < r.cfg.Maintenance.HealthThreshold
}

// RunJob executes one named job now, holding the maintenance token
func (r *Runner) RunJob(ctx context.Context, name string) error {
	job, err := r.job(name)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	token, stale, err := acquireToken(r.engine.Store().Dir(), name,
		r.cfg.Maintenance.TokenTTL, r.engine.Clock())
	if stale != nil {
		// A previous holder exceeded its TTL; record the takeover
		_, span := r.engine.Tracer().StartSpan(ctx, "maintenance.token_watchdog", map[string]string{
			"stale_job": stale.Job,
			"stale_pid": strconv.Itoa(stale.HolderPID),
		})
		span.End(types.SpanStatusError, map[string]string{
			"error_kind": string(types.ErrTimeout),
		})
		r.logger.Warn().
			Str("stale_job", stale.Job).
			Int("stale_pid", stale.HolderPID).
			Msg("force-released expired maintenance token")
	}
	if err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(name, "busy").Inc()
		return err
	}
	defer token.Release()

	ctx, span := r.engine.Tracer().StartSpan(ctx, "maintenance."+name, nil)
	attrs, err := job(ctx)
	metrics.MaintenanceDuration.WithLabelValues(name).Observe(timer.Elapsed().Seconds())

	if err != nil {
		metrics.MaintenanceRunsTotal.WithLabelValues(name, "error").Inc()
		if attrs == nil {
			attrs = map[string]string{}
		}
		attrs["error_kind"] = string(types.KindOf(err))
		span.End(types.SpanStatusError, attrs)
		r.logger.Error().Err(err).Str("job", name).Msg("maintenance job failed")
		return err
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(name, "ok").Inc()
	span.End(types.SpanStatusOK, attrs)
	return nil
}

type jobFunc func(ctx context.Context) (map[string]string, error)

func (r *Runner) job(name string) (jobFunc, error) {
	switch name {
	case JobHealthCheck:
		return r.healthCheck, nil
	case JobArchive:
		return r.archiveCompleted, nil
	case JobRotateSpanLog:
		return r.rotateSpanLog, nil
	case JobRealityVerify:
		return r.realityVerify, nil
	case JobStaleSweep:
		return r.staleHeartbeatSweep, nil
	case JobRebalance:
		return r.rebalance, nil
	case JobOptimize:
		return r.optimizeWorkQueue, nil
	case JobStatusReport:
		return r.statusReport, nil
	}
	return nil, types.NewError(types.ErrInvalidArg,
		"unknown maintenance job %q (known: %s)", name, strings.Join(JobNames, ", "))
}

// healthCheck computes the health score, records it, and refreshes the
// fleet gauges
func (r *Runner) healthCheck(ctx context.Context) (map[string]string, error) {
	score, err := r.view.HealthScore(ctx)
	if err != nil {
		return nil, err
	}
	r.lastHealth.Store(int64(score))

	if r.cache != nil {
		sample := HealthSample{Score: score, RecordedAt: r.engine.Clock().NowWall()}
		if err := r.cache.RecordHealth(sample); err != nil {
			r.logger.Warn().Err(err).Msg("health history write failed")
		}
	}

	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAll)
	if err != nil {
		return nil, err
	}
	workCounts := map[types.WorkStatus]int{}
	for _, w := range st.Claims {
		workCounts[w.Status]++
	}
	for _, status := range []types.WorkStatus{types.WorkStatusPending, types.WorkStatusActive, types.WorkStatusBlocked} {
		metrics.WorkItemsTotal.WithLabelValues(string(status)).Set(float64(workCounts[status]))
	}
	agentCounts := map[types.AgentStatus]int{}
	for _, a := range st.Agents {
		agentCounts[a.Status]++
	}
	for status, n := range agentCounts {
		metrics.AgentsTotal.WithLabelValues(string(status)).Set(float64(n))
	}

	return map[string]string{
		"health_score": strconv.Itoa(score),
		"degraded":     strconv.FormatBool(r.Degraded()),
	}, nil
}

// archiveCompleted moves completed-log records older than the retention
// window into a dated archive file. The archive is written and read
// back before anything is removed from the live log, so a failed write
// never loses records; rerunning after a partial failure converges.
func (r *Runner) archiveCompleted(ctx context.Context) (map[string]string, error) {
	dir := r.engine.Store().Dir()
	now := r.engine.Clock().NowWall()
	cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays)
	archiveName := fmt.Sprintf("completed-log.%s.json", now.Format("20060102"))

	archived := 0
	err := r.engine.Store().Update(ctx, store.ScopeCompleted, func(st *store.State) error {
		var keep, old []*types.CompletedWorkRecord
		for _, rec := range st.Completed {
			if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
				old = append(old, rec)
			} else {
				keep = append(keep, rec)
			}
		}
		if len(old) == 0 {
			return nil
		}

		// Merge with an existing same-day archive by work ID
		var existing []*types.CompletedWorkRecord
		if err := store.ReadSideFile(dir, archiveName, &existing); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, rec := range existing {
			seen[rec.WorkID] = true
		}
		merged := existing
		for _, rec := range old {
			if !seen[rec.WorkID] {
				merged = append(merged, rec)
			}
		}

		if err := store.WriteSideFile(dir, archiveName, merged); err != nil {
			return err
		}
		// Verify the archive before trimming the live log
		var check []*types.CompletedWorkRecord
		if err := store.ReadSideFile(dir, archiveName, &check); err != nil {
			return err
		}
		if len(check) != len(merged) {
			return types.NewError(types.ErrIO,
				"archive %s verification failed: wrote %d records, read %d",
				archiveName, len(merged), len(check))
		}

		st.Completed = keep
		archived = len(old)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"archived": strconv.Itoa(archived),
		"archive":  archiveName,
	}, nil
}

// rotateSpanLog renames the active span log once it exceeds the size
// threshold. Below the threshold the job is a no-op.
func (r *Runner) rotateSpanLog(ctx context.Context) (map[string]string, error) {
	tracer := r.engine.Tracer()
	info, err := os.Stat(tracer.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{"rotated": "false"}, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "stat span log")
	}
	if info.Size() < r.cfg.SpanLogMaxBytes {
		return map[string]string{
			"rotated":    "false",
			"size_bytes": strconv.FormatInt(info.Size(), 10),
		}, nil
	}

	stamp := r.engine.Clock().NowWall().Format("20060102-150405")
	rotated := strings.TrimSuffix(tracer.Path(), ".jsonl") + "-" + stamp + ".jsonl"
	if err := os.Rename(tracer.Path(), rotated); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "rotating span log")
	}
	tracer.Reopen()

	return map[string]string{
		"rotated":    "true",
		"rotated_to": rotated,
		"size_bytes": strconv.FormatInt(info.Size(), 10),
	}, nil
}

// realityVerify cross-checks the state documents against each other.
// Violations fail the job with a span enumerating them; repair only
// happens when auto_repair is configured.
func (r *Runner) realityVerify(ctx context.Context) (map[string]string, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAll)
	if err != nil {
		return nil, err
	}
	violations := verifyState(st)
	if len(violations) == 0 {
		return map[string]string{"violations": "0"}, nil
	}

	attrs := map[string]string{
		"violations": strconv.Itoa(len(violations)),
		"detail":     strings.Join(violations, "; "),
	}
	if !r.cfg.Maintenance.AutoRepair {
		return attrs, types.NewError(types.ErrCorruptState,
			"reality verification found %d violations", len(violations))
	}

	repaired := 0
	err = r.engine.Store().Update(ctx, store.ScopeClaims|store.ScopeAgents, func(st *store.State) error {
		repaired = repairState(st)
		return nil
	})
	if err != nil {
		return attrs, err
	}
	attrs["repaired"] = strconv.Itoa(repaired)
	r.logger.Warn().
		Int("violations", len(violations)).
		Int("repaired", repaired).
		Msg("reality verification repaired state")
	return attrs, nil
}

// verifyState returns one message per cross-document violation
func verifyState(st *store.State) []string {
	var violations []string
	seen := map[string]bool{}
	held := map[string]int{}

	for _, w := range st.Claims {
		if seen[w.WorkID] {
			violations = append(violations, fmt.Sprintf("duplicate work id %s", w.WorkID))
		}
		seen[w.WorkID] = true

		switch {
		case w.Status.Terminal():
			violations = append(violations, fmt.Sprintf("terminal item %s in active-claims", w.WorkID))
		case w.Status.Held():
			if w.AssignedAgentID == "" {
				violations = append(violations, fmt.Sprintf("held item %s has no assigned agent", w.WorkID))
			} else if _, ok := st.Agents[w.AssignedAgentID]; !ok {
				violations = append(violations, fmt.Sprintf("item %s assigned to unknown agent %s", w.WorkID, w.AssignedAgentID))
			} else {
				held[w.AssignedAgentID]++
			}
			if w.ClaimedAt == nil {
				violations = append(violations, fmt.Sprintf("held item %s has no claimed_at", w.WorkID))
			}
		case w.Status == types.WorkStatusPending:
			if w.AssignedAgentID != "" {
				violations = append(violations, fmt.Sprintf("pending item %s still assigned to %s", w.WorkID, w.AssignedAgentID))
			}
		}

		if w.ProgressPercent < 0 || w.ProgressPercent > 100 {
			violations = append(violations, fmt.Sprintf("item %s progress %d out of bounds", w.WorkID, w.ProgressPercent))
		}
		if w.ClaimedAt != nil && w.ClaimedAt.Before(w.CreatedAt) {
			violations = append(violations, fmt.Sprintf("item %s claimed_at precedes created_at", w.WorkID))
		}
		if w.StartedAt != nil && w.ClaimedAt != nil && w.StartedAt.Before(*w.ClaimedAt) {
			violations = append(violations, fmt.Sprintf("item %s started_at precedes claimed_at", w.WorkID))
		}
	}

	for _, rec := range st.Completed {
		w := rec.WorkItem
		if !w.Status.Terminal() {
			violations = append(violations, fmt.Sprintf("non-terminal item %s in completed-log", w.WorkID))
		}
		if w.Status == types.WorkStatusCompleted && w.ProgressPercent != 100 {
			violations = append(violations, fmt.Sprintf("completed item %s at progress %d", w.WorkID, w.ProgressPercent))
		}
		if w.CompletedAt != nil && w.CompletedAt.Before(w.CreatedAt) {
			violations = append(violations, fmt.Sprintf("record %s completed_at precedes created_at", w.WorkID))
		}
		if w.CompletedAt != nil && w.StartedAt != nil && w.CompletedAt.Before(*w.StartedAt) {
			violations = append(violations, fmt.Sprintf("record %s completed_at precedes started_at", w.WorkID))
		}
	}

	for id, a := range st.Agents {
		if a.CurrentWorkload != held[id] {
			violations = append(violations, fmt.Sprintf(
				"agent %s workload %d does not match %d held items", id, a.CurrentWorkload, held[id]))
		}
		if a.CurrentWorkload > a.CapacityMax {
			violations = append(violations, fmt.Sprintf(
				"agent %s workload %d exceeds capacity %d", id, a.CurrentWorkload, a.CapacityMax))
		}
		if a.Status == types.AgentStatusOffline && a.CurrentWorkload != 0 {
			violations = append(violations, fmt.Sprintf(
				"offline agent %s still carries workload %d", id, a.CurrentWorkload))
		}
	}
	return violations
}

// repairState makes the documents mutually consistent again: items of
// unknown agents return to pending, assignments on pending items are
// cleared, and workloads are recomputed from held items. Progress is
// clamped to its bounds and disordered timestamps are pulled forward.
func repairState(st *store.State) int {
	repaired := 0
	held := map[string]int{}

	for _, w := range st.Claims {
		if w.ProgressPercent < 0 {
			w.ProgressPercent = 0
			repaired++
		} else if w.ProgressPercent > 100 {
			w.ProgressPercent = 100
			repaired++
		}

		if w.Status.Held() {
			if _, ok := st.Agents[w.AssignedAgentID]; !ok || w.AssignedAgentID == "" {
				w.Status = types.WorkStatusPending
				w.AssignedAgentID = ""
				w.ClaimedAt = nil
				w.StartedAt = nil
				w.ProgressPercent = 0
				w.SubStatus = ""
				w.BlockedReason = ""
				repaired++
				continue
			}
			if w.ClaimedAt == nil {
				now := w.CreatedAt
				w.ClaimedAt = &now
				repaired++
			}
			if w.ClaimedAt.Before(w.CreatedAt) {
				at := w.CreatedAt
				w.ClaimedAt = &at
				repaired++
			}
			if w.StartedAt != nil && w.StartedAt.Before(*w.ClaimedAt) {
				w.StartedAt = w.ClaimedAt
				repaired++
			}
			held[w.AssignedAgentID]++
		} else if w.Status == types.WorkStatusPending && w.AssignedAgentID != "" {
			w.AssignedAgentID = ""
			repaired++
		}
	}

	for id, a := range st.Agents {
		if a.CurrentWorkload != held[id] {
			a.CurrentWorkload = held[id]
			if a.CurrentWorkload > a.CapacityMax {
				a.CapacityMax = a.CurrentWorkload
			}
			if a.Status == types.AgentStatusBusy && a.CurrentWorkload < a.CapacityMax {
				a.Status = types.AgentStatusActive
			}
			repaired++
		}
	}
	return repaired
}

// staleHeartbeatSweep deregisters agents whose heartbeat aged out,
// returning their held work to pending
func (r *Runner) staleHeartbeatSweep(ctx context.Context) (map[string]string, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeAgents)
	if err != nil {
		return nil, err
	}
	now := r.engine.Clock().NowWall()

	var staleIDs []string
	for id, a := range st.Agents {
		if a.Status == types.AgentStatusOffline {
			continue
		}
		if now.Sub(a.LastHeartbeatAt) > r.cfg.HeartbeatTimeout {
			staleIDs = append(staleIDs, id)
		}
	}
	sort.Strings(staleIDs)

	swept := 0
	for _, id := range staleIDs {
		if _, err := r.engine.Deregister(ctx, id); err != nil {
			// Another process may have deregistered it between
			// snapshot and now
			if types.KindOf(err) == types.ErrNotFound {
				continue
			}
			return map[string]string{"swept": strconv.Itoa(swept)}, err
		}
		r.logger.Info().Str("agent_id", id).Msg("swept stale agent")
		swept++
	}
	return map[string]string{"swept": strconv.Itoa(swept)}, nil
}

// rebalance compares per-team backlog and recommends moving pending
// work from the most loaded team to the least loaded one. The move is
// only applied when rebalance_apply is configured; otherwise the span
// carries the recommendation.
func (r *Runner) rebalance(ctx context.Context) (map[string]string, error) {
	st, err := r.engine.Store().Snapshot(ctx, store.ScopeClaims|store.ScopeAgents)
	if err != nil {
		return nil, err
	}

	fromTeam, toTeam, move := rebalancePlan(st, r.cfg.Maintenance.RebalanceRatio)
	if move == 0 {
		return map[string]string{"recommended": "0"}, nil
	}

	attrs := map[string]string{
		"from_team":   fromTeam,
		"to_team":     toTeam,
		"recommended": strconv.Itoa(move),
		"applied":     "false",
	}
	if !r.cfg.Maintenance.RebalanceApply {
		return attrs, nil
	}

	moved := 0
	err = r.engine.Store().Update(ctx, store.ScopeClaims, func(st *store.State) error {
		for _, w := range st.Claims {
			if moved >= move {
				break
			}
			if w.Status == types.WorkStatusPending && w.Team == fromTeam {
				w.Team = toTeam
				moved++
			}
		}
		return nil
	})
	if err != nil {
		return attrs, err
	}
	attrs["applied"] = "true"
	attrs["moved"] = strconv.Itoa(moved)
	return attrs, nil
}

// rebalancePlan returns the most and least loaded teams by pending
// items per agent, and how many items to move; zero when balanced
// within the ratio or when fewer than two teams have agents.
func rebalancePlan(st *store.State, ratio float64) (fromTeam, toTeam string, move int) {
	if ratio <= 0 {
		ratio = 3.0
	}
	agents := map[string]int{}
	for _, a := range st.Agents {
		if a.Available() {
			agents[a.Team]++
		}
	}
	if len(agents) < 2 {
		return "", "", 0
	}
	pending := map[string]int{}
	for _, w := range st.Claims {
		if w.Status == types.WorkStatusPending {
			pending[w.Team]++
		}
	}

	teams := make([]string, 0, len(agents))
	for team := range agents {
		teams = append(teams, team)
	}
	sort.Strings(teams)

	var maxLoad, minLoad float64
	for i, team := range teams {
		load := float64(pending[team]) / float64(agents[team])
		if i == 0 || load > maxLoad {
			maxLoad, fromTeam = load, team
		}
		if i == 0 || load < minLoad {
			minLoad, toTeam = load, team
		}
	}
	if fromTeam == toTeam || maxLoad == 0 {
		return "", "", 0
	}
	if minLoad > 0 && maxLoad/minLoad <= ratio {
		return "", "", 0
	}
	if minLoad == 0 && maxLoad <= ratio {
		return "", "", 0
	}
	move = (pending[fromTeam] - pending[toTeam]) / 2
	if move < 1 {
		move = 0
	}
	return fromTeam, toTeam, move
}

// optimizeWorkQueue rewrites the state documents compacted, with the
// claims document in claim order so sequential readers see the queue
// the way the engine will serve it
func (r *Runner) optimizeWorkQueue(ctx context.Context) (map[string]string, error) {
	claims, completed := 0, 0
	err := r.engine.Store().Update(ctx, store.ScopeAll, func(st *store.State) error {
		sort.SliceStable(st.Claims, func(i, j int) bool {
			a, b := st.Claims[i], st.Claims[j]
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() < b.Priority.Rank()
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.WorkID < b.WorkID
		})
		claims = len(st.Claims)
		completed = len(st.Completed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"claims":    strconv.Itoa(claims),
		"completed": strconv.Itoa(completed),
	}, nil
}

// statusReport snapshots the dashboard and records it as an event in
// the span log and in the cache
func (r *Runner) statusReport(ctx context.Context) (map[string]string, error) {
	d, err := r.view.Dashboard(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.RecordReport(d); err != nil {
			r.logger.Warn().Err(err).Msg("status report cache write failed")
		}
	}

	attrs := map[string]string{
		"pending":       strconv.Itoa(d.CountsByStatus[types.WorkStatusPending]),
		"active":        strconv.Itoa(d.CountsByStatus[types.WorkStatusActive]),
		"blocked":       strconv.Itoa(d.CountsByStatus[types.WorkStatusBlocked]),
		"agents":        strconv.Itoa(d.AgentsTotal),
		"agents_stale":  strconv.Itoa(d.AgentsStale),
		"completed_24h": strconv.Itoa(d.CompletedLast),
		"failed_24h":    strconv.Itoa(d.FailedLast),
		"health_score":  strconv.Itoa(d.HealthScore),
	}
	r.engine.Tracer().LogEvent(ctx, "status_report", attrs)
	return attrs, nil
}
