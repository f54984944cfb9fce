package types

import (
	"time"
)

// WorkItem represents one unit of work moving through the claim lifecycle
type WorkItem struct {
	WorkID            string        `json:"work_id" validate:"required"`
	WorkType          string        `json:"work_type" validate:"required"`
	Description       string        `json:"description"`
	Priority          Priority      `json:"priority" validate:"required,oneof=critical high medium low"`
	Team              string        `json:"team"`
	Status            WorkStatus    `json:"status" validate:"required,oneof=pending active blocked completed failed cancelled"`
	AssignedAgentID   string        `json:"assigned_agent_id,omitempty"`
	ProgressPercent   int           `json:"progress_percent" validate:"gte=0,lte=100"`
	SubStatus         string        `json:"sub_status,omitempty"`
	BlockedReason     string        `json:"blocked_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at" validate:"required"`
	ClaimedAt         *time.Time    `json:"claimed_at,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Result            string        `json:"result,omitempty"`
	VelocityPoints    int           `json:"velocity_points,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	TraceID           string        `json:"trace_id"`
}

// Priority orders pending work for claiming
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of a priority (lower claims first)
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is one of the four known priorities
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// WorkStatus represents the lifecycle state of a work item
type WorkStatus string

const (
	WorkStatusPending   WorkStatus = "pending"
	WorkStatusActive    WorkStatus = "active"
	WorkStatusBlocked   WorkStatus = "blocked"
	WorkStatusCompleted WorkStatus = "completed"
	WorkStatusFailed    WorkStatus = "failed"
	WorkStatusCancelled WorkStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s WorkStatus) Terminal() bool {
	return s == WorkStatusCompleted || s == WorkStatusFailed || s == WorkStatusCancelled
}

// Held reports whether the item counts against its agent's workload
func (s WorkStatus) Held() bool {
	return s == WorkStatusActive || s == WorkStatusBlocked
}

// Agent represents a registered worker identity
type Agent struct {
	AgentID         string      `json:"agent_id" validate:"required"`
	Team            string      `json:"team" validate:"required"`
	Role            string      `json:"role" validate:"required"`
	CapacityMax     int         `json:"capacity_max" validate:"gte=1"`
	CurrentWorkload int         `json:"current_workload" validate:"gte=0"`
	Status          AgentStatus `json:"status" validate:"required,oneof=registering active busy idle maintenance offline"`
	Specialization  string      `json:"specialization,omitempty"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
	RegisteredAt    time.Time   `json:"registered_at"`
}

// AgentStatus represents the current state of an agent
type AgentStatus string

const (
	AgentStatusRegistering AgentStatus = "registering"
	AgentStatusActive      AgentStatus = "active"
	AgentStatusBusy        AgentStatus = "busy"
	AgentStatusIdle        AgentStatus = "idle"
	AgentStatusMaintenance AgentStatus = "maintenance"
	AgentStatusOffline     AgentStatus = "offline"
)

// Valid reports whether s is a known agent status
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusRegistering, AgentStatusActive, AgentStatusBusy,
		AgentStatusIdle, AgentStatusMaintenance, AgentStatusOffline:
		return true
	}
	return false
}

// Available reports whether the agent may be assigned work.
// Maintenance is a self-declared do-not-assign state; a heartbeat with
// a different status makes the agent claimable again.
func (a *Agent) Available() bool {
	return a.Status != AgentStatusOffline && a.Status != AgentStatusMaintenance
}

// RemainingCapacity returns the number of items the agent can still hold
func (a *Agent) RemainingCapacity() int {
	return a.CapacityMax - a.CurrentWorkload
}

// CompletedWorkRecord is a terminal WorkItem plus completion bookkeeping.
// Records live in the completed-log and are rotated out by maintenance.
type CompletedWorkRecord struct {
	WorkItem
	DurationMS int64 `json:"duration_ms"`
}

// Span is one record of one operation in the append-only span log.
// The span log is the authoritative record of what happened; the JSON
// state documents are optimizations over it.
type Span struct {
	TraceID       string            `json:"trace_id"`
	SpanID        string            `json:"span_id"`
	ParentSpanID  string            `json:"parent_span_id,omitempty"`
	OperationName string            `json:"operation_name"`
	ServiceName   string            `json:"service_name"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	DurationMS    int64             `json:"duration_ms,omitempty"`
	Status        SpanStatus        `json:"status"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// SpanStatus represents the outcome recorded on a span
type SpanStatus string

const (
	SpanStatusStarted SpanStatus = "started"
	SpanStatusOK      SpanStatus = "ok"
	SpanStatusError   SpanStatus = "error"
	SpanStatusTimeout SpanStatus = "timeout"
)
