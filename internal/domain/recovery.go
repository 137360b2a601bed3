package domain

import "time"

// ActionKind is the type of corrective action the recovery coordinator can queue.
type ActionKind string

const (
	ActionRestart  ActionKind = "RESTART"
	ActionRecreate ActionKind = "RECREATE"
	ActionScale    ActionKind = "SCALE"
	ActionRollback ActionKind = "ROLLBACK"
)

// Valid returns true for the recognized kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionRestart, ActionRecreate, ActionScale, ActionRollback:
		return true
	}
	return false
}

// Priorities used by the coordinator. Higher runs first.
const (
	PriorityResource = 8
	PriorityHealth   = 9
	PriorityManual   = 10
)

// RecoveryAction is a pending corrective action for one worker.
type RecoveryAction struct {
	Worker     string     `json:"worker"`
	Kind       ActionKind `json:"kind"`
	Reason     string     `json:"reason"`
	Priority   int        `json:"priority"`
	Attempt    int        `json:"attempt"` // 0 on first run, 1 on the single retry
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// DedupeKey identifies equivalent pending actions.
func (a RecoveryAction) DedupeKey() string {
	return a.Worker + "/" + string(a.Kind)
}

// AlertSeverity grades alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertKind identifies what produced the alert.
type AlertKind string

const (
	AlertRestartBudgetExhausted AlertKind = "RESTART_BUDGET_EXHAUSTED"
	AlertActionFailed           AlertKind = "ACTION_FAILED"
	AlertActionUnsupported      AlertKind = "ACTION_UNSUPPORTED"
)

// Alert is a terminal condition surfaced to operators.
type Alert struct {
	Severity AlertSeverity `json:"severity"`
	Kind     AlertKind     `json:"kind"`
	Worker   string        `json:"worker"`
	Message  string        `json:"message"`
	At       time.Time     `json:"at"`
}
