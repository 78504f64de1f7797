package model

import (
	"time"
)

// Queue names form a closed set: every name maps to a handler registered at
// startup, and each carries a fixed priority (higher runs first).
const (
	QueueOrderConfirmations = "order_confirmations"
	QueueRefundAlerts       = "refund_alerts"
)

var queuePriorities = map[string]int{
	QueueOrderConfirmations: 10,
	QueueRefundAlerts:       5,
}

// QueuePriority returns the fixed priority for a queue name, 0 for unknown
// names.
func QueuePriority(queueName string) int {
	return queuePriorities[queueName]
}

func KnownQueue(queueName string) bool {
	_, ok := queuePriorities[queueName]
	return ok
}

type Job struct {
	ID                   string     `json:"id"`
	QueueName            string     `json:"queue_name"`
	ActorID              string     `json:"actor_id"` // Domain entity the job acts on (order id)
	Priority             int        `json:"priority"`
	Attempts             int        `json:"attempts"`
	RunAt                time.Time  `json:"run_at"`
	Locked               bool       `json:"locked"`
	LockedAt             *time.Time `json:"locked_at,omitempty"`
	Complete             bool       `json:"complete"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CompletedWithFailure bool       `json:"completed_with_failure"`
	FailureReason        *string    `json:"failure_reason,omitempty"`
	LastError            *string    `json:"last_error,omitempty"`
	FailedAt             *time.Time `json:"failed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Eligible reports whether the job may be claimed for execution at t.
func (j Job) Eligible(t time.Time) bool {
	return !j.Complete && !j.Locked && !j.RunAt.After(t)
}

// Job status labels for the ops API and exports. They are derived from the
// stored flags, never persisted.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

func (j Job) StatusLabel() string {
	switch {
	case j.CompletedWithFailure:
		return JobStatusFailed
	case j.Complete:
		return JobStatusCompleted
	case j.Locked:
		return JobStatusRunning
	default:
		return JobStatusPending
	}
}
