package audit

import (
	"time"
)

// Stage identifies a provisioning state transition.
type Stage string

const (
	StageReceived        Stage = "provision.received"
	StageValidated       Stage = "provision.validated"
	StageIdentityEnsured Stage = "provision.identity_ensured"
	StageRecordsWritten  Stage = "provision.records_written"
	StageCompleted       Stage = "provision.completed"
	StageRolledBack      Stage = "provision.rolled_back"
	StageFailed          Stage = "provision.failed"
	StageCleanupFlagged  Stage = "provision.cleanup_flagged"
	StageCleanupRetried  Stage = "provision.cleanup_retried"
)

// Status is the outcome of a stage transition.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is a single audit log entry: one row per stage transition,
// append-only, never mutated after insert.
type Event struct {
	ID        int64  `json:"id"`
	RequestID int64  `json:"request_id"`
	TenantID  *int64 `json:"tenant_id,omitempty"`
	AdminID   string `json:"admin_id"`
	Stage     Stage  `json:"stage"`
	Status    Status `json:"status"`

	// Payload is a point-in-time snapshot of whatever makes the transition
	// reconstructible: the sanitized slug, the identity id, the cleanup
	// flag. Internal error detail lives here and in ErrorDetail, never in
	// caller responses.
	Payload     map[string]any `json:"payload,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StageSuccess builds a success event for a stage transition.
func StageSuccess(requestID int64, adminID string, stage Stage, payload map[string]any, duration time.Duration) *Event {
	return &Event{
		RequestID:  requestID,
		AdminID:    adminID,
		Stage:      stage,
		Status:     StatusSuccess,
		Payload:    payload,
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
}

// StageFailure builds a failure event carrying the internal error detail.
func StageFailure(requestID int64, adminID string, stage Stage, err error, payload map[string]any, duration time.Duration) *Event {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Event{
		RequestID:   requestID,
		AdminID:     adminID,
		Stage:       stage,
		Status:      StatusFailure,
		Payload:     payload,
		ErrorDetail: detail,
		DurationMS:  duration.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
}

// Filter narrows audit queries. Zero-valued fields are ignored.
type Filter struct {
	RequestID *int64
	TenantID  *int64
	Stage     Stage
	Status    Status
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// AttemptMetrics is the per-attempt aggregate written once at terminal
// state.
type AttemptMetrics struct {
	RequestID     int64         `json:"request_id"`
	Duration      time.Duration `json:"duration"`
	Success       bool          `json:"success"`
	RetryCount    uint64        `json:"retry_count"`
	FailureReason string        `json:"failure_reason,omitempty"`
}
