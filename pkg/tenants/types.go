package tenants

import (
	"time"
)

// TenantStatus represents tenant lifecycle state.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusRetired   TenantStatus = "retired"
)

// Tenant is a provisioned customer organization.
type Tenant struct {
	ID              int64        `json:"id"`
	Slug            string       `json:"slug"`
	Name            string       `json:"name"`
	OwnerIdentityID *string      `json:"owner_identity_id,omitempty"`
	Status          TenantStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
}

// TenantData is the input to the atomic record writer.
type TenantData struct {
	Name             string
	Slug             string
	OwnerDisplayName string
	// Configuration is the opaque key/value seed configuration. The key
	// "category_id" is interpreted as a reference into config_categories and
	// participates in referential integrity; everything else is stored
	// verbatim.
	Configuration map[string]string
}

// RequestStatus is the provisioning request state machine's state.
type RequestStatus string

const (
	StatusPending          RequestStatus = "pending"
	StatusValidating       RequestStatus = "validating"
	StatusCreatingIdentity RequestStatus = "creating_identity"
	StatusWritingRecords   RequestStatus = "writing_records"
	StatusCompleted        RequestStatus = "completed"
	StatusFailed           RequestStatus = "failed"
	StatusRolledBack       RequestStatus = "rolled_back"
)

// Terminal reports whether a request in this status will never change again.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// ProvisioningRequest is the durable record of one provisioning attempt,
// owned and mutated only by the orchestrator.
type ProvisioningRequest struct {
	ID                int64             `json:"id"`
	IdempotencyKey    string            `json:"idempotency_key"`
	RequestingAdminID string            `json:"requesting_admin_id"`
	TenantName        string            `json:"tenant_name"`
	CandidateSlug     string            `json:"candidate_slug"`
	OwnerLogin        string            `json:"owner_login"`
	OwnerDisplayName  string            `json:"owner_display_name,omitempty"`
	Configuration     map[string]string `json:"configuration,omitempty"`
	Status            RequestStatus     `json:"status"`

	// Outcome fields, populated at terminal states.
	TenantID        *int64     `json:"tenant_id,omitempty"`
	Slug            string     `json:"slug,omitempty"`
	OwnerIdentityID string     `json:"owner_identity_id,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMS      int64      `json:"duration_ms,omitempty"`
}

// IdentityCleanup is a flagged external identity awaiting best-effort
// removal after a failed provisioning attempt.
type IdentityCleanup struct {
	ID         int64      `json:"id"`
	IdentityID string     `json:"identity_id"`
	Login      string     `json:"login"`
	RequestID  int64      `json:"request_id"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
