package provisioning

import (
	"errors"
	"fmt"

	"github.com/stackmason/tenantd/pkg/tenants"
)

// ErrorCode is a caller-visible failure classification. Lower layers return
// typed errors; only the orchestrator translates them into these codes.
type ErrorCode string

const (
	CodeInvalidSlug            ErrorCode = "InvalidSlug"
	CodeDuplicateSlug          ErrorCode = "DuplicateSlug"
	CodeIdentityCreationFailed ErrorCode = "IdentityCreationFailed"
	CodeInvalidReference       ErrorCode = "InvalidReference"
	CodeUnauthorized           ErrorCode = "Unauthorized"
	CodeUnknown                ErrorCode = "Unknown"
)

// Request is one provisioning order placed by an administrator. All fields
// except Configuration are required.
type Request struct {
	IdempotencyKey   string            `json:"idempotencyKey"`
	AdminID          string            `json:"-"`
	TenantName       string            `json:"tenantName"`
	CandidateSlug    string            `json:"candidateSlug"`
	OwnerLogin       string            `json:"ownerLogin"`
	OwnerDisplayName string            `json:"ownerDisplayName"`
	Configuration    map[string]string `json:"configuration,omitempty"`
}

// MissingFieldError reports a required request field left empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (r *Request) checkRequired() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"idempotencyKey", r.IdempotencyKey},
		{"tenantName", r.TenantName},
		{"candidateSlug", r.CandidateSlug},
		{"ownerLogin", r.OwnerLogin},
		{"ownerDisplayName", r.OwnerDisplayName},
	} {
		if f.value == "" {
			return &MissingFieldError{Field: f.name}
		}
	}
	return nil
}

// Result is the terminal outcome of a provisioning request.
type Result struct {
	RequestID       int64
	Success         bool
	TenantID        int64
	Slug            string
	OwnerIdentityID string
	ErrorCode       ErrorCode
	Message         string

	// Replayed is true when the result was served from a stored terminal
	// outcome instead of a fresh attempt.
	Replayed bool
}

// InProgressError signals that a request with the same idempotency key is
// still running; the caller should poll for its terminal state instead of
// retrying.
type InProgressError struct {
	RequestID int64
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("request %d is still in progress", e.RequestID)
}

// IsInProgress reports whether err is an InProgressError.
func IsInProgress(err error) bool {
	var ipe *InProgressError
	return errors.As(err, &ipe)
}

func resultFromRequest(row *tenants.ProvisioningRequest, replayed bool) *Result {
	result := &Result{
		RequestID:       row.ID,
		Slug:            row.Slug,
		OwnerIdentityID: row.OwnerIdentityID,
		ErrorCode:       ErrorCode(row.ErrorCode),
		Message:         row.ErrorMessage,
		Replayed:        replayed,
	}
	if row.Status == tenants.StatusCompleted {
		result.Success = true
		if row.TenantID != nil {
			result.TenantID = *row.TenantID
		}
	}
	return result
}
