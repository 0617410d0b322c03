package api

import (
	"net/http"

	"github.com/stackmason/tenantd/pkg/provisioning"
)

// ProvisionSuccessResponse is the envelope for a completed provisioning run.
type ProvisionSuccessResponse struct {
	Success         bool   `json:"success"`
	RequestID       int64  `json:"requestId"`
	TenantID        int64  `json:"tenantId"`
	Slug            string `json:"slug"`
	OwnerIdentityID string `json:"ownerIdentityId"`
	Replayed        bool   `json:"replayed,omitempty"`
}

// ProvisionFailureResponse is the envelope for a failed or still-running run.
type ProvisionFailureResponse struct {
	Success   bool   `json:"success"`
	RequestID int64  `json:"requestId,omitempty"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// ErrorCodeInProgress is returned when another request holding the same
// idempotency key has not reached a terminal state yet.
const ErrorCodeInProgress = "InProgress"

// statusForCode maps a terminal error code to its HTTP status.
func statusForCode(code provisioning.ErrorCode) int {
	switch code {
	case provisioning.CodeInvalidSlug, provisioning.CodeInvalidReference:
		return http.StatusBadRequest
	case provisioning.CodeDuplicateSlug:
		return http.StatusConflict
	case provisioning.CodeIdentityCreationFailed:
		return http.StatusBadGateway
	case provisioning.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
