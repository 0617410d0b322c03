package api

import (
	"errors"
	"net/http"

	"github.com/stackmason/tenantd/pkg/httputil"
	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/provisioning"
	"github.com/stackmason/tenantd/pkg/tenants"
)

// ProvisionHandlers serves the tenant provisioning endpoints.
type ProvisionHandlers struct {
	provisioner Provisioner
	requests    RequestReader
}

// NewProvisionHandlers creates the provisioning handler group.
func NewProvisionHandlers(provisioner Provisioner, requests RequestReader) *ProvisionHandlers {
	return &ProvisionHandlers{
		provisioner: provisioner,
		requests:    requests,
	}
}

// Provision handles POST /api/v1/tenants/provision. The call blocks until
// the request reaches a terminal state; callers that time out can replay with
// the same idempotency key or poll GetRequest.
func (h *ProvisionHandlers) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.AdminID = observability.GetAdminID(r.Context())

	result, err := h.provisioner.Provision(r.Context(), req)
	if err != nil {
		h.writeProvisionError(w, r, err)
		return
	}

	if !result.Success {
		httputil.WriteJSON(w, statusForCode(result.ErrorCode), ProvisionFailureResponse{
			Success:   false,
			RequestID: result.RequestID,
			ErrorCode: string(result.ErrorCode),
			Message:   result.Message,
		})
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, ProvisionSuccessResponse{
		Success:         true,
		RequestID:       result.RequestID,
		TenantID:        result.TenantID,
		Slug:            result.Slug,
		OwnerIdentityID: result.OwnerIdentityID,
		Replayed:        result.Replayed,
	})
}

func (h *ProvisionHandlers) writeProvisionError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *provisioning.MissingFieldError
	if errors.As(err, &missing) {
		httputil.WriteBadRequest(w, missing.Error())
		return
	}

	var inProgress *provisioning.InProgressError
	if errors.As(err, &inProgress) {
		httputil.WriteJSON(w, http.StatusConflict, ProvisionFailureResponse{
			Success:   false,
			RequestID: inProgress.RequestID,
			ErrorCode: ErrorCodeInProgress,
			Message:   "a request with this idempotency key is already running; poll for its outcome",
		})
		return
	}

	observability.FromContext(r.Context()).WithError(err).Error("provision request failed before reaching the ledger")
	httputil.WriteInternalError(w, errors.New("internal server error"))
}

// GetRequest handles GET /api/v1/tenants/provision/{requestID}. It returns
// the stored ledger row so callers can poll an in-flight request.
func (h *ProvisionHandlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := httputil.ParsePathInt64OrError(w, r, "requestID")
	if !ok {
		return
	}

	row, err := h.requests.GetRequestByID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, tenants.ErrRequestNotFound) {
			httputil.WriteNotFoundError(w, "provisioning request not found")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("failed to load provisioning request")
		httputil.WriteInternalError(w, errors.New("internal server error"))
		return
	}

	httputil.WriteSuccess(w, row)
}
