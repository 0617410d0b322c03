package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmason/tenantd/pkg/provisioning"
	"github.com/stackmason/tenantd/pkg/tenants"
)

type fakeProvisioner struct {
	result *provisioning.Result
	err    error
	gotReq *provisioning.Request
}

func (f *fakeProvisioner) Provision(_ context.Context, req provisioning.Request) (*provisioning.Result, error) {
	f.gotReq = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRequests struct {
	row *tenants.ProvisioningRequest
	err error
}

func (f *fakeRequests) GetRequestByID(context.Context, int64) (*tenants.ProvisioningRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.row, nil
}

const testToken = "ops:secret-token"

func newTestServer(p Provisioner, r RequestReader) *Server {
	return NewServer(Config{
		Provisioner: p,
		Requests:    r,
		AdminTokens: []string{testToken},
	})
}

func doProvision(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/tenants/provision", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func validBody() string {
	return `{
		"idempotencyKey": "abc-1",
		"tenantName": "Golden Spoon",
		"candidateSlug": "Golden Spoon!!",
		"ownerLogin": "owner@example.com",
		"ownerDisplayName": "Casey Owner"
	}`
}

func TestProvisionSuccess(t *testing.T) {
	prov := &fakeProvisioner{result: &provisioning.Result{
		RequestID:       7,
		Success:         true,
		TenantID:        42,
		Slug:            "golden-spoon",
		OwnerIdentityID: "idp-1",
	}}
	server := newTestServer(prov, &fakeRequests{})

	w := doProvision(t, server, validBody())

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp ProvisionSuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(7), resp.RequestID)
	assert.Equal(t, int64(42), resp.TenantID)
	assert.Equal(t, "golden-spoon", resp.Slug)
	assert.Equal(t, "idp-1", resp.OwnerIdentityID)
	assert.False(t, resp.Replayed)

	// The admin id comes from the token table, never from the body.
	require.NotNil(t, prov.gotReq)
	assert.Equal(t, "ops", prov.gotReq.AdminID)
	assert.Equal(t, "abc-1", prov.gotReq.IdempotencyKey)
}

func TestProvisionReplayedAnswersOK(t *testing.T) {
	prov := &fakeProvisioner{result: &provisioning.Result{
		RequestID: 7,
		Success:   true,
		TenantID:  42,
		Slug:      "golden-spoon",
		Replayed:  true,
	}}
	server := newTestServer(prov, &fakeRequests{})

	w := doProvision(t, server, validBody())

	require.Equal(t, http.StatusOK, w.Code)
	var resp ProvisionSuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Replayed)
}

func TestProvisionFailureStatusCodes(t *testing.T) {
	tests := []struct {
		code       provisioning.ErrorCode
		wantStatus int
	}{
		{provisioning.CodeInvalidSlug, http.StatusBadRequest},
		{provisioning.CodeInvalidReference, http.StatusBadRequest},
		{provisioning.CodeDuplicateSlug, http.StatusConflict},
		{provisioning.CodeIdentityCreationFailed, http.StatusBadGateway},
		{provisioning.CodeUnauthorized, http.StatusUnauthorized},
		{provisioning.CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			prov := &fakeProvisioner{result: &provisioning.Result{
				RequestID: 7,
				Success:   false,
				ErrorCode: tt.code,
				Message:   "boom",
			}}
			server := newTestServer(prov, &fakeRequests{})

			w := doProvision(t, server, validBody())

			require.Equal(t, tt.wantStatus, w.Code)
			var resp ProvisionFailureResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.code), resp.ErrorCode)
			assert.Equal(t, "boom", resp.Message)
			assert.Equal(t, int64(7), resp.RequestID)
		})
	}
}

func TestProvisionMissingField(t *testing.T) {
	prov := &fakeProvisioner{err: &provisioning.MissingFieldError{Field: "ownerLogin"}}
	server := newTestServer(prov, &fakeRequests{})

	w := doProvision(t, server, `{"idempotencyKey": "abc-1"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ownerLogin is required")
}

func TestProvisionInProgress(t *testing.T) {
	prov := &fakeProvisioner{err: &provisioning.InProgressError{RequestID: 7}}
	server := newTestServer(prov, &fakeRequests{})

	w := doProvision(t, server, validBody())

	require.Equal(t, http.StatusConflict, w.Code)
	var resp ProvisionFailureResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, ErrorCodeInProgress, resp.ErrorCode)
	assert.Equal(t, int64(7), resp.RequestID)
}

func TestProvisionInternalErrorIsOpaque(t *testing.T) {
	prov := &fakeProvisioner{err: fmt.Errorf("pq: connection refused")}
	server := newTestServer(prov, &fakeRequests{})

	w := doProvision(t, server, validBody())

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestProvisionMalformedJSON(t *testing.T) {
	server := newTestServer(&fakeProvisioner{}, &fakeRequests{})

	w := doProvision(t, server, `{"idempotencyKey": `)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRequest(t *testing.T) {
	tenantID := int64(42)
	now := time.Now().UTC().Truncate(time.Second)
	row := &tenants.ProvisioningRequest{
		ID:                7,
		IdempotencyKey:    "abc-1",
		RequestingAdminID: "ops",
		TenantName:        "Golden Spoon",
		CandidateSlug:     "Golden Spoon!!",
		OwnerLogin:        "owner@example.com",
		Status:            tenants.StatusCompleted,
		TenantID:          &tenantID,
		Slug:              "golden-spoon",
		CreatedAt:         now,
	}

	t.Run("found", func(t *testing.T) {
		server := newTestServer(&fakeProvisioner{}, &fakeRequests{row: row})

		req := httptest.NewRequest("GET", "/api/v1/tenants/provision/7", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got tenants.ProvisioningRequest
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, tenants.StatusCompleted, got.Status)
		assert.Equal(t, "golden-spoon", got.Slug)
	})

	t.Run("not found", func(t *testing.T) {
		server := newTestServer(&fakeProvisioner{}, &fakeRequests{err: tenants.ErrRequestNotFound})

		req := httptest.NewRequest("GET", "/api/v1/tenants/provision/99", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("reader error", func(t *testing.T) {
		server := newTestServer(&fakeProvisioner{}, &fakeRequests{err: errors.New("pq: down")})

		req := httptest.NewRequest("GET", "/api/v1/tenants/provision/7", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
	})

	t.Run("non-numeric id misses the route", func(t *testing.T) {
		server := newTestServer(&fakeProvisioner{}, &fakeRequests{row: row})

		req := httptest.NewRequest("GET", "/api/v1/tenants/provision/seven", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

type fakeAuditRoutes struct {
	registered bool
}

func (f *fakeAuditRoutes) RegisterRoutes(router *mux.Router) {
	f.registered = true
	router.HandleFunc("/audit/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
}

func TestAuditRoutesRequireAuth(t *testing.T) {
	audit := &fakeAuditRoutes{}
	server := NewServer(Config{
		Provisioner: &fakeProvisioner{},
		Requests:    &fakeRequests{},
		Audit:       audit,
		AdminTokens: []string{testToken},
	})
	require.True(t, audit.registered)

	req := httptest.NewRequest("GET", "/audit/events", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("GET", "/audit/events", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
