package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stackmason/tenantd/pkg/httputil"
)

// Handlers exposes the read-only audit query API. There is deliberately no
// mutation surface: audit rows are append-only and written exclusively by
// the orchestrator.
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit query handlers.
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers audit query routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
}

// listEvents handles GET /audit/events, filterable by request_id,
// tenant_id, stage, status, and time range.
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.logger.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, errors.New("failed to query audit log"))
		return
	}

	httputil.WriteSuccess(w, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func parseFilter(r *http.Request) (Filter, error) {
	var filter Filter
	q := r.URL.Query()

	if v := q.Get("request_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.RequestID = &id
	}
	if v := q.Get("tenant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.TenantID = &id
	}
	filter.Stage = Stage(httputil.ParseQueryString(r, "stage", ""))
	filter.Status = Status(httputil.ParseQueryString(r, "status", ""))
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.Until = &t
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset
	return filter, nil
}
