package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stackmason/tenantd/pkg/observability"
	"github.com/stackmason/tenantd/pkg/provisioning"
	"github.com/stackmason/tenantd/pkg/tenants"
)

// Provisioner runs a provisioning request to a terminal outcome.
// *provisioning.Orchestrator satisfies it.
type Provisioner interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

// RequestReader loads stored provisioning requests for the polling endpoint.
// *tenants.Store satisfies it.
type RequestReader interface {
	GetRequestByID(ctx context.Context, id int64) (*tenants.ProvisioningRequest, error)
}

// RouteRegistrar is implemented by handler groups that attach their own
// routes, such as the audit query endpoints.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Config carries the server's collaborators.
type Config struct {
	Provisioner Provisioner
	Requests    RequestReader
	Audit       RouteRegistrar // optional
	AdminTokens []string
	Logger      *observability.Logger
	Metrics     *observability.Metrics // optional
}

// Server is the administrative HTTP API.
type Server struct {
	router  *mux.Router
	handler *ProvisionHandlers
	logger  *observability.Logger
}

// NewServer creates the API server and wires all routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		handler: NewProvisionHandlers(cfg.Provisioner, cfg.Requests),
		logger:  cfg.Logger,
	}

	s.router.Use(RequestIDMiddleware)
	if cfg.Logger != nil {
		s.router.Use(LoggerMiddleware(cfg.Logger))
	}
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	auth := NewAdminAuth(cfg.AdminTokens)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth.Middleware)
	v1.HandleFunc("/tenants/provision", s.handler.Provision).Methods("POST")
	v1.HandleFunc("/tenants/provision/{requestID:[0-9]+}", s.handler.GetRequest).Methods("GET")

	if cfg.Audit != nil {
		audit := s.router.PathPrefix("").Subrouter()
		audit.Use(auth.Middleware)
		cfg.Audit.RegisterRoutes(audit)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
