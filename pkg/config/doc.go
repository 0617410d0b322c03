// Package config provides application configuration from environment
// variables plus the hot-reloadable provisioning rules file.
//
// # Environment
//
// Server settings:
//
//	TENANTD_HOST="0.0.0.0"
//	TENANTD_PORT="8080"
//	TENANTD_HEALTH_PORT="9090"
//	TENANTD_ADMIN_TOKENS="tok-a,tok-b"
//
// Database and redis:
//
//	TENANTD_POSTGRES_URL="postgres://localhost/tenantd"
//	TENANTD_POSTGRES_MAX_CONNS="25"
//	TENANTD_REDIS_ADDR="localhost:6379"   # optional, enables slug reservations
//	TENANTD_RESERVATION_TTL="2m"
//
// Identity provider:
//
//	TENANTD_IDP_BASE_URL="https://idp.internal.example.com"
//	TENANTD_IDP_TOKEN_URL="https://idp.internal.example.com/oauth/token"
//	TENANTD_IDP_CLIENT_ID="tenantd"
//	TENANTD_IDP_CLIENT_SECRET="..."
//	TENANTD_IDP_MAX_ATTEMPTS="5"
//
// Rules and observability:
//
//	TENANTD_RULES_FILE="/etc/tenantd/rules.yaml"
//	TENANTD_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTD_AUDIT_FILE_PATH="/var/log/tenantd/audit"
//
// # Rules file
//
// Reserved slugs, length bounds, and the availability authority tables are
// operator policy, not code. They live in a YAML file and hot-reload via a
// RulesWatcher:
//
//	watcher, err := config.NewRulesWatcher(cfg.RulesPath, logger)
//	validator := slug.NewValidator(watcher.Rules().Slug)
package config
