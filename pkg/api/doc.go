// Package api exposes the administrative HTTP surface for tenant
// provisioning.
//
// # Endpoints
//
// All /api/v1 routes require a static admin bearer token:
//
//	POST /api/v1/tenants/provision              run a provisioning request
//	GET  /api/v1/tenants/provision/{requestID}  poll a stored request
//	GET  /audit/events                          query the audit trail
//
// Provision blocks until the request reaches a terminal state and returns an
// envelope keyed on success:
//
//	{"success": true, "requestId": 7, "tenantId": 42, "slug": "golden-spoon", "ownerIdentityId": "idp-1"}
//	{"success": false, "requestId": 7, "errorCode": "DuplicateSlug", "message": "slug \"golden-spoon\" is already taken"}
//
// Terminal error codes map to HTTP statuses: InvalidSlug and InvalidReference
// are 400, DuplicateSlug 409, IdentityCreationFailed 502, Unknown 500. A
// request still running under the same idempotency key answers 409 with code
// InProgress.
package api
