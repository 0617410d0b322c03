// Package identity is the client for the external identity provider.
//
// The provider owns the lifecycle of owner credentials; this package only
// creates, discovers, and (best-effort) deletes them. Ensurer implements the
// create-or-adopt algorithm that lets concurrent provisioning requests for
// the same login converge on a single identity: the provider's own
// uniqueness enforcement is the serialization point, with detect-and-retry
// instead of any distributed lock.
package identity
