// Package retry provides a bounded exponential-backoff retry policy.
//
// The policy is a first-class value decoupled from the code it retries:
// callers hand Do an operation, mark non-retryable failures with Permanent,
// and receive an ExhaustedError when every attempt failed. Built on
// github.com/cenkalti/backoff/v4.
package retry
