// Package slug normalizes and validates tenant identifiers.
//
// A slug is the short, URL-safe, globally unique identifier a tenant is
// addressed by. Sanitize turns free-form input into slug shape; Validator
// rejects candidates that are empty, too short, or collide with reserved
// platform routes. The reserved-word set and length bounds come from
// configuration (see pkg/config), not from this package.
//
// Everything here is pure: no I/O, no clock, no randomness.
package slug
