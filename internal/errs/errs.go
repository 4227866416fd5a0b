// Package errs defines the exhaustive error-kind taxonomy for Oneiric (§7).
//
// Every failure the core surfaces to a caller wraps one of these Kinds so
// callers can switch on Is/As instead of parsing messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories the core may raise.
type Kind string

const (
	InvalidCandidate        Kind = "invalid_candidate"
	NoCandidate             Kind = "no_candidate"
	NoCapableCandidate      Kind = "no_capable_candidate"
	UnknownProviderOverride Kind = "unknown_provider_override"
	FactoryNotAllowed       Kind = "factory_not_allowed"
	ActivateFailed          Kind = "activate_failed"
	SwapFailed              Kind = "swap_failed"
	HealthCheckFailed       Kind = "health_check_failed"
	DigestMismatch          Kind = "digest_mismatch"
	SignatureInvalid        Kind = "signature_invalid"
	ManifestExpired         Kind = "manifest_expired"
	PathTraversalBlocked    Kind = "path_traversal_blocked"
	UnsafeArtifactURI       Kind = "unsafe_artifact_uri"
	Timeout                 Kind = "timeout"
	CircuitOpen             Kind = "circuit_open"
)

// Error is the concrete error type carrying a Kind, a human message, an
// optional domain/key locus, and an optional wrapped cause.
//
// RolledBack distinguishes a swap failure that restored the previous
// instance from one that didn't; it rides on SwapFailed rather than a
// dedicated kind, matching §8's S3 scenario, which names the raised error
// "SwapFailed with rolled_back=true" rather than a distinct kind.
type Error struct {
	Kind       Kind
	Domain     string
	Key        string
	Message    string
	RolledBack bool
	Cause      error
}

func (e *Error) Error() string {
	loc := ""
	if e.Domain != "" || e.Key != "" {
		loc = fmt.Sprintf("(%s,%s) ", e.Domain, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s%s: %s: %v", loc, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s%s: %s", loc, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, satisfying
// errors.Is(err, &Error{Kind: X}) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, domain, key, message string) *Error {
	return &Error{Kind: kind, Domain: domain, Key: key, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, domain, key, message string, cause error) *Error {
	return &Error{Kind: kind, Domain: domain, Key: key, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, if err is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
