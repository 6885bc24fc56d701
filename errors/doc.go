// Package errors provides the unified error type used across idresolver.
//
// Every failure surfaced by the resolution core is an *AppError carrying a
// machine-readable code. Callers distinguish the taxonomy with HasCode or the
// Is* predicates:
//
//	if errors.IsAmbiguousUser(err) { ... }   // configuration error, never "not found"
//	if errors.IsNoSuchUser(err) { ... }
//
// Retryable codes (RESOLVER_UNAVAILABLE, CACHE_INCONSISTENT, TIMEOUT) mark
// transient conditions.
package errors
