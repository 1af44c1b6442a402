// Package errors provides the error handling conventions shared by all
// pipeline packages.
//
// # Error Taxonomy
//
// The pipeline distinguishes three classes of failure:
//
//   - Transient: timeouts, delivery failures, open circuit breakers. These
//     are retried locally (by the worker pool) or deferred (by the streaming
//     orchestrator) and never crash the process.
//   - Invalid: bad input or configuration, such as an unknown mode name or
//     hybrid weights that do not sum to 100. These fail fast and are never
//     retried.
//   - Fatal: unrecoverable conditions. The pipeline core produces none of
//     these itself, but collaborators may.
//
// # Usage
//
// Wrap errors at package boundaries with the component/method/action pattern:
//
//	return errors.WrapTransient(err, "Orchestrator", "flush", "deliver batch")
//
// and branch on class, not on concrete types:
//
//	if errors.IsTransient(err) {
//	    // defer and retry on the next cycle
//	}
package errors
