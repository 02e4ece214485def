// Package errors provides standardized error handling for stagegraph.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or assembly, do not retry) and Fatal (the graph run cannot
// continue). The engine raises fatal errors for port misuse and boundary
// protocol breaches; both end the affected graph run and are delivered through
// the normal terminal paths rather than crashing the process.
//
// # Engine Errors
//
//   - ErrIllegalState: a stage pulled twice, grabbed without a push, pushed
//     without demand or terminated a closed port. Raised with IllegalState.
//   - ErrProtocolViolation: an upstream publisher or downstream subscriber broke
//     the request/onNext contract. Raised with ProtocolViolation and one of
//     ErrNoDemand, ErrNilElement, ErrNilError or ErrInvalidDemand as cause.
//   - ErrUserFunction: a map, predicate, accumulator, finisher or action
//     returned an error or panicked. Raised with UserFunction.
//
// When a failure occurs while another is being delivered, Supersede chains the
// two. The new error is what errors.Is and errors.As see; the replaced one stays
// available on SupersededError.Superseded:
//
//	err := errors.Supersede(actionErr, upstreamErr)
//	var se *errors.SupersededError
//	if stderrors.As(err, &se) {
//	    logger.Warn("failure superseded", "original", se.Superseded)
//	}
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers attach a classification:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
package errors
