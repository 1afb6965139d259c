// Package errs defines the compile-time error taxonomy: five concrete,
// exported error kinds every component raises instead of an ad hoc string
// or a bare [fmt.Errorf]. All five implement error and compose with
// [errors.As]/[errors.Is].
package errs

import "fmt"

// ResolutionError reports an identifier that could not be found in any
// enclosing scope.
type ResolutionError struct {
	Name string
	// Where names the scope or expression the lookup was attempted from,
	// standing in for a source position this backend does not carry
	// (positions belong to the front end).
	Where string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("errs: cannot resolve %q in %s", e.Name, e.Where)
}

// TypeMismatchError reports an assignment or operator whose operand types
// fail the matching relation (exact, class-inherit, array-any, to-any,
// from-any).
type TypeMismatchError struct {
	Want, Got string
	Context   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("errs: type mismatch in %s: want %s, got %s", e.Context, e.Want, e.Got)
}

// UnsupportedError reports a source feature this backend declines to
// lower, such as a dynamic-array literal with a rich object-literal
// initializer.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("errs: unsupported: %s", e.Feature)
}

// InvariantViolation reports an internal cache or slot-index
// disagreement: a compiler bug, never a user-facing condition. Every
// component that detects one panics with *InvariantViolation; the single
// outermost Compile entry point recovers and converts it to a returned
// error.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("errs: invariant violation: %s", e.Detail)
}

// ValidationFailure reports that the assembled module failed the
// underlying WebAssembly builder's validator.
type ValidationFailure struct {
	Detail string
	// Text is the module's text form, attached for diagnosis when the
	// Driver was built with the emit-then-reparse validation pass
	// enabled.
	Text string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("errs: module failed validation: %s", e.Detail)
}

// Panic converts an *InvariantViolation into a Go panic, for use at the
// point an internal inconsistency is first detected deep in the call
// stack. Pair with [Recover] at the single outermost entry point.
func Panic(detail string) {
	panic(&InvariantViolation{Detail: detail})
}

// Recover converts a panicking *InvariantViolation into a returned error
// through *errp, leaving any other panic value to propagate. Call via
// `defer errs.Recover(&err)` in exactly one place: the driver's exported
// Compile entry point.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if iv, ok := r.(*InvariantViolation); ok {
		*errp = iv
		return
	}
	panic(r)
}
