// Package errors tags errors with a Kind that boundaries map to status codes, plus
// key/value attributes for logging.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation
	KindNotFound
	KindConflict
	KindUnavailable
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindInternal:    "internal",
	KindValidation:  "validation",
	KindNotFound:    "not_found",
	KindConflict:    "conflict",
	KindUnavailable: "unavailable",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// kinded carries a Kind and a message, optionally over a cause.
type kinded struct {
	kind  Kind
	msg   string
	cause error
}

func (e *kinded) Error() string {
	switch {
	case e.cause == nil:
		return e.msg
	case e.msg == "":
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kinded) Unwrap() error { return e.cause }

// annotated adds attributes to an error without changing its message or kind.
type annotated struct {
	error
	key string
	val any
}

func (e *annotated) Unwrap() error { return e.error }

func New(kind Kind, msg string) error {
	return &kinded{kind: kind, msg: msg}
}

func Errorf(kind Kind, format string, args ...any) error {
	return &kinded{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap puts err under msg with the given kind. A nil err yields nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &kinded{kind: kind, msg: msg, cause: err}
}

func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kinded{kind: kind, msg: fmt.Sprintf(format, args...), cause: err}
}

// Attr attaches key=val to err. An error with no kind in its chain becomes KindInternal.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}
	if GetKind(err) == KindUnknown {
		err = &kinded{kind: KindInternal, cause: err}
	}
	return &annotated{error: err, key: key, val: val}
}

// GetKind returns the outermost Kind in the chain, or KindUnknown.
func GetKind(err error) Kind {
	var k *kinded
	if errors.As(err, &k) {
		return k.kind
	}
	return KindUnknown
}

// GetAttributes collects every attribute in the chain. Outer values shadow inner ones.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	for ; err != nil; err = errors.Unwrap(err) {
		if a, ok := err.(*annotated); ok {
			if _, seen := attrs[a.key]; !seen {
				attrs[a.key] = a.val
			}
		}
	}
	return attrs
}

// Is is errors.Is, so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }
