// Package fault defines the error kinds shared by the rotation and reindex engines.
// Callers branch on the kind, never on message text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller must react to it.
type Kind int

const (
	// KindConfiguration marks invalid parameters or cluster state that violates
	// rotation naming rules. Nothing should have been mutated yet.
	KindConfiguration Kind = iota + 1
	// KindGateway marks a network, timeout or store-side rejection.
	KindGateway
	// KindCursorExpired marks a scroll request issued after its keep-alive elapsed.
	KindCursorExpired
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindGateway:
		return "gateway"
	case KindCursorExpired:
		return "cursor expired"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind, so errors.Is(err, fault.ErrCursorExpired) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Op == "" && t.Err == nil && e.Kind == t.Kind
	}
	return false
}

// Sentinels usable with errors.Is.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrGateway       = &Error{Kind: KindGateway}
	ErrCursorExpired = &Error{Kind: KindCursorExpired}
)

// Configf builds a configuration error.
func Configf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Config wraps err as a configuration error.
func Config(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Gateway wraps err as a gateway error. Errors already classified are returned unchanged.
func Gateway(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindGateway, Op: op, Err: err}
}

// CursorExpired wraps err as a cursor expiry.
func CursorExpired(op string, err error) error {
	return &Error{Kind: KindCursorExpired, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in the chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
