package storage

import (
	"errors"
	"strings"
)

// Kind classifies storage failures.
type Kind uint8

const (
	KindOther Kind = iota
	KindNotFound
	KindEmptyBody
	KindAllocationExhausted
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindEmptyBody:
		return "empty paste"
	case KindAllocationExhausted:
		return "no free paste identifier"
	case KindIO:
		return "i/o error"
	default:
		return "storage error"
	}
}

// Error is the error type returned by stores. Op names the failed step and
// ID the paste identifier involved, when known.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

var (
	// ErrNotFound is returned when a paste does not exist.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrEmptyBody is returned when an upload carries no bytes.
	ErrEmptyBody = &Error{Kind: KindEmptyBody}
	// ErrAllocationExhausted is returned when no free identifier was found
	// within the attempt budget.
	ErrAllocationExhausted = &Error{Kind: KindAllocationExhausted}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when target is one of the bare
// sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.ID == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IOError wraps an operating system failure.
func IOError(op, id string, err error) error {
	return &Error{Kind: KindIO, Op: op, ID: id, Err: err}
}
