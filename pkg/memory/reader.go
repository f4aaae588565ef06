package memory

import (
	"context"
	"errors"
	"fmt"
)

// ErrAccess matches every failed read of target memory.
var ErrAccess = errors.New("memory access error")

// ErrDerefLimit is returned when a pointer chain does not bottom out.
var ErrDerefLimit = errors.New("too many pointer indirections")

// MaxIndirections bounds Deref.
const MaxIndirections = 64

// AccessError reports a read the target could not satisfy: an invalid,
// unmapped or since-freed reference.
type AccessError struct {
	Addr Addr
	Type string
	Err  error
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("cannot access memory at %s", e.Addr)
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrAccess) true for every AccessError.
func (e *AccessError) Is(target error) bool {
	return target == ErrAccess
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// IsAccess reports whether err is a memory access failure.
func IsAccess(err error) bool {
	return errors.Is(err, ErrAccess)
}

// Reader is the capability pdscope consumes from its environment.
//
// Implementations may be backed by a live process, so any call can fail
// with an *AccessError even if the same reference was readable a moment ago.
type Reader interface {
	// Read returns the object of type typeName stored at addr.
	Read(ctx context.Context, addr Addr, typeName string) (Value, error)

	// Index returns element i of an array of elemType starting at base.
	Index(ctx context.Context, base Addr, elemType string, i int) (Value, error)

	// ReadBytes returns n raw bytes starting at addr.
	ReadBytes(ctx context.Context, addr Addr, n int) ([]byte, error)
}

// Evaluator is implemented by readers that can resolve source expressions
// (variable names, casts) into values.
type Evaluator interface {
	Eval(ctx context.Context, expr string) (Value, error)
}

// Deref follows pointers starting at v until a non-pointer value is reached.
// A null pointer is returned as is, without error.
func Deref(ctx context.Context, r Reader, v Value) (Value, error) {
	for i := 0; v.Kind == Pointer; i++ {
		if v.Addr == 0 {
			return v, nil
		}
		if i >= MaxIndirections {
			return v, ErrDerefLimit
		}
		next, err := r.Read(ctx, v.Addr, ElemType(v.Type))
		if err != nil {
			return v, err
		}
		v = next
	}
	return v, nil
}

// DerefOnce follows exactly one pointer.
func DerefOnce(ctx context.Context, r Reader, v Value) (Value, error) {
	if v.Kind != Pointer || v.Addr == 0 {
		return v, nil
	}
	return r.Read(ctx, v.Addr, ElemType(v.Type))
}

// Elements returns the base address and element type of an array-like
// value: an inline array or a pointer to its first element.
func Elements(v Value) (Addr, string, bool) {
	switch v.Kind {
	case Pointer, Array:
		return v.Addr, ElemType(v.Type), true
	default:
		return 0, "", false
	}
}
