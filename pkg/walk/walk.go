// Package walk traverses the linked structures of a pdcrt runtime: the call
// frame chain and the lexical environment chain.
//
// Walks are pull iterators. Each yields one Step per visited node and ends
// with exactly one Stop step saying why it ended. The target may change or
// free the structures between two reads; a failed read ends the walk with
// Fault and everything yielded before stays valid.
package walk

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/tliron/commonlog"

	"github.com/willibrandon/pdscope/pkg/format"
	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/variant"
)

var log = commonlog.GetLogger("pdscope.walk")

// DefaultMaxChain bounds the number of nodes a walk visits.
const DefaultMaxChain = 4096

// StepKind says what a Step visited.
type StepKind int

const (
	Stop StepKind = iota
	Frame
	Environment
	Closure
)

func (k StepKind) String() string {
	switch k {
	case Frame:
		return "frame"
	case Environment:
		return "environment"
	case Closure:
		return "closure"
	}
	return "stop"
}

// Reason says why a walk stopped.
type Reason int

const (
	// End is the natural end of a chain: a NULL link
	End Reason = iota
	// NotAFrame means the frame walk reached something that is not a frame
	NotAFrame
	// InvalidFrame means an environment has fewer slots than the reserved ones
	InvalidFrame
	// Mismatch means the environment walk reached something that is neither
	// an environment nor a closure value
	Mismatch
	// Fault means a read of target memory failed
	Fault
	// TooLong means the walk visited the maximum number of nodes
	TooLong
	// Canceled means the context was canceled
	Canceled
)

var reasonNames = [...]string{
	End:          "end of chain",
	NotAFrame:    "not a frame",
	InvalidFrame: "invalid frame",
	Mismatch:     "neither an environment nor a closure object",
	Fault:        "memory fault",
	TooLong:      "chain too long",
	Canceled:     "canceled",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Silent reports whether a stop is an expected outcome that printers do not
// explain to the user.
func (r Reason) Silent() bool {
	return r == End || r == Fault || r == Canceled
}

// State is the environment walker state.
type State int

const (
	// InEnvironment: the current node is a pdcrt_env
	InEnvironment State = iota
	// InClosureUnwrap: the current node is a closure value whose captured
	// environment is followed without opening a new scope
	InClosureUnwrap
)

func (s State) String() string {
	if s == InClosureUnwrap {
		return "in closure unwrap"
	}
	return "in environment"
}

// Step is one node of a walk.
type Step struct {
	Kind  StepKind
	Index int          // logical index: frame number or scope level
	Node  memory.Value // the visited node, fully dereferenced
	State State        // environment walks only

	// Stop steps only
	Reason Reason
	Err    error
}

// Options bound a walk.
type Options struct {
	// MaxChain is the maximum number of nodes visited; zero means
	// DefaultMaxChain
	MaxChain int
}

// Walker walks chains of one target.
type Walker struct {
	g    *format.Registry
	opts Options
}

// New returns a walker reading through g.
func New(g *format.Registry, opts Options) *Walker {
	if opts.MaxChain <= 0 {
		opts.MaxChain = DefaultMaxChain
	}
	return &Walker{g: g, opts: opts}
}

// MaxChain returns the maximum number of nodes a walk visits.
func (w *Walker) MaxChain() int {
	return w.opts.MaxChain
}

func stop(idx int, reason Reason, node memory.Value, err error) Step {
	return Step{Kind: Stop, Index: idx, Reason: reason, Node: node, Err: err}
}

// fault turns a read error into the Stop step that ends the walk.
func fault(idx int, at memory.Value, err error) Step {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return stop(idx, Canceled, at, err)
	}
	log.Debugf("walk stopped at node %d (%s %s): %s", idx, at.Type, at.Addr, err)
	return stop(idx, Fault, at, err)
}

// Frames walks the frame chain starting at start, which may be a frame or
// any number of pointers to one. The walk follows marco_anterior until it is
// NULL.
func (w *Walker) Frames(ctx context.Context, start memory.Value) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		prevName := w.g.Contract().Frame.Previous
		cur := start
		for idx := 0; ; idx++ {
			if err := ctx.Err(); err != nil {
				yield(stop(idx, Canceled, cur, err))
				return
			}
			if idx > 0 && cur.IsNull() {
				yield(stop(idx, End, cur, nil))
				return
			}
			if idx >= w.opts.MaxChain {
				yield(stop(idx, TooLong, cur, nil))
				return
			}
			v, err := memory.Deref(ctx, w.g.Reader(), cur)
			if err != nil {
				yield(fault(idx, cur, err))
				return
			}
			if w.g.Kind(v) != layout.KindFrame {
				yield(stop(idx, NotAFrame, v, nil))
				return
			}
			if !yield(Step{Kind: Frame, Index: idx, Node: v}) {
				return
			}
			next, ok := v.Field(prevName)
			if !ok {
				yield(fault(idx, v, fmt.Errorf("%w: %s has no member %s", format.ErrLayout, v.Type, prevName)))
				return
			}
			cur = next
		}
	}
}

// Environments walks the lexical scope chain starting at start, a pdcrt_env
// or a closure value (or pointers to either).
//
// From an environment the walk follows slot 0 (ESUP) until it holds the null
// value or a NULL pointer. A closure value found there is unwrapped for free:
// the walk continues at the closure's captured environment and the closure is
// reported under the index of the scope that holds it, so it does not count as
// a scope level. E0, C0, E1, C1, E2 get
// the indices 0, 0, 1, 1, 2.
func (w *Walker) Environments(ctx context.Context, start memory.Value) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		c := w.g.Contract()
		cur := start
		scope := 0
		var state State
		for visited := 0; ; visited++ {
			if err := ctx.Err(); err != nil {
				yield(stop(scope, Canceled, cur, err))
				return
			}
			if visited > 0 && cur.IsNull() {
				yield(stop(scope, End, cur, nil))
				return
			}
			if visited >= w.opts.MaxChain {
				yield(stop(scope, TooLong, cur, nil))
				return
			}
			v, err := memory.Deref(ctx, w.g.Reader(), cur)
			if err != nil {
				yield(fault(scope, cur, err))
				return
			}

			switch w.g.Kind(v) {
			case layout.KindEnv:
				state = InEnvironment
			case layout.KindValue:
				vr, err := w.g.Discriminant(v)
				if err != nil {
					yield(fault(scope, v, err))
					return
				}
				switch vr.Case {
				case variant.Closure:
				case variant.Null:
					if visited > 0 {
						// ESUP of the outermost scope
						yield(stop(scope, End, v, nil))
						return
					}
					yield(stop(scope, Mismatch, v, nil))
					return
				default:
					yield(stop(scope, Mismatch, v, nil))
					return
				}
				state = InClosureUnwrap
			default:
				yield(stop(scope, Mismatch, v, nil))
				return
			}

			switch state {
			case InEnvironment:
				size, err := w.g.EnvSize(v)
				if err != nil {
					yield(fault(scope, v, err))
					return
				}
				if size < layout.NumReservedSlots {
					yield(Step{Kind: Stop, Index: scope, Node: v, State: state, Reason: InvalidFrame,
						Err: fmt.Errorf("%s has %d slots, at least %d required", v.Type, size, layout.NumReservedSlots)})
					return
				}
				if !yield(Step{Kind: Environment, Index: scope, Node: v, State: state}) {
					return
				}
				scope++
				if cur, err = w.g.EnvSlot(ctx, v, 0); err != nil {
					yield(fault(scope, v, err))
					return
				}

			case InClosureUnwrap:
				if !yield(Step{Kind: Closure, Index: max(scope-1, 0), Node: v, State: state}) {
					return
				}
				payload, _, err := w.g.Payload(ctx, v)
				if err != nil {
					yield(fault(scope, v, err))
					return
				}
				env, ok := payload.Value.Field(c.Closure.Env)
				if !ok {
					yield(fault(scope, v, fmt.Errorf("%w: closure has no member %s", format.ErrLayout, c.Closure.Env)))
					return
				}
				cur = env
			}
		}
	}
}
