package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/recorder"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// AddressBreakpoint stops at reads of an address
	AddressBreakpoint BreakpointType = iota
	// TypeBreakpoint stops at reads of objects of a type
	TypeBreakpoint
	// EventTypeBreakpoint stops at events of a type, such as ReadFault
	EventTypeBreakpoint
)

func (t BreakpointType) String() string {
	switch t {
	case AddressBreakpoint:
		return "addr"
	case TypeBreakpoint:
		return "type"
	default:
		return "event"
	}
}

// Breakpoint is a condition on recorded events that stops a replay.
type Breakpoint struct {
	ID        int
	Type      BreakpointType
	Addr      memory.Addr // For AddressBreakpoint
	TypeName  string      // For TypeBreakpoint
	EventType string      // For EventTypeBreakpoint
	Enabled   bool
}

func (bp *Breakpoint) String() string {
	var what string
	switch bp.Type {
	case AddressBreakpoint:
		what = "addr:" + bp.Addr.String()
	case TypeBreakpoint:
		what = "type:" + bp.TypeName
	default:
		what = bp.EventType
	}
	state := "enabled"
	if !bp.Enabled {
		state = "disabled"
	}
	return fmt.Sprintf("%d: %s (%s)", bp.ID, what, state)
}

// Matches reports whether the event satisfies the breakpoint, ignoring
// whether it is enabled.
func (bp *Breakpoint) Matches(e recorder.Event) bool {
	switch bp.Type {
	case AddressBreakpoint:
		return e.Addr == bp.Addr
	case TypeBreakpoint:
		return e.TypeName != "" && layout.NormalizeType(e.TypeName) == bp.TypeName
	default:
		return strings.EqualFold(e.Type.String(), bp.EventType)
	}
}

// BreakpointManager manages replay breakpoints
type BreakpointManager struct {
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint adds a breakpoint described by location: "addr:0x1040",
// "type:pdcrt_marco" or an event type name such as "ReadFault".
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp := &Breakpoint{Enabled: true}

	switch {
	case strings.HasPrefix(location, "addr:"):
		bp.Type = AddressBreakpoint
		n, err := strconv.ParseUint(strings.TrimPrefix(location, "addr:"), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %v", err)
		}
		bp.Addr = memory.Addr(n)
	case strings.HasPrefix(location, "type:"):
		bp.Type = TypeBreakpoint
		bp.TypeName = layout.NormalizeType(strings.TrimPrefix(location, "type:"))
		if bp.TypeName == "" {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
	default:
		et, ok := eventType(location)
		if !ok {
			return nil, fmt.Errorf("unknown event type: %s", location)
		}
		bp.Type = EventTypeBreakpoint
		bp.EventType = et.String()
	}

	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// eventType accepts event type names case-insensitively, and "fault" for
// ReadFault.
func eventType(name string) (recorder.EventType, bool) {
	if strings.EqualFold(name, "fault") {
		return recorder.ReadFault, true
	}
	for _, et := range []recorder.EventType{
		recorder.ValueRead, recorder.ElementRead, recorder.BytesRead,
		recorder.ReadFault, recorder.SnapshotEvent,
	} {
		if strings.EqualFold(name, et.String()) {
			return et, true
		}
	}
	return 0, false
}

// GetBreakpoints returns all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []*Breakpoint {
	return bm.breakpoints
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint reports whether any enabled breakpoint matches the event
func (bm *BreakpointManager) CheckBreakpoint(e recorder.Event) bool {
	for _, bp := range bm.breakpoints {
		if bp.Enabled && bp.Matches(e) {
			return true
		}
	}
	return false
}
