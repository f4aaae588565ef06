package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/willibrandon/pdscope/pkg/memory"
)

var log = commonlog.GetLogger("pdscope.recorder")

// Reader is a memory.Reader that records every read it forwards, so the
// session can be replayed later without the target.
//
// Reads are never failed on behalf of the recorder: when an event cannot be
// stored the read still succeeds and the loss is logged.
type Reader struct {
	r       memory.Reader
	rec     Recorder
	session string

	mu   sync.Mutex
	next int64
}

// NewReader records the reads made through r into rec under a fresh session
// id.
func NewReader(r memory.Reader, rec Recorder) *Reader {
	return &Reader{r: r, rec: rec, session: uuid.NewString(), next: 1}
}

// Session returns the session id stamped on every event.
func (rr *Reader) Session() string {
	return rr.session
}

// Recorder returns the recorder events go to.
func (rr *Reader) Recorder() Recorder {
	return rr.rec
}

func (rr *Reader) Read(ctx context.Context, addr memory.Addr, typeName string) (memory.Value, error) {
	v, err := rr.r.Read(ctx, addr, typeName)
	e := Event{Type: ValueRead, Addr: addr, TypeName: typeName}
	rr.record(e, v, nil, err)
	return v, err
}

func (rr *Reader) Index(ctx context.Context, base memory.Addr, elemType string, i int) (memory.Value, error) {
	v, err := rr.r.Index(ctx, base, elemType, i)
	e := Event{Type: ElementRead, Addr: base, TypeName: elemType, Index: i}
	rr.record(e, v, nil, err)
	return v, err
}

func (rr *Reader) ReadBytes(ctx context.Context, addr memory.Addr, n int) ([]byte, error) {
	b, err := rr.r.ReadBytes(ctx, addr, n)
	e := Event{Type: BytesRead, Addr: addr, Index: n}
	rr.record(e, memory.Value{}, b, err)
	return b, err
}

// Eval forwards expression evaluation when the wrapped reader supports it.
// Evaluations are not recorded; the reads they lead to are.
func (rr *Reader) Eval(ctx context.Context, expr string) (memory.Value, error) {
	ev, ok := rr.r.(memory.Evaluator)
	if !ok {
		return memory.Value{}, errors.New("target cannot evaluate expressions")
	}
	return ev.Eval(ctx, expr)
}

func (rr *Reader) record(e Event, v memory.Value, raw []byte, err error) {
	if err != nil {
		// Cancellation says nothing about the target
		if !memory.IsAccess(err) {
			return
		}
		e.Of, e.Type = e.Type, ReadFault
		e.Details = err.Error()
	} else if e.Type == BytesRead {
		e.Payload = raw
	} else {
		payload, encErr := EncodeValue(v)
		if encErr != nil {
			log.Errorf("cannot encode %s read at %s: %s", e.Type, e.Addr, encErr)
			return
		}
		e.Payload = payload
	}

	rr.mu.Lock()
	e.ID = rr.next
	rr.next++
	rr.mu.Unlock()
	e.Session = rr.session
	e.Timestamp = CurrentTime()
	if recErr := rr.rec.RecordEvent(e); recErr != nil {
		log.Warningf("event %d lost: %s", e.ID, recErr)
	}
}
