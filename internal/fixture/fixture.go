// Package fixture builds synthetic pdcrt heaps in a memory.Image.
//
// Values are shaped the way the Delve adapter reports them (structs with named
// members, pointers carrying their pointee type, enumerators carrying their
// symbol), so code exercised against a fixture behaves the same against a
// live process. Member names come from the layout contract the builder was
// created with.
package fixture

import (
	"strconv"

	"github.com/willibrandon/pdscope/pkg/layout"
	"github.com/willibrandon/pdscope/pkg/memory"
	"github.com/willibrandon/pdscope/pkg/variant"
)

// Base is the first address handed out by a Builder.
const Base memory.Addr = 0x1000

const stride = 0x100

var tagSymbols = map[variant.Case]string{
	variant.Integer:        "PDCRT_TOBJ_ENTERO",
	variant.Float:          "PDCRT_TOBJ_FLOAT",
	variant.StackMark:      "PDCRT_TOBJ_MARCA_DE_PILA",
	variant.Closure:        "PDCRT_TOBJ_CLOSURE",
	variant.Text:           "PDCRT_TOBJ_TEXTO",
	variant.Object:         "PDCRT_TOBJ_OBJETO",
	variant.Boolean:        "PDCRT_TOBJ_BOOLEANO",
	variant.Null:           "PDCRT_TOBJ_NULO",
	variant.Array:          "PDCRT_TOBJ_ARREGLO",
	variant.ClosureCopy:    "PDCRT_TOBJ_CLOSURE_COPIADA",
	variant.ExtendedObject: "PDCRT_TOBJ_OBJETO_EXTENDIDO",

	variant.Start:           "PDCRT_CONT_INICIAR",
	variant.Resume:          "PDCRT_CONT_CONTINUAR",
	variant.Return:          "PDCRT_CONT_DEVOLVER",
	variant.SendMessage:     "PDCRT_CONT_ENVIAR_MENSAJE",
	variant.TailStart:       "PDCRT_CONT_TAIL_INICIAR",
	variant.TailSendMessage: "PDCRT_CONT_TAIL_ENVIAR_MENSAJE",
}

// Builder allocates runtime structures in Image.
type Builder struct {
	Image  *memory.Image
	Layout *layout.Contract
	next   memory.Addr
}

// New returns a builder over a fresh image.
func New(c *layout.Contract) *Builder {
	return &Builder{Image: memory.NewImage(), Layout: c, next: Base}
}

// NewRev2 is New with the built-in rev2 contract.
func NewRev2() *Builder {
	c, _ := layout.For(layout.Rev2)
	return New(c)
}

// Alloc reserves a fresh address.
func (b *Builder) Alloc() memory.Addr {
	a := b.next
	b.next += stride
	return a
}

// Object builds a pdcrt_objeto for the case c with the given union member.
// The member is ignored for cases without payload.
func (b *Builder) Object(c variant.Case, member memory.Value) memory.Value {
	row, ok := b.Layout.ValueTable().Lookup(c)
	if !ok {
		panic("fixture: case " + c.String() + " not in layout")
	}
	return b.Tagged(row.Disc, member)
}

// Tagged builds a pdcrt_objeto with an arbitrary discriminant. Unknown
// discriminants get an empty union.
func (b *Builder) Tagged(disc int64, member memory.Value) memory.Value {
	vl := b.Layout.Value
	row := b.Layout.ValueTable().Variant(disc)
	union := memory.MakeStruct("", 0)
	if row.HasPayload() {
		union.Fields = append(union.Fields, memory.F(row.Field, member))
	}
	fields := []memory.Field{
		memory.F(vl.Tag, memory.MakeEnum("pdcrt_tipo_de_objeto", disc, tagSymbols[row.Case])),
		memory.F(vl.Union, union),
	}
	if vl.Recv != "" {
		fields = append(fields, memory.F(vl.Recv, memory.MakeFunc("pdcrt_funcion_generica", b.Alloc(), recvSymbol(row.Case))))
	}
	return memory.MakeStruct(vl.Type, 0, fields...)
}

func recvSymbol(c variant.Case) string {
	switch c {
	case variant.Unrecognized:
		return ""
	case variant.ClosureCopy:
		return "pdcrt_recv_closure"
	case variant.ExtendedObject:
		return "pdcrt_recv_objeto"
	}
	return "pdcrt_recv_" + c.String()
}

// Int builds an integer value.
func (b *Builder) Int(n int64) memory.Value {
	return b.Object(variant.Integer, memory.MakeInt("int", n))
}

// Float builds a float value.
func (b *Builder) Float(f float64) memory.Value {
	return b.Object(variant.Float, memory.Value{Kind: memory.Float, Type: "float", Float: float64(float32(f))})
}

// Bool builds a boolean value.
func (b *Builder) Bool(v bool) memory.Value {
	return b.Object(variant.Boolean, memory.Value{Kind: memory.Bool, Type: "bool", Bool: v})
}

// Null builds the null value.
func (b *Builder) Null() memory.Value {
	return b.Object(variant.Null, memory.Value{})
}

// StackMark builds a stack mark.
func (b *Builder) StackMark() memory.Value {
	return b.Object(variant.StackMark, memory.Value{})
}

// Text stores s as a pdcrt_texto and returns a pointer to it.
func (b *Builder) Text(s string) memory.Value {
	return b.TextBytes([]byte(s))
}

// TextBytes stores raw as a pdcrt_texto without checking its encoding.
// An empty text gets a NULL contenido, as the runtime allows.
func (b *Builder) TextBytes(raw []byte) memory.Value {
	tl := b.Layout.Text
	addr := b.Alloc()
	var data memory.Value
	if len(raw) == 0 {
		data = memory.Ptr("char", 0)
	} else {
		data = memory.Ptr("char", b.Alloc())
		b.Image.PutBytes(data.Addr, raw)
	}
	b.Image.Put(addr, memory.MakeStruct(tl.Type, addr,
		memory.F(tl.Data, data),
		memory.F(tl.Length, memory.MakeUint("size_t", uint64(len(raw)))),
	))
	return memory.Ptr(tl.Type, addr)
}

// TextValue builds a text value holding s.
func (b *Builder) TextValue(s string) memory.Value {
	return b.Object(variant.Text, b.Text(s))
}

// Closure builds a closure value over the environment env points to.
func (b *Builder) Closure(proc string, env memory.Value) memory.Value {
	return b.Object(variant.Closure, b.closure(proc, env))
}

func (b *Builder) closure(proc string, env memory.Value) memory.Value {
	cl := b.Layout.Closure
	return memory.MakeStruct(cl.Type, 0,
		memory.F(cl.Proc, memory.MakeFunc("pdcrt_funcion_generica", b.Alloc(), proc)),
		memory.F(cl.Env, env),
	)
}

// Instance builds an object value whose attributes live in attrs.
func (b *Builder) Instance(attrs memory.Value) memory.Value {
	return b.Object(variant.Object, memory.MakeStruct("pdcrt_impl_obj", 0,
		memory.F("recv", memory.Ptr("void", b.Alloc())),
		memory.F("attrs", attrs),
	))
}

// Env stores a pdcrt_env whose slots, reserved ones included, are slots.
// env_size is len(slots).
func (b *Builder) Env(slots ...memory.Value) memory.Value {
	return b.EnvSized(uint64(len(slots)), slots...)
}

// EnvSized is Env with an explicit env_size, for malformed environments.
func (b *Builder) EnvSized(size uint64, slots ...memory.Value) memory.Value {
	el := b.Layout.Env
	addr := b.Alloc()
	base := addr + 0x10
	b.Image.PutArray(base, slots...)
	b.Image.Put(addr, memory.MakeStruct(el.Type, addr,
		memory.F(el.Size, memory.MakeUint("size_t", size)),
		memory.F(el.Slots, memory.Value{Kind: memory.Array, Type: b.Layout.Value.Type + "[]", Addr: base}),
	))
	return memory.Ptr(el.Type, addr)
}

// FrameSpec describes a frame to build.
type FrameSpec struct {
	Name     string       // empty for an anonymous frame
	Returns  int64        // num_valores_a_devolver
	Previous memory.Value // pointer to the caller's frame, zero for none
	Locals   []memory.Value
}

// Frame stores a pdcrt_marco and returns a pointer to it. Locals holds the
// reserved slots first; when it is shorter than that they are filled with
// null values.
func (b *Builder) Frame(spec FrameSpec) memory.Value {
	fl := b.Layout.Frame
	locals := spec.Locals
	for len(locals) < layout.NumReservedSlots {
		locals = append(locals, b.Null())
	}
	addr := b.Alloc()
	base := b.Alloc()
	b.Image.PutArray(base, locals...)

	prev := spec.Previous
	if prev.Kind == memory.Invalid {
		prev = memory.Ptr(fl.Type, 0)
	}
	fields := []memory.Field{
		memory.F(fl.Context, memory.Ptr("pdcrt_contexto", 0x10)),
	}
	fields = append(fields,
		memory.F(fl.Locals, memory.Ptr(b.Layout.Value.Type, base)),
		memory.F(fl.NumLocals, memory.MakeUint("size_t", uint64(len(locals)-layout.NumReservedSlots))),
		memory.F(fl.Previous, prev),
	)
	if fl.Returns != "" {
		fields = append(fields, memory.F(fl.Returns, memory.MakeInt("int", spec.Returns)))
	}
	if fl.Name != "" {
		name := memory.Ptr(b.Layout.Text.Type, 0)
		if spec.Name != "" {
			name = b.Text(spec.Name)
		}
		fields = append(fields, memory.F(fl.Name, name))
	}
	b.Image.Put(addr, memory.MakeStruct(fl.Type, addr, fields...))
	return memory.Ptr(fl.Type, addr)
}

// Chain builds n linked frames named f0 (innermost) to f<n-1> and returns a
// pointer to f0 together with the pointers to every frame.
func (b *Builder) Chain(n int) (memory.Value, []memory.Value) {
	frames := make([]memory.Value, n)
	prev := memory.Value{}
	for i := n - 1; i >= 0; i-- {
		frames[i] = b.Frame(FrameSpec{
			Name:     "f" + strconv.Itoa(i),
			Previous: prev,
			Locals:   []memory.Value{b.Null(), b.Null(), b.Int(int64(i))},
		})
		prev = frames[i]
	}
	if n == 0 {
		return memory.Ptr(b.Layout.Frame.Type, 0), nil
	}
	return frames[0], frames
}

func (b *Builder) vector(vl layout.Vector, capacity int, elems []memory.Value) memory.Value {
	addr := b.Alloc()
	base := b.Alloc()
	b.Image.PutArray(base, elems...)
	return memory.MakeStruct(vl.Type, addr,
		memory.F(vl.Elements, memory.Ptr(b.Layout.Value.Type, base)),
		memory.F(vl.Count, memory.MakeUint("size_t", uint64(len(elems)))),
		memory.F(vl.Capacity, memory.MakeUint("size_t", uint64(max(capacity, len(elems))))),
	)
}

// Stack stores a pdcrt_pila holding elems (bottom first) and returns a
// pointer to it. Only the live elements are backed by memory: reading a slot
// at or past len(elems) fails.
func (b *Builder) Stack(capacity int, elems ...memory.Value) memory.Value {
	s := b.vector(b.Layout.Stack, capacity, elems)
	b.Image.Put(s.Addr, s)
	return memory.Ptr(s.Type, s.Addr)
}

// Array stores a pdcrt_arreglo and returns a pointer to it.
func (b *Builder) Array(capacity int, elems ...memory.Value) memory.Value {
	a := b.vector(b.Layout.Array, capacity, elems)
	b.Image.Put(a.Addr, a)
	return memory.Ptr(a.Type, a.Addr)
}

// ArrayValue builds an array value over a fresh pdcrt_arreglo.
func (b *Builder) ArrayValue(capacity int, elems ...memory.Value) memory.Value {
	return b.Object(variant.Array, b.Array(capacity, elems...))
}

// Binding is one namespace entry to build.
type Binding struct {
	Name     string
	AutoExec bool
	Value    memory.Value
}

// Namespace stores a pdcrt_espacio_de_nombres and returns a pointer to it.
func (b *Builder) Namespace(last int, bindings ...Binding) memory.Value {
	nl := b.Layout.Namespace
	el := b.Layout.Entry
	addr := b.Alloc()
	base := b.Alloc()
	for i, bd := range bindings {
		b.Image.PutElem(base, i, memory.MakeStruct(el.Type, 0,
			memory.F(el.Name, b.Text(bd.Name)),
			memory.F(el.AutoExec, memory.Value{Kind: memory.Bool, Type: "bool", Bool: bd.AutoExec}),
			memory.F(el.Value, bd.Value),
		))
	}
	b.Image.Put(addr, memory.MakeStruct(nl.Type, addr,
		memory.F(nl.Entries, memory.Ptr(el.Type, base)),
		memory.F(nl.Count, memory.MakeUint("size_t", uint64(len(bindings)))),
		memory.F(nl.LastCreated, memory.MakeUint("size_t", uint64(last))),
	))
	return memory.Ptr(nl.Type, addr)
}

// Continuation stores a pdcrt_continuacion and returns a pointer to it.
func (b *Builder) Continuation(disc int64, member memory.Value) memory.Value {
	cl := b.Layout.Continuation
	row := b.Layout.ContinuationTable().Variant(disc)
	union := memory.MakeStruct("", 0)
	if row.HasPayload() {
		union.Fields = append(union.Fields, memory.F(row.Field, member))
	}
	addr := b.Alloc()
	b.Image.Put(addr, memory.MakeStruct(cl.Type, addr,
		memory.F(cl.Tag, memory.MakeEnum("pdcrt_tipo_continuacion", disc, tagSymbols[row.Case])),
		memory.F(cl.Union, union),
	))
	return memory.Ptr(cl.Type, addr)
}

// Proc builds the function pointer member of an iniciar-like continuation.
func (b *Builder) Proc(name string) memory.Value {
	return memory.MakeStruct("", 0,
		memory.F("proc", memory.MakeFunc("pdcrt_proc_t", b.Alloc(), name)),
		memory.F("marco", memory.Ptr(b.Layout.Frame.Type, 0)),
	)
}
