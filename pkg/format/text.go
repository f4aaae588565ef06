package format

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// DecodeError reports a text whose bytes are not valid UTF-8.
type DecodeError struct {
	Addr   memory.Addr // address of the contents
	Offset int         // first invalid byte
	Length int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8: byte %d of %d at %s", e.Offset, e.Length, e.Addr)
}

// IsDecode reports whether err is a text decoding failure.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeText decodes raw as strict UTF-8.
func DecodeText(addr memory.Addr, raw []byte) (string, error) {
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size <= 1 {
			return "", &DecodeError{Addr: addr, Offset: i, Length: len(raw)}
		}
		i += size
	}
	return string(raw), nil
}

// Text decodes the pdcrt_texto v is or points to.
func (g *Registry) Text(ctx context.Context, v memory.Value) (string, error) {
	if v.Kind == memory.Pointer {
		if v.Addr == 0 {
			return "", &memory.AccessError{Addr: 0, Type: v.Type}
		}
		var err error
		if v, err = memory.DerefOnce(ctx, g.r, v); err != nil {
			return "", err
		}
	}
	tl := g.c.Text
	n, err := count(v, tl.Length)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 || n > MaxTextLength {
		return "", fmt.Errorf("%w: %s.%s = %d out of range", ErrLayout, v.Type, tl.Length, n)
	}
	data, err := member(v, tl.Data)
	if err != nil {
		return "", err
	}
	if data.Addr == 0 {
		return "", &memory.AccessError{Addr: 0, Type: data.Type}
	}
	raw, err := g.r.ReadBytes(ctx, data.Addr, int(n))
	if err != nil {
		return "", err
	}
	return DecodeText(data.Addr, raw)
}

type textFormatter struct{ g *Registry }

func (f textFormatter) Summary(ctx context.Context, v memory.Value) (string, error) {
	return f.g.Text(ctx, v)
}

func (f textFormatter) Children(ctx context.Context, v memory.Value) iter.Seq2[Child, error] {
	return func(yield func(Child, error) bool) {}
}
