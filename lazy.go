package formula

import "reflect"

// Lazy holds the location of one encoded value and decodes it on demand.
// As a field of a decode target it is bound without decoding, so a
// corrupt or unneeded field costs nothing until Get.
type Lazy[T any] struct {
	r     reader
	f     *Formula
	off   int
	end   int
	bound bool
}

func (l *Lazy[T]) bind(r *reader, off, end int, f *Formula) error {
	if f.sized {
		end = min(end, off+f.fixed(r.word))
	}
	*l = Lazy[T]{r: *r, f: f, off: off, end: end, bound: true}
	return nil
}

// Bound reports whether a decode has bound l to a span.
func (l *Lazy[T]) Bound() bool { return l.bound }

// Formula returns the formula l decodes with.
func (l *Lazy[T]) Formula() *Formula { return l.f }

// Get decodes the value. Each call decodes again.
func (l *Lazy[T]) Get() (T, error) {
	var out T
	if !l.bound {
		return out, mismatch(OpView, -1, "lazy value is not bound")
	}
	if b := l.r.buf; b != nil && b.Generation() != l.r.gen {
		return out, newError(OpView, CodeStaleBuffer, -1, "buffer was reset or released")
	}
	if err := l.r.value(l.off, l.end, l.f, reflect.ValueOf(&out).Elem()); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Bytes returns the encoded value. For a reference it returns the payload,
// or nil when the reference is out of bounds.
func (l *Lazy[T]) Bytes() []byte {
	if !l.bound {
		return nil
	}
	off, end, f := l.off, l.end, l.f
	for f.kind == KindRef {
		var err error
		if off, end, err = l.r.deref(off, end); err != nil {
			return nil
		}
		f = f.elem
	}
	if off >= end {
		return nil
	}
	return l.r.data[off:end:end]
}
