package formula

import (
	"encoding/binary"
	"iter"
	"math"
	"reflect"
	"unsafe"
)

// View is a double-ended cursor over the elements of an array or slice
// formula. Elements are decoded only when consumed. Copying a View with
// Clone duplicates its indices, never the bytes.
//
// A View may be a field of a decode target; Read binds it to the field's
// span without decoding.
type View[T any] struct {
	r      reader
	elem   *Formula
	base   int
	limit  int
	stride int
	front  int
	back   int
	err    error
	fast   func([]byte) (T, bool)
}

// ReadLazy binds a View to the sequence encoded in data under f. It never
// fails; an unusable input surfaces as an error on first access.
func ReadLazy[T any](cfg Config, data []byte, f *Formula) *View[T] {
	v := &View[T]{}
	if err := checkCall(cfg, f, OpView); err != nil {
		v.err = err
		return v
	}
	r := reader{cfg: cfg, word: cfg.word(), data: data}
	v.err = v.bindRoot(&r, f)
	return v
}

// ReadLazyBuffer is ReadLazy over the contents of b. The View fails with
// ErrStaleBuffer once b is reset or released.
func ReadLazyBuffer[T any](cfg Config, b *Buffer, f *Formula) *View[T] {
	v := &View[T]{}
	if err := checkCall(cfg, f, OpView); err != nil {
		v.err = err
		return v
	}
	if b == nil {
		v.err = newError(OpView, CodeStaleBuffer, -1, "nil buffer")
		return v
	}
	r := reader{cfg: cfg, word: cfg.word(), data: b.Bytes(), buf: b, gen: b.Generation()}
	v.err = v.bindRoot(&r, f)
	return v
}

func (v *View[T]) bindRoot(r *reader, f *Formula) error {
	off, end, err := r.rootSpan(f)
	if err != nil {
		return err
	}
	return v.bind(r, off, end, f)
}

func (v *View[T]) bind(r *reader, off, end int, f *Formula) error {
	for f.kind == KindRef {
		var err error
		if off, end, err = r.deref(off, end); err != nil {
			return err
		}
		f = f.elem
	}
	if f.kind != KindArray && f.kind != KindSlice {
		return mismatch(OpView, off, "%s is not a sequence", f.Name())
	}
	stride := f.elem.fixed(r.word)
	back := f.n
	if f.kind == KindSlice {
		back = (end - off + stride - 1) / stride
	}
	*v = View[T]{
		r:      *r,
		elem:   f.elem,
		base:   off,
		limit:  end,
		stride: stride,
		back:   back,
		fast:   fastDecoder[T](f.elem),
	}
	return nil
}

// Err returns the error that prevented binding, if any.
func (v *View[T]) Err() error { return v.err }

func (v *View[T]) check() error {
	if v.err != nil {
		return v.err
	}
	if v.elem == nil {
		return mismatch(OpView, -1, "view is not bound")
	}
	if b := v.r.buf; b != nil && b.Generation() != v.r.gen {
		return newError(OpView, CodeStaleBuffer, -1, "buffer was reset or released")
	}
	return nil
}

// decode reads element i counted from the start of the sequence.
func (v *View[T]) decode(i int) (T, error) {
	off := v.base + i*v.stride
	if v.stride > v.limit-off {
		var zero T
		err := newError(OpView, CodeTruncatedInput, off,
			"element needs %d bytes, have %d", v.stride, max(v.limit-off, 0))
		return zero, withPath(err, indexSegment(i))
	}
	if v.fast == nil {
		return v.decodeValue(off, i)
	}
	x, ok := v.fast(v.r.data[off : off+v.stride])
	if !ok {
		err := newError(OpView, CodeInvalidBoolean, off, "byte %#02x is not a boolean", v.r.data[off])
		return x, withPath(err, indexSegment(i))
	}
	return x, nil
}

// decodeValue is the reflective path for element types without a fast
// decoder. Its target escapes, so it stays out of decode.
func (v *View[T]) decodeValue(off, i int) (T, error) {
	var out T
	if err := v.r.value(off, off+v.stride, v.elem, reflect.ValueOf(&out).Elem()); err != nil {
		var zero T
		return zero, withPath(err, indexSegment(i))
	}
	return out, nil
}

// Next consumes the front element. ok is false once the view is exhausted
// or could not be bound. A failed element is still consumed.
func (v *View[T]) Next() (x T, ok bool, err error) {
	if err = v.check(); err != nil {
		return x, false, err
	}
	if v.front >= v.back {
		return x, false, nil
	}
	i := v.front
	v.front++
	x, err = v.decode(i)
	return x, true, err
}

// NextBack consumes the back element.
func (v *View[T]) NextBack() (x T, ok bool, err error) {
	if err = v.check(); err != nil {
		return x, false, err
	}
	if v.front >= v.back {
		return x, false, nil
	}
	v.back--
	x, err = v.decode(v.back)
	return x, true, err
}

// Skip drops up to n front elements without reading them and returns how
// many were dropped.
func (v *View[T]) Skip(n int) int {
	k := min(max(n, 0), v.Len())
	v.front += k
	return k
}

// SkipBack drops up to n back elements.
func (v *View[T]) SkipBack(n int) int {
	k := min(max(n, 0), v.Len())
	v.back -= k
	return k
}

// At decodes the element i positions after the front without consuming it.
func (v *View[T]) At(i int) (x T, ok bool, err error) {
	if err = v.check(); err != nil {
		return x, false, err
	}
	if i < 0 || i >= v.back-v.front {
		return x, false, nil
	}
	x, err = v.decode(v.front + i)
	return x, true, err
}

// Len is the number of elements left.
func (v *View[T]) Len() int {
	if v.err != nil {
		return 0
	}
	return v.back - v.front
}

// Clone returns an independent cursor over the same bytes.
func (v *View[T]) Clone() *View[T] {
	c := *v
	return &c
}

// Remaining returns the encoded bytes of the elements left.
func (v *View[T]) Remaining() []byte {
	if v.check() != nil {
		return nil
	}
	start := v.base + v.front*v.stride
	end := min(v.base+v.back*v.stride, v.limit)
	if start >= end {
		return nil
	}
	return v.r.data[start:end:end]
}

// All yields the remaining elements front to back. It iterates a clone and
// leaves v unchanged.
func (v *View[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c := v.Clone()
		for {
			x, ok, err := c.Next()
			if !ok {
				if err != nil {
					yield(x, err)
				}
				return
			}
			if !yield(x, err) {
				return
			}
		}
	}
}

// Backward yields the remaining elements back to front.
func (v *View[T]) Backward() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c := v.Clone()
		for {
			x, ok, err := c.NextBack()
			if !ok {
				if err != nil {
					yield(x, err)
				}
				return
			}
			if !yield(x, err) {
				return
			}
		}
	}
}

func as[T, S any](s S) T { return *(*T)(unsafe.Pointer(&s)) }

// fastDecoder returns a reflection-free decoder when T is exactly the Go
// type of a primitive element formula.
func fastDecoder[T any](f *Formula) func([]byte) (T, bool) {
	var zero T
	switch any(zero).(type) {
	case bool:
		if f.kind == KindBool {
			return func(b []byte) (T, bool) { return as[T](b[0] == 1), b[0] <= 1 }
		}
	case uint8:
		if f.kind == KindU8 {
			return func(b []byte) (T, bool) { return as[T](b[0]), true }
		}
	case int8:
		if f.kind == KindI8 {
			return func(b []byte) (T, bool) { return as[T](int8(b[0])), true }
		}
	case uint16:
		if f.kind == KindU16 {
			return func(b []byte) (T, bool) { return as[T](binary.LittleEndian.Uint16(b)), true }
		}
	case int16:
		if f.kind == KindI16 {
			return func(b []byte) (T, bool) { return as[T](int16(binary.LittleEndian.Uint16(b))), true }
		}
	case uint32:
		if f.kind == KindU32 {
			return func(b []byte) (T, bool) { return as[T](binary.LittleEndian.Uint32(b)), true }
		}
	case int32:
		if f.kind == KindI32 {
			return func(b []byte) (T, bool) { return as[T](int32(binary.LittleEndian.Uint32(b))), true }
		}
	case uint64:
		if f.kind == KindU64 {
			return func(b []byte) (T, bool) { return as[T](binary.LittleEndian.Uint64(b)), true }
		}
	case int64:
		if f.kind == KindI64 {
			return func(b []byte) (T, bool) { return as[T](int64(binary.LittleEndian.Uint64(b))), true }
		}
	case float32:
		if f.kind == KindF32 {
			return func(b []byte) (T, bool) { return as[T](math.Float32frombits(binary.LittleEndian.Uint32(b))), true }
		}
	case float64:
		if f.kind == KindF64 {
			return func(b []byte) (T, bool) { return as[T](math.Float64frombits(binary.LittleEndian.Uint64(b))), true }
		}
	}
	return nil
}
