package formula

import (
	"math"
	"reflect"
	"unicode/utf8"
	"unsafe"

	"github.com/rawbytedev/formula/internal/common"
)

// reader decodes from one immutable input. buf and gen are set when the
// input came from a Buffer, so lazily bound values can detect reuse.
type reader struct {
	cfg  Config
	word int
	data []byte
	buf  *Buffer
	gen  uint64
}

// binder is implemented by lazily decoded targets. They record the span
// instead of decoding it.
type binder interface {
	bind(r *reader, off, end int, f *Formula) error
}

// Read decodes data under f into out, which must be a non-nil pointer.
// On failure out may hold a partially decoded value.
func Read(cfg Config, data []byte, f *Formula, out any) error {
	if err := checkCall(cfg, f, OpRead); err != nil {
		return err
	}
	r := reader{cfg: cfg, word: cfg.word(), data: data}
	return r.root(f, out)
}

// Decode is Read into a new T. It returns the zero T on failure.
func Decode[T any](cfg Config, data []byte, f *Formula) (T, error) {
	var out T
	if err := Read(cfg, data, f, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ReadBuffer is Read over the contents of b. Views and lazy values bound by
// this call fail with ErrStaleBuffer once b is reset or released.
func ReadBuffer(cfg Config, b *Buffer, f *Formula, out any) error {
	if err := checkCall(cfg, f, OpRead); err != nil {
		return err
	}
	if b == nil {
		return newError(OpRead, CodeStaleBuffer, -1, "nil buffer")
	}
	r := reader{cfg: cfg, word: cfg.word(), data: b.Bytes(), buf: b, gen: b.Generation()}
	return r.root(f, out)
}

func (r *reader) root(f *Formula, out any) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return mismatch(OpRead, -1, "out must be a non-nil pointer, got %T", out)
	}
	off, end, err := r.rootSpan(f)
	if err != nil {
		return err
	}
	return r.value(off, end, f, v.Elem())
}

// rootSpan locates the inline span of the root value.
func (r *reader) rootSpan(f *Formula) (int, int, error) {
	if f.root != nil {
		return r.deref(0, len(r.data))
	}
	return 0, len(r.data), nil
}

func (r *reader) need(off, end, n int) error {
	if n > end-off {
		return newError(OpRead, CodeTruncatedInput, off,
			"need %d bytes at offset %d, have %d", n, off, max(end-off, 0))
	}
	return nil
}

func (r *reader) noAlloc(off int, what any) error {
	return newError(OpRead, CodeAllocationDisabled, off, "decoding %v needs allocation", what)
}

// value decodes the span [off, end) under f into v.
func (r *reader) value(off, end int, f *Formula, v reflect.Value) error {
	t := v.Type()
	switch t.Kind() {
	case reflect.Struct:
		if v.CanAddr() {
			if b, ok := v.Addr().Interface().(binder); ok {
				return b.bind(r, off, end, f)
			}
		}
	case reflect.Interface:
		if t.NumMethod() == 0 {
			d, err := r.dynamic(off, end, f)
			if err != nil {
				return err
			}
			if d == nil {
				v.SetZero()
			} else {
				v.Set(reflect.ValueOf(d))
			}
			return nil
		}
		if f.kind == KindUnion {
			return r.union(off, end, f, v)
		}
		return mismatch(OpRead, off, "cannot decode %s into %s", f.Name(), t)
	case reflect.Pointer:
		if f.kind == KindOption {
			return r.union(off, end, f, v)
		}
		if v.IsNil() {
			if !r.cfg.AllowAllocation {
				return r.noAlloc(off, t)
			}
			v.Set(reflect.New(t.Elem()))
		}
		return r.value(off, end, f, v.Elem())
	}
	switch f.kind {
	case KindUnion, KindOption:
		return r.union(off, end, f, v)
	case KindRef:
		start, stop, err := r.deref(off, end)
		if err != nil {
			return err
		}
		return r.value(start, stop, f.elem, v)
	case KindBytes, KindString:
		return r.bytes(off, end, f, v)
	case KindStruct:
		return r.structure(off, end, f, v)
	case KindArray, KindSlice:
		return r.sequence(off, end, f, v)
	}
	return r.primitive(off, end, f, v)
}

// bits loads a primitive and rejects booleans other than 0 and 1.
func (r *reader) bits(off, end int, f *Formula) (uint64, error) {
	if err := r.need(off, end, f.width); err != nil {
		return 0, err
	}
	x := common.Uint(r.data[off:], f.width)
	if f.kind == KindBool && x > 1 {
		return 0, newError(OpRead, CodeInvalidBoolean, off, "byte %#02x is not a boolean", x)
	}
	return x, nil
}

func floatOf(f *Formula, bits uint64) float64 {
	if f.kind == KindF32 {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

func (r *reader) primitive(off, end int, f *Formula, v reflect.Value) error {
	x, err := r.bits(off, end, f)
	if err != nil {
		return err
	}
	k := v.Kind()
	switch {
	case f.kind == KindBool && k == reflect.Bool:
		v.SetBool(x == 1)
		return nil
	case f.kind.isUnsigned() && common.IsUintKind(k):
		if !v.OverflowUint(x) {
			v.SetUint(x)
			return nil
		}
	case f.kind.isUnsigned() && common.IsIntKind(k):
		if x <= math.MaxInt64 && !v.OverflowInt(int64(x)) {
			v.SetInt(int64(x))
			return nil
		}
	case f.kind.isSigned() && common.IsIntKind(k):
		if i := common.SignExtend(x, f.width); !v.OverflowInt(i) {
			v.SetInt(i)
			return nil
		}
	case f.kind.isSigned() && common.IsUintKind(k):
		if i := common.SignExtend(x, f.width); i >= 0 && !v.OverflowUint(uint64(i)) {
			v.SetUint(uint64(i))
			return nil
		}
	case (f.kind == KindF32 || f.kind == KindF64) && common.IsFloatKind(k):
		v.SetFloat(floatOf(f, x))
		return nil
	default:
		return mismatch(OpRead, off, "cannot decode %s into %s", f.kind, v.Type())
	}
	return mismatch(OpRead, off, "%s value overflows %s", f.kind, v.Type())
}

func (r *reader) str(off int, b []byte) (string, error) {
	switch {
	case len(b) == 0:
		return "", nil
	case r.cfg.UnsafeStrings:
		return unsafe.String(unsafe.SliceData(b), len(b)), nil
	case !r.cfg.AllowAllocation:
		return "", r.noAlloc(off, "string")
	}
	return string(b), nil
}

func (r *reader) bytes(off, end int, f *Formula, v reflect.Value) error {
	b := r.data[off:end:end]
	if f.kind == KindString && !utf8.Valid(b) {
		return newError(OpRead, CodeInvalidUTF8, off, "string is not valid UTF-8")
	}
	switch {
	case v.Kind() == reflect.String:
		s, err := r.str(off, b)
		if err != nil {
			return err
		}
		v.SetString(s)
		return nil
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		v.SetBytes(b)
		return nil
	}
	return mismatch(OpRead, off, "cannot decode %s into %s", f.kind, v.Type())
}

// structure decodes fields in order. Formula fields the Go struct does not
// declare are skipped.
func (r *reader) structure(off, end int, f *Formula, v reflect.Value) error {
	if len(f.fields) == 0 {
		return nil
	}
	switch {
	case v.Kind() == reflect.Struct:
		plan := getPlan(v.Type(), f)
		cur := off
		for i, fd := range f.fields {
			next, err := r.fieldEnd(cur, end, fd.Formula)
			if err != nil {
				return withPath(err, fd.Name)
			}
			if idx := plan.index[i]; idx != nil {
				if err := r.value(cur, next, fd.Formula, v.FieldByIndex(idx)); err != nil {
					return withPath(err, fd.Name)
				}
			}
			cur = next
		}
		return nil
	case v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String:
		if !r.cfg.AllowAllocation {
			return r.noAlloc(off, v.Type())
		}
		if v.IsNil() {
			v.Set(reflect.MakeMapWithSize(v.Type(), len(f.fields)))
		}
		cur := off
		for _, fd := range f.fields {
			next, err := r.fieldEnd(cur, end, fd.Formula)
			if err != nil {
				return withPath(err, fd.Name)
			}
			ev := reflect.New(v.Type().Elem()).Elem()
			if err := r.value(cur, next, fd.Formula, ev); err != nil {
				return withPath(err, fd.Name)
			}
			v.SetMapIndex(reflect.ValueOf(fd.Name).Convert(v.Type().Key()), ev)
			cur = next
		}
		return nil
	}
	return mismatch(OpRead, off, "cannot decode %s into %s", f.Name(), v.Type())
}

// fieldEnd bounds a field starting at off: sized fields take their fixed
// size, the unsized tail takes the rest.
func (r *reader) fieldEnd(off, end int, f *Formula) (int, error) {
	if !f.sized {
		return end, nil
	}
	n := f.fixed(r.word)
	if err := r.need(off, end, n); err != nil {
		return 0, err
	}
	return off + n, nil
}

// elements returns the element count of a sequence span.
func (r *reader) elements(off, end int, f *Formula) (int, error) {
	stride := f.elem.fixed(r.word)
	if f.kind == KindArray {
		return f.n, r.need(off, end, f.n*stride)
	}
	span := end - off
	if span%stride != 0 {
		return 0, newError(OpRead, CodeTruncatedInput, off+span/stride*stride,
			"trailing %d bytes do not hold a %s element", span%stride, f.elem.Name())
	}
	return span / stride, nil
}

func (r *reader) sequence(off, end int, f *Formula, v reflect.Value) error {
	n, err := r.elements(off, end, f)
	if err != nil {
		return err
	}
	stride := f.elem.fixed(r.word)
	switch v.Kind() {
	case reflect.Slice:
		if f.elem.kind == KindU8 && v.Type().Elem().Kind() == reflect.Uint8 {
			v.SetBytes(r.data[off : off+n : off+n])
			return nil
		}
		if v.Cap() >= n {
			v.SetLen(n)
		} else {
			if !r.cfg.AllowAllocation {
				return r.noAlloc(off, v.Type())
			}
			v.Set(reflect.MakeSlice(v.Type(), n, n))
		}
	case reflect.Array:
		if v.Len() != n {
			return mismatch(OpRead, off, "cannot decode %d elements into %s", n, v.Type())
		}
	default:
		return mismatch(OpRead, off, "cannot decode %s into %s", f.Name(), v.Type())
	}
	for i := 0; i < n; i++ {
		at := off + i*stride
		if err := r.value(at, at+stride, f.elem, v.Index(i)); err != nil {
			return withPath(err, indexSegment(i))
		}
	}
	return nil
}

// dynamic decodes into generic Go values: map[string]any for structs, []any
// for sequences, Tagged for unions, nil or the body for options. Union cases
// bound with CaseOf decode as their bound type.
func (r *reader) dynamic(off, end int, f *Formula) (any, error) {
	if !r.cfg.AllowAllocation {
		return nil, r.noAlloc(off, "dynamic value")
	}
	if f.kind.isPrimitive() {
		x, err := r.bits(off, end, f)
		if err != nil {
			return nil, err
		}
		return primitiveValue(f, x), nil
	}
	switch f.kind {
	case KindBytes, KindString:
		b := r.data[off:end:end]
		if f.kind == KindBytes {
			return b, nil
		}
		if !utf8.Valid(b) {
			return nil, newError(OpRead, CodeInvalidUTF8, off, "string is not valid UTF-8")
		}
		return r.str(off, b)
	case KindStruct:
		m := make(map[string]any, len(f.fields))
		cur := off
		for _, fd := range f.fields {
			next, err := r.fieldEnd(cur, end, fd.Formula)
			if err != nil {
				return nil, withPath(err, fd.Name)
			}
			d, err := r.dynamic(cur, next, fd.Formula)
			if err != nil {
				return nil, withPath(err, fd.Name)
			}
			m[fd.Name] = d
			cur = next
		}
		return m, nil
	case KindArray, KindSlice:
		n, err := r.elements(off, end, f)
		if err != nil {
			return nil, err
		}
		stride := f.elem.fixed(r.word)
		out := make([]any, n)
		for i := range out {
			at := off + i*stride
			if out[i], err = r.dynamic(at, at+stride, f.elem); err != nil {
				return nil, withPath(err, indexSegment(i))
			}
		}
		return out, nil
	case KindRef:
		start, stop, err := r.deref(off, end)
		if err != nil {
			return nil, err
		}
		return r.dynamic(start, stop, f.elem)
	case KindUnion, KindOption:
		i, stop, err := r.readTag(off, end, f)
		if err != nil {
			return nil, err
		}
		c := f.cases[i]
		if c.goType != nil && f.kind == KindUnion {
			nv := reflect.New(c.goType).Elem()
			if err := r.value(off+r.word, stop, c.Formula, nv); err != nil {
				return nil, withPath(err, c.Name)
			}
			return nv.Interface(), nil
		}
		d, err := r.dynamic(off+r.word, stop, c.Formula)
		if err != nil {
			return nil, withPath(err, c.Name)
		}
		return caseValue(f, c, d), nil
	}
	return nil, mismatch(OpRead, off, "cannot decode %s", f.Name())
}

func primitiveValue(f *Formula, x uint64) any {
	switch f.kind {
	case KindBool:
		return x == 1
	case KindU8:
		return uint8(x)
	case KindU16:
		return uint16(x)
	case KindU32:
		return uint32(x)
	case KindU64:
		return x
	case KindI8:
		return int8(x)
	case KindI16:
		return int16(x)
	case KindI32:
		return int32(x)
	case KindI64:
		return int64(x)
	case KindF32:
		return math.Float32frombits(uint32(x))
	}
	return math.Float64frombits(x)
}
