package formula

import (
	"iter"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/rawbytedev/formula/internal/common"
)

// writer encodes one value. The inline span of the root is reserved up front
// and every reference payload is appended at end, which only grows.
type writer struct {
	word  int
	buf   []byte
	limit int
	dry   bool
	end   int
}

// Write encodes v under f into buf and returns the number of bytes written.
// buf is never grown; a short buffer fails with ErrBufferTooSmall.
func Write(cfg Config, v any, f *Formula, buf []byte) (int, error) {
	if err := checkCall(cfg, f, OpWrite); err != nil {
		return 0, err
	}
	w := writer{word: cfg.word(), buf: buf, limit: len(buf)}
	if err := w.root(f, reflect.ValueOf(v)); err != nil {
		return 0, err
	}
	return w.end, nil
}

// SizeOf runs the writer without storing bytes and returns what Write would
// produce for the same value.
func SizeOf(cfg Config, v any, f *Formula) (int, error) {
	if err := checkCall(cfg, f, OpWrite); err != nil {
		return 0, err
	}
	w := writer{word: cfg.word(), limit: math.MaxInt, dry: true}
	if err := w.root(f, reflect.ValueOf(v)); err != nil {
		return 0, err
	}
	return w.end, nil
}

func checkCall(cfg Config, f *Formula, op Op) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if f == nil {
		return newError(op, CodeInvalidFormula, -1, "nil formula")
	}
	return nil
}

func (w *writer) root(f *Formula, v reflect.Value) error {
	if f.root != nil {
		f = f.root
	}
	if !f.sized {
		n, err := w.value(0, f, v)
		w.end = n
		return err
	}
	n := f.fixed(w.word)
	if err := w.need(0, n); err != nil {
		return err
	}
	w.end = n
	_, err := w.value(0, f, v)
	return err
}

func (w *writer) need(off, n int) error {
	if n > w.limit-off {
		return newError(OpWrite, CodeBufferTooSmall, off,
			"need %d bytes at offset %d, buffer holds %d", n, off, w.limit)
	}
	return nil
}

func mismatch(op Op, off int, format string, args ...any) *Error {
	return newError(op, CodeTypeMismatch, off, format, args...)
}

// value writes v at off and returns its inline length.
func (w *writer) value(off int, f *Formula, v reflect.Value) (int, error) {
	switch f.kind {
	case KindUnion, KindOption:
		return w.union(off, f, v)
	case KindRef:
		return f.fixed(w.word), w.ref(off, f, v)
	}
	v = indirect(v)
	switch f.kind {
	case KindBytes, KindString:
		return w.bytes(off, f, v)
	case KindStruct:
		return w.structure(off, f, v)
	case KindArray, KindSlice:
		return w.sequence(off, f, v)
	}
	return f.width, w.primitive(off, f, v)
}

// indirect strips interfaces and pointers. A nil yields the zero Value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func (w *writer) primitive(off int, f *Formula, v reflect.Value) error {
	bits, err := primitiveBits(off, f, v)
	if err != nil {
		return err
	}
	if err := w.need(off, f.width); err != nil {
		return err
	}
	if !w.dry {
		common.PutUint(w.buf[off:], f.width, bits)
	}
	return nil
}

// primitiveBits converts v to the little-endian bit pattern of f.
func primitiveBits(off int, f *Formula, v reflect.Value) (uint64, error) {
	if !v.IsValid() {
		return 0, mismatch(OpWrite, off, "missing %s value", f.kind)
	}
	k := v.Kind()
	switch {
	case f.kind == KindBool:
		if k != reflect.Bool {
			break
		}
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case f.kind.isUnsigned():
		if common.IsUintKind(k) {
			if u := v.Uint(); common.FitsUint(u, f.width) {
				return u, nil
			}
			return 0, mismatch(OpWrite, off, "value %d overflows %s", v.Uint(), f.kind)
		}
		if common.IsIntKind(k) {
			if i := v.Int(); i >= 0 && common.FitsUint(uint64(i), f.width) {
				return uint64(i), nil
			}
			return 0, mismatch(OpWrite, off, "value %d overflows %s", v.Int(), f.kind)
		}
	case f.kind.isSigned():
		if common.IsIntKind(k) {
			if i := v.Int(); common.FitsInt(i, f.width) {
				return uint64(i) & common.MaxUint(f.width), nil
			}
			return 0, mismatch(OpWrite, off, "value %d overflows %s", v.Int(), f.kind)
		}
		if common.IsUintKind(k) {
			if u := v.Uint(); u <= math.MaxInt64 && common.FitsInt(int64(u), f.width) {
				return u, nil
			}
			return 0, mismatch(OpWrite, off, "value %d overflows %s", v.Uint(), f.kind)
		}
	case f.kind == KindF32 || f.kind == KindF64:
		var x float64
		switch {
		case common.IsFloatKind(k):
			x = v.Float()
		case common.IsIntKind(k):
			x = float64(v.Int())
		case common.IsUintKind(k):
			x = float64(v.Uint())
		default:
			return 0, mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.kind)
		}
		if f.kind == KindF32 {
			return uint64(math.Float32bits(float32(x))), nil
		}
		return math.Float64bits(x), nil
	}
	return 0, mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.kind)
}

var byteRun = Slice(U8)

func (w *writer) bytes(off int, f *Formula, v reflect.Value) (int, error) {
	if !v.IsValid() {
		return 0, mismatch(OpWrite, off, "missing %s value", f.kind)
	}
	switch {
	case v.Kind() == reflect.String:
		s := v.String()
		if f.kind == KindString && !utf8.ValidString(s) {
			return 0, newError(OpWrite, CodeInvalidUTF8, off, "string is not valid UTF-8")
		}
		if err := w.need(off, len(s)); err != nil {
			return 0, err
		}
		if !w.dry {
			copy(w.buf[off:], s)
		}
		return len(s), nil
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		b := v.Bytes()
		if f.kind == KindString && !utf8.Valid(b) {
			return 0, newError(OpWrite, CodeInvalidUTF8, off, "string is not valid UTF-8")
		}
		if err := w.need(off, len(b)); err != nil {
			return 0, err
		}
		if !w.dry {
			copy(w.buf[off:], b)
		}
		return len(b), nil
	case f.kind == KindBytes:
		// Runs of small integers, as produced by dynamic decoders.
		return w.sequence(off, byteRun, v)
	}
	return 0, mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.kind)
}

func (w *writer) structure(off int, f *Formula, v reflect.Value) (int, error) {
	if len(f.fields) == 0 {
		return 0, nil
	}
	cur := off
	for i, fd := range f.fields {
		fv, err := field(off, f, i, v)
		if err != nil {
			return 0, err
		}
		n, err := w.value(cur, fd.Formula, fv)
		if err != nil {
			return 0, withPath(err, fd.Name)
		}
		cur += n
	}
	return cur - off, nil
}

// field returns the source value of struct field i from a Go struct or a
// string-keyed map.
func field(off int, f *Formula, i int, v reflect.Value) (reflect.Value, error) {
	name := f.fields[i].Name
	switch {
	case !v.IsValid():
		return v, mismatch(OpWrite, off, "missing value for %s", f.Name())
	case v.Kind() == reflect.Struct:
		idx := getPlan(v.Type(), f).index[i]
		if idx == nil {
			return v, withPath(mismatch(OpWrite, off, "%s has no field for %q", v.Type(), name), name)
		}
		return v.FieldByIndex(idx), nil
	case v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String:
		fv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !fv.IsValid() {
			return fv, withPath(mismatch(OpWrite, off, "missing field %q", name), name)
		}
		return fv, nil
	}
	return v, mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.Name())
}

func (w *writer) sequence(off int, f *Formula, v reflect.Value) (int, error) {
	stride := f.elem.fixed(w.word)
	if f.kind == KindArray && isCollection(v) && v.Len() != f.n {
		return 0, mismatch(OpWrite, off, "array of %d elements got %d", f.n, v.Len())
	}
	i := 0
	ok, err := each(v, func(e reflect.Value) error {
		if f.kind == KindArray && i >= f.n {
			return mismatch(OpWrite, off, "array of %d elements got more", f.n)
		}
		if _, err := w.value(off+i*stride, f.elem, e); err != nil {
			return withPath(err, indexSegment(i))
		}
		i++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, seqMismatch(off, f, v)
	}
	if f.kind == KindArray && i != f.n {
		return 0, mismatch(OpWrite, off, "array of %d elements got %d", f.n, i)
	}
	return i * stride, nil
}

func seqMismatch(off int, f *Formula, v reflect.Value) error {
	if !v.IsValid() {
		return mismatch(OpWrite, off, "missing value for %s", f.Name())
	}
	return mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.Name())
}

func isCollection(v reflect.Value) bool {
	return v.IsValid() && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array)
}

// isSeq reports whether t has the shape of iter.Seq[E].
func isSeq(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 1 && y.NumOut() == 1 && y.Out(0).Kind() == reflect.Bool
}

var (
	yieldMore = []reflect.Value{reflect.ValueOf(true)}
	yieldStop = []reflect.Value{reflect.ValueOf(false)}
)

// each calls fn for every element of a slice, array or iter.Seq value. It
// reports false when v is not a sequence. A generator is consumed once.
func each(v reflect.Value, fn func(reflect.Value) error) (bool, error) {
	if isCollection(v) {
		for i := 0; i < v.Len(); i++ {
			if err := fn(v.Index(i)); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	if !v.IsValid() || !isSeq(v.Type()) {
		return false, nil
	}
	if v.IsNil() {
		return true, nil
	}
	var err error
	if v.CanInterface() {
		var seq func(func(any) bool)
		switch s := v.Interface().(type) {
		case iter.Seq[any]:
			seq = s
		case func(func(any) bool):
			seq = s
		}
		if seq != nil {
			seq(func(x any) bool {
				if err == nil {
					err = fn(reflect.ValueOf(x))
				}
				return err == nil
			})
			return true, err
		}
	}
	yield := reflect.MakeFunc(v.Type().In(0), func(args []reflect.Value) []reflect.Value {
		if err == nil {
			err = fn(args[0])
		}
		if err != nil {
			return yieldStop
		}
		return yieldMore
	})
	v.Call([]reflect.Value{yield})
	return true, err
}

// count returns the number of elements of a sequence value, iterating a
// generator once.
func count(v reflect.Value) (int, bool) {
	if isCollection(v) {
		return v.Len(), true
	}
	n := 0
	ok, _ := each(v, func(reflect.Value) error {
		n++
		return nil
	})
	return n, ok
}

// inlineSize computes the inline length of v under f without writing.
func (w *writer) inlineSize(off int, f *Formula, v reflect.Value) (int, error) {
	if f.sized {
		return f.fixed(w.word), nil
	}
	switch f.kind {
	case KindUnion, KindOption:
		i, body, err := selectCase(off, f, v)
		if err != nil {
			return 0, err
		}
		n, err := w.inlineSize(off+w.word, f.cases[i].Formula, body)
		if err != nil {
			return 0, withPath(err, f.cases[i].Name)
		}
		return w.word + n, nil
	}
	v = indirect(v)
	switch f.kind {
	case KindBytes, KindString:
		if v.IsValid() && (v.Kind() == reflect.String || (v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8)) {
			return v.Len(), nil
		}
		if n, ok := count(v); ok && f.kind == KindBytes {
			return n, nil
		}
		return 0, seqMismatch(off, f, v)
	case KindSlice:
		n, ok := count(v)
		if !ok {
			return 0, seqMismatch(off, f, v)
		}
		return n * f.elem.fixed(w.word), nil
	case KindStruct:
		last := len(f.fields) - 1
		n := 0
		for _, fd := range f.fields[:last] {
			n += fd.Formula.fixed(w.word)
		}
		fv, err := field(off, f, last, v)
		if err != nil {
			return 0, err
		}
		m, err := w.inlineSize(off+n, f.fields[last].Formula, fv)
		if err != nil {
			return 0, withPath(err, f.fields[last].Name)
		}
		return n + m, nil
	}
	return 0, mismatch(OpWrite, off, "cannot size %s", f.Name())
}
