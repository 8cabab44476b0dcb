package formula

import (
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the layout rule a Formula follows.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindBytes
	KindString
	KindStruct
	KindArray
	KindSlice
	KindRef
	KindUnion
	KindOption
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindI8:      "i8",
	KindI16:     "i16",
	KindI32:     "i32",
	KindI64:     "i64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindBytes:   "bytes",
	KindString:  "string",
	KindStruct:  "struct",
	KindArray:   "array",
	KindSlice:   "slice",
	KindRef:     "ref",
	KindUnion:   "union",
	KindOption:  "option",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) isPrimitive() bool { return k >= KindBool && k <= KindF64 }

func (k Kind) isSigned() bool { return k >= KindI8 && k <= KindI64 }

func (k Kind) isUnsigned() bool { return k >= KindU8 && k <= KindU64 }

// Field is one named member of a struct formula.
type Field struct {
	Name    string
	Formula *Formula
}

// F is shorthand for a Field literal.
func F(name string, f *Formula) Field {
	return Field{Name: name, Formula: f}
}

// Case is one variant of a union formula.
type Case struct {
	Name    string
	Tag     uint64
	Formula *Formula

	goType reflect.Type
}

// Variant declares a union case. A nil formula means Unit.
func Variant(name string, tag uint64, f *Formula) Case {
	return Case{Name: name, Tag: tag, Formula: f}
}

// CaseOf declares a union case whose Go representation is T. Encoding a value
// of dynamic type T selects this case and decoding into an interface builds a T.
func CaseOf[T any](name string, tag uint64, f *Formula) Case {
	c := Variant(name, tag, f)
	c.goType = reflect.TypeFor[T]()
	return c
}

// GoType returns the Go type bound with CaseOf, or nil.
func (c Case) GoType() reflect.Type { return c.goType }

// Formula is an immutable layout descriptor. Formulas are built once, usually
// as package-level variables, and shared by writers and readers.
type Formula struct {
	kind   Kind
	name   string
	fields []Field
	elem   *Formula
	n      int
	cases  []Case
	width  int // primitive byte width

	sized    bool
	heapless bool
	size     [2]int // fixed size for Width32 and Width64
	root     *Formula
	desc     string
	fp       uint64
}

func newPrimitive(k Kind, width int) *Formula {
	f := &Formula{kind: k, width: width}
	must(f, f.finish())
	return f
}

// Primitive and leaf formulas.
var (
	Bool = newPrimitive(KindBool, 1)
	U8   = newPrimitive(KindU8, 1)
	U16  = newPrimitive(KindU16, 2)
	U32  = newPrimitive(KindU32, 4)
	U64  = newPrimitive(KindU64, 8)
	I8   = newPrimitive(KindI8, 1)
	I16  = newPrimitive(KindI16, 2)
	I32  = newPrimitive(KindI32, 4)
	I64  = newPrimitive(KindI64, 8)
	F32  = newPrimitive(KindF32, 4)
	F64  = newPrimitive(KindF64, 8)

	// Bytes is an unsized run of raw bytes.
	Bytes = newPrimitive(KindBytes, 0)
	// String is an unsized run of UTF-8 bytes.
	String = newPrimitive(KindString, 0)
	// Unit is the empty struct; it encodes to zero bytes.
	Unit = Struct()
)

// PrimitiveByName returns the leaf formula named by its canonical description.
func PrimitiveByName(name string) (*Formula, bool) {
	switch name {
	case "bool":
		return Bool, true
	case "u8":
		return U8, true
	case "u16":
		return U16, true
	case "u32":
		return U32, true
	case "u64":
		return U64, true
	case "i8":
		return I8, true
	case "i16":
		return I16, true
	case "i32":
		return I32, true
	case "i64":
		return I64, true
	case "f32":
		return F32, true
	case "f64":
		return F64, true
	case "bytes":
		return Bytes, true
	case "string":
		return String, true
	case "unit":
		return Unit, true
	}
	return nil, false
}

func must(f *Formula, err error) *Formula {
	if err != nil {
		panic(err)
	}
	return f
}

// Struct concatenates fields in order. Only the last field may be unsized.
// It panics on an invalid definition; use NewStruct to get the error.
func Struct(fields ...Field) *Formula { return must(NewStruct(fields...)) }

// NewStruct is Struct returning definition errors.
func NewStruct(fields ...Field) (*Formula, error) {
	seen := make(map[string]struct{}, len(fields))
	for i, fd := range fields {
		if fd.Formula == nil {
			return nil, defineError("field %q has no formula", fd.Name)
		}
		if fd.Name == "" {
			return nil, defineError("field %d has no name", i)
		}
		if _, dup := seen[fd.Name]; dup {
			return nil, defineError("duplicate field %q", fd.Name)
		}
		seen[fd.Name] = struct{}{}
		if !fd.Formula.sized && i != len(fields)-1 {
			return nil, defineError("unsized field %q must be the last field", fd.Name)
		}
	}
	f := &Formula{kind: KindStruct, fields: slices.Clone(fields)}
	if err := f.finish(); err != nil {
		return nil, err
	}
	return f, nil
}

// Array is exactly n contiguous elements; the count is not encoded.
func Array(elem *Formula, n int) *Formula { return must(NewArray(elem, n)) }

// NewArray is Array returning definition errors.
func NewArray(elem *Formula, n int) (*Formula, error) {
	if n < 0 {
		return nil, defineError("negative array length %d", n)
	}
	if err := checkElem(elem); err != nil {
		return nil, err
	}
	f := &Formula{kind: KindArray, elem: elem, n: n}
	if err := f.finish(); err != nil {
		return nil, err
	}
	return f, nil
}

// Slice is a run of elements whose count is derived from the enclosing span.
func Slice(elem *Formula) *Formula { return must(NewSlice(elem)) }

// NewSlice is Slice returning definition errors.
func NewSlice(elem *Formula) (*Formula, error) {
	if err := checkElem(elem); err != nil {
		return nil, err
	}
	f := &Formula{kind: KindSlice, elem: elem}
	if err := f.finish(); err != nil {
		return nil, err
	}
	return f, nil
}

func checkElem(elem *Formula) error {
	if elem == nil {
		return defineError("sequence has no element formula")
	}
	if !elem.sized {
		return defineError("sequence element %s is unsized", elem.desc)
	}
	if elem.size[0] == 0 || elem.size[1] == 0 {
		return defineError("sequence element %s has zero stride", elem.desc)
	}
	return nil
}

// Ref places f out of line; the use site is a fixed (address, length) pair.
func Ref(f *Formula) *Formula { return must(NewRef(f)) }

// NewRef is Ref returning definition errors.
func NewRef(f *Formula) (*Formula, error) {
	if f == nil {
		return nil, defineError("reference has no formula")
	}
	r := &Formula{kind: KindRef, elem: f}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return r, nil
}

// Union is a tagged union. It is sized when every case is sized and then
// pads every case to the same length.
func Union(cases ...Case) *Formula { return must(NewUnion(cases...)) }

// NewUnion is Union returning definition errors.
func NewUnion(cases ...Case) (*Formula, error) {
	cs, err := checkCases(cases)
	if err != nil {
		return nil, err
	}
	f := &Formula{kind: KindUnion, cases: cs}
	if err := f.finish(); err != nil {
		return nil, err
	}
	return f, nil
}

func checkCases(cases []Case) ([]Case, error) {
	if len(cases) == 0 {
		return nil, defineError("union has no cases")
	}
	cs := slices.Clone(cases)
	names := make(map[string]struct{}, len(cs))
	tags := make(map[uint64]struct{}, len(cs))
	for i := range cs {
		c := &cs[i]
		if c.Formula == nil {
			c.Formula = Unit
		}
		if c.Name == "" {
			return nil, defineError("case %d has no name", i)
		}
		if _, dup := names[c.Name]; dup {
			return nil, defineError("duplicate case %q", c.Name)
		}
		if _, dup := tags[c.Tag]; dup {
			return nil, defineError("duplicate tag %d on case %q", c.Tag, c.Name)
		}
		if c.Tag > math.MaxUint32 {
			return nil, defineError("tag %d on case %q exceeds 32 bits", c.Tag, c.Name)
		}
		names[c.Name] = struct{}{}
		tags[c.Tag] = struct{}{}
	}
	return cs, nil
}

// Option is a union of none (tag 0) and some (tag 1) holding f.
func Option(f *Formula) *Formula { return must(NewOption(f)) }

// NewOption is Option returning definition errors.
func NewOption(f *Formula) (*Formula, error) {
	if f == nil {
		return nil, defineError("option has no formula")
	}
	o := &Formula{kind: KindOption, elem: f, cases: []Case{
		{Name: "none", Tag: 0, Formula: Unit},
		{Name: "some", Tag: 1, Formula: f},
	}}
	if err := o.finish(); err != nil {
		return nil, err
	}
	return o, nil
}

// Named returns a copy of f carrying a display name. The layout is unchanged.
// It panics when f is nil; use NewNamed to get the error.
func Named(name string, f *Formula) *Formula { return must(NewNamed(name, f)) }

// NewNamed is Named returning definition errors.
func NewNamed(name string, f *Formula) (*Formula, error) {
	if f == nil {
		return nil, defineError("named formula %q has no formula", name)
	}
	c := *f
	c.name = name
	return &c, nil
}

// addSize and mulSize fold fixed sizes, clearing ok on int overflow.
func addSize(a, b int, ok *bool) int {
	if a > math.MaxInt-b {
		*ok = false
		return 0
	}
	return a + b
}

func mulSize(n, s int, ok *bool) int {
	if s != 0 && n > math.MaxInt/s {
		*ok = false
		return 0
	}
	return n * s
}

// finish computes sizedness, sizes and the canonical description. It fails
// when a fixed size does not fit in an int.
func (f *Formula) finish() error {
	var b strings.Builder
	fits := true
	switch {
	case f.kind.isPrimitive():
		f.sized, f.heapless = true, true
		f.size = [2]int{f.width, f.width}
		b.WriteString(f.kind.String())
	case f.kind == KindBytes || f.kind == KindString:
		f.sized, f.heapless = false, true
		b.WriteString(f.kind.String())
	case f.kind == KindStruct:
		f.sized, f.heapless = true, true
		b.WriteString("struct{")
		for i, fd := range f.fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(fd.Name)
			b.WriteByte(':')
			b.WriteString(fd.Formula.desc)
			f.sized = f.sized && fd.Formula.sized
			f.heapless = f.heapless && fd.Formula.heapless
			f.size[0] = addSize(f.size[0], fd.Formula.size[0], &fits)
			f.size[1] = addSize(f.size[1], fd.Formula.size[1], &fits)
		}
		b.WriteByte('}')
	case f.kind == KindArray:
		f.sized, f.heapless = true, f.elem.heapless
		f.size = [2]int{mulSize(f.n, f.elem.size[0], &fits), mulSize(f.n, f.elem.size[1], &fits)}
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(f.n))
		b.WriteByte(']')
		b.WriteString(f.elem.desc)
	case f.kind == KindSlice:
		f.sized, f.heapless = false, f.elem.heapless
		b.WriteString("[]")
		b.WriteString(f.elem.desc)
	case f.kind == KindRef:
		f.sized, f.heapless = true, false
		f.size = [2]int{2 * Width32.Bytes(), 2 * Width64.Bytes()}
		b.WriteString("ref<")
		b.WriteString(f.elem.desc)
		b.WriteByte('>')
	case f.kind == KindUnion || f.kind == KindOption:
		f.sized, f.heapless = true, true
		var body [2]int
		for _, c := range f.cases {
			f.sized = f.sized && c.Formula.sized
			f.heapless = f.heapless && c.Formula.heapless
			body[0] = max(body[0], c.Formula.size[0])
			body[1] = max(body[1], c.Formula.size[1])
		}
		f.size = [2]int{addSize(Width32.Bytes(), body[0], &fits), addSize(Width64.Bytes(), body[1], &fits)}
		if f.kind == KindOption {
			b.WriteString("option<")
			b.WriteString(f.elem.desc)
			b.WriteByte('>')
			break
		}
		b.WriteString("union{")
		for i, c := range f.cases {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(c.Name)
			b.WriteByte('#')
			b.WriteString(strconv.FormatUint(c.Tag, 10))
			b.WriteByte(':')
			b.WriteString(c.Formula.desc)
		}
		b.WriteByte('}')
	}
	f.desc = b.String()
	if !fits {
		return defineError("fixed size of %s overflows int", f.desc)
	}
	if !f.sized {
		f.size = [2]int{}
	}
	f.fp = xxhash.Sum64String(f.desc)
	if !f.sized && !f.heapless {
		f.root = &Formula{kind: KindRef, elem: f}
		return f.root.finish()
	}
	return nil
}

// Kind returns the layout rule.
func (f *Formula) Kind() Kind { return f.kind }

// Name returns the display name set by Named, or the canonical description.
func (f *Formula) Name() string {
	if f.name != "" {
		return f.name
	}
	return f.desc
}

// Sized reports whether every conforming value has the same inline length.
func (f *Formula) Sized() bool { return f.sized }

// Heapless reports whether the formula contains no reference, so a value
// never writes outside its inline span.
func (f *Formula) Heapless() bool { return f.heapless }

// FixedSize returns the inline length under the given width.
func (f *Formula) FixedSize(w Width) (int, bool) {
	if !f.sized {
		return 0, false
	}
	return f.size[w.index()], true
}

func (f *Formula) fixed(word int) int {
	if word == 8 {
		return f.size[1]
	}
	return f.size[0]
}

// Fields returns the struct fields.
func (f *Formula) Fields() []Field { return slices.Clone(f.fields) }

// Elem returns the element, referenced or optional formula.
func (f *Formula) Elem() *Formula { return f.elem }

// Len returns the array length.
func (f *Formula) Len() int { return f.n }

// Cases returns the union cases.
func (f *Formula) Cases() []Case { return slices.Clone(f.cases) }

// String returns the canonical layout description.
func (f *Formula) String() string { return f.desc }

// Fingerprint hashes the canonical description. Two formulas with equal
// fingerprints produce the same bytes for the same primitive stream.
func (f *Formula) Fingerprint() uint64 { return f.fp }

func (f *Formula) caseByTag(tag uint64) (int, bool) {
	for i := range f.cases {
		if f.cases[i].Tag == tag {
			return i, true
		}
	}
	return 0, false
}

func (f *Formula) caseByName(name string) (int, bool) {
	for i := range f.cases {
		if f.cases[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

func (f *Formula) caseByType(t reflect.Type) (int, bool) {
	for i := range f.cases {
		if f.cases[i].goType == t {
			return i, true
		}
	}
	return 0, false
}
