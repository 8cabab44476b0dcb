package formula

import (
	"reflect"

	"github.com/rawbytedev/formula/internal/common"
)

// Tagged is the generic Go form of a union value.
type Tagged struct {
	Case  string
	Value any
}

var taggedType = reflect.TypeFor[Tagged]()

// selectCase picks the union case for v and returns the value of its body.
func selectCase(off int, f *Formula, v reflect.Value) (int, reflect.Value, error) {
	for v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if v.IsValid() && v.Kind() == reflect.Pointer && !v.IsNil() && v.Type().Elem() == taggedType {
		v = v.Elem()
	}
	if v.IsValid() && v.Type() == taggedType {
		name := v.Field(0).String()
		i, ok := f.caseByName(name)
		if !ok {
			return 0, v, newError(OpWrite, CodeInvalidDiscriminant, off, "%s has no case %q", f.Name(), name)
		}
		return i, v.Field(1), nil
	}
	if f.kind == KindOption {
		if !v.IsValid() || ((v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil()) {
			return 0, reflect.Value{}, nil
		}
		if v.Kind() == reflect.Pointer {
			return 1, v.Elem(), nil
		}
		return 1, v, nil
	}
	if !v.IsValid() {
		return 0, v, mismatch(OpWrite, off, "missing value for %s", f.Name())
	}
	if i, ok := f.caseByType(v.Type()); ok {
		return i, v, nil
	}
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		if i, ok := f.caseByType(v.Type().Elem()); ok {
			return i, v.Elem(), nil
		}
	}
	if v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String && v.Len() == 1 {
		it := v.MapRange()
		it.Next()
		name := it.Key().String()
		i, ok := f.caseByName(name)
		if !ok {
			return 0, v, newError(OpWrite, CodeInvalidDiscriminant, off, "%s has no case %q", f.Name(), name)
		}
		return i, it.Value(), nil
	}
	return 0, v, mismatch(OpWrite, off, "cannot encode %s as %s", v.Type(), f.Name())
}

// union writes the tag word, the case body and, for a sized union, zero
// padding up to the fixed size.
func (w *writer) union(off int, f *Formula, v reflect.Value) (int, error) {
	i, body, err := selectCase(off, f, v)
	if err != nil {
		return 0, err
	}
	c := f.cases[i]
	size := w.word
	if f.sized {
		size = f.fixed(w.word)
	}
	if err := w.need(off, size); err != nil {
		return 0, err
	}
	if err := w.putWord(off, c.Tag, "tag"); err != nil {
		return 0, err
	}
	n, err := w.value(off+w.word, c.Formula, body)
	if err != nil {
		return 0, withPath(err, c.Name)
	}
	if !f.sized {
		return w.word + n, nil
	}
	if !w.dry {
		common.Zero(w.buf[off+w.word+n : off+size])
	}
	return size, nil
}

// readTag decodes the tag at off and returns the matched case with the end
// of its body span.
func (r *reader) readTag(off, end int, f *Formula) (int, int, error) {
	size := r.word
	if f.sized {
		size = f.fixed(r.word)
	}
	if err := r.need(off, end, size); err != nil {
		return 0, 0, err
	}
	tag := readWord(r.data, off, r.word)
	i, ok := f.caseByTag(tag)
	if !ok {
		return 0, 0, newError(OpRead, CodeInvalidDiscriminant, off, "%s has no case with tag %d", f.Name(), tag)
	}
	if f.sized {
		end = off + size
	}
	return i, end, nil
}

// union decodes a union into v. The Go side may be Tagged, an interface
// satisfied by a type bound with CaseOf, a pointer for options, or the bound
// type itself.
func (r *reader) union(off, end int, f *Formula, v reflect.Value) error {
	i, end, err := r.readTag(off, end, f)
	if err != nil {
		return err
	}
	c := f.cases[i]
	body := off + r.word
	err = r.unionInto(body, end, f, c, v)
	if err != nil {
		return withPath(err, c.Name)
	}
	return nil
}

func (r *reader) unionInto(off, end int, f *Formula, c Case, v reflect.Value) error {
	t := v.Type()
	switch {
	case t == taggedType:
		v.Field(0).SetString(c.Name)
		return r.value(off, end, c.Formula, v.Field(1))
	case c.goType != nil && c.goType.AssignableTo(t) && t != c.goType:
		if !r.cfg.AllowAllocation {
			return newError(OpRead, CodeAllocationDisabled, off, "building %s needs allocation", c.goType)
		}
		nv := reflect.New(c.goType).Elem()
		if err := r.value(off, end, c.Formula, nv); err != nil {
			return err
		}
		v.Set(nv)
		return nil
	case t.Kind() == reflect.Interface && t.NumMethod() == 0:
		d, err := r.dynamic(off, end, c.Formula)
		if err != nil {
			return err
		}
		if d = caseValue(f, c, d); d == nil {
			v.SetZero()
		} else {
			v.Set(reflect.ValueOf(d))
		}
		return nil
	case f.kind == KindOption && t.Kind() == reflect.Pointer:
		if c.Tag == 0 {
			v.SetZero()
			return nil
		}
		if v.IsNil() {
			if !r.cfg.AllowAllocation {
				return newError(OpRead, CodeAllocationDisabled, off, "building %s needs allocation", t)
			}
			v.Set(reflect.New(t.Elem()))
		}
		return r.value(off, end, c.Formula, v.Elem())
	case f.kind == KindOption:
		if c.Tag == 0 {
			v.SetZero()
			return nil
		}
		return r.value(off, end, c.Formula, v)
	case c.goType == t:
		return r.value(off, end, c.Formula, v)
	}
	return mismatch(OpRead, off, "cannot decode case %q of %s into %s", c.Name, f.Name(), t)
}

// caseValue is the dynamic form of a decoded case: the body itself (or nil)
// for options, Tagged otherwise.
func caseValue(f *Formula, c Case, body any) any {
	if f.kind == KindOption {
		if c.Tag == 0 {
			return nil
		}
		return body
	}
	return Tagged{Case: c.Name, Value: body}
}
