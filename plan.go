package formula

import (
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// fieldPlan maps the fields of a struct formula onto a Go struct type.
// index[i] is the reflect index path of formula field i, nil when the Go
// type has no matching field.
type fieldPlan struct {
	index [][]int
}

type planKey struct {
	t reflect.Type
	f *Formula
}

var (
	plans   = make(map[planKey]*fieldPlan)
	plansMu sync.RWMutex
)

func getPlan(t reflect.Type, f *Formula) *fieldPlan {
	key := planKey{t: t, f: f}
	plansMu.RLock()
	if plan, ok := plans[key]; ok {
		plansMu.RUnlock()
		return plan
	}
	plansMu.RUnlock()

	plansMu.Lock()
	defer plansMu.Unlock()

	// Double-check
	if plan, ok := plans[key]; ok {
		return plan
	}

	plan := &fieldPlan{index: make([][]int, len(f.fields))}
	matched := 0
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous || throughPointer(t, sf.Index) {
			continue
		}
		name, ok := sf.Tag.Lookup("formula")
		if name == "-" {
			continue
		}
		for i, fd := range f.fields {
			if plan.index[i] != nil {
				continue
			}
			if (ok && name == fd.Name) || (!ok && strings.EqualFold(sf.Name, fd.Name)) {
				plan.index[i] = sf.Index
				matched++
				break
			}
		}
	}

	plans[key] = plan
	Logger().Debug("compiled field plan",
		zap.Stringer("type", t),
		zap.String("formula", f.Name()),
		zap.Int("fields", len(f.fields)),
		zap.Int("matched", matched),
	)
	return plan
}

// throughPointer reports whether a promoted field is reached through an
// embedded pointer, which would need allocation on decode.
func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		sf := t.Field(i)
		if sf.Type.Kind() == reflect.Pointer {
			return true
		}
		t = sf.Type
	}
	return false
}
