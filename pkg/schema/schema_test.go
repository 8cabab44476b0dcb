package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rawbytedev/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orders = `
formulas:
  Line:
    struct:
      - sku: u32
      - qty: i16
  Order:
    struct:
      - id: u64
      - note: {ref: string}
      - lines: {ref: {slice: Line}}
      - labels: {slice: {ref: string}}
  Grid:
    array: {len: 3, of: {array: {len: 3, of: u8}}}
  Maybe:
    option: Line
  Shape:
    union:
      - dot: unit
      - circle: {struct: [{r: u32}]}
      - square: {tag: 9, formula: {struct: [{s: u16}]}}
      - nothing: {tag: 10}
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(orders))
	require.NoError(t, err)
	assert.Equal(t, []string{"Line", "Order", "Grid", "Maybe", "Shape"}, reg.Names())

	line := reg.Must("Line")
	assert.Equal(t, "Line", line.Name())
	assert.Equal(t, "struct{sku:u32,qty:i16}", line.String())

	order, ok := reg.Lookup("Order")
	require.True(t, ok)
	assert.False(t, order.Sized())
	assert.False(t, order.Heapless())
	want := formula.Struct(
		formula.F("id", formula.U64),
		formula.F("note", formula.Ref(formula.String)),
		formula.F("lines", formula.Ref(formula.Slice(formula.Struct(formula.F("sku", formula.U32), formula.F("qty", formula.I16))))),
		formula.F("labels", formula.Slice(formula.Ref(formula.String))),
	)
	assert.Equal(t, want.Fingerprint(), order.Fingerprint())

	grid := reg.Must("Grid")
	n, ok := grid.FixedSize(formula.Width32)
	require.True(t, ok)
	assert.Equal(t, 9, n)

	assert.Equal(t, "option<struct{sku:u32,qty:i16}>", reg.Must("Maybe").String())

	cases := reg.Must("Shape").Cases()
	require.Len(t, cases, 4)
	assert.Equal(t, []uint64{0, 1, 9, 10}, []uint64{cases[0].Tag, cases[1].Tag, cases[2].Tag, cases[3].Tag})
	assert.Same(t, formula.Unit, cases[3].Formula)

	_, ok = reg.Lookup("Missing")
	assert.False(t, ok)
	assert.Panics(t, func() { reg.Must("Missing") })
}

func TestParsedFormulaEncodes(t *testing.T) {
	reg, err := Parse([]byte(orders))
	require.NoError(t, err)
	cfg := formula.DefaultConfig()
	value := map[string]any{
		"id":     7,
		"note":   "hello",
		"lines":  []any{map[string]any{"sku": 1, "qty": -2}},
		"labels": []any{"a", "b"},
	}
	b, err := formula.Encode(cfg, value, reg.Must("Order"))
	require.NoError(t, err)
	got, err := formula.Decode[any](cfg, b, reg.Must("Order"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":     uint64(7),
		"note":   "hello",
		"lines":  []any{map[string]any{"sku": uint32(1), "qty": int16(-2)}},
		"labels": []any{"a", "b"},
	}, got)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		line int
		msg  string
	}{
		{"missing section", "other: 1\n", 1, "missing formulas section"},
		{"unknown reference", "formulas:\n  A:\n    slice: B\n", 3, `unknown formula "B"`},
		{"cycle", "formulas:\n  A:\n    slice: B\n  B:\n    ref: A\n", 3, "cycle"},
		{"unknown kind", "formulas:\n  A:\n    tuple: [u8]\n", 3, `unknown formula kind "tuple"`},
		{"unsized field", "formulas:\n  A:\n    struct:\n      - s: string\n      - n: u8\n", 4, "invalid formula"},
		{"shadowed primitive", "formulas:\n  u8: u16\n", 2, "shadows a primitive"},
		{"bad array", "formulas:\n  A:\n    array: {of: u8}\n", 3, "array needs len and of"},
		{"struct not a sequence", "formulas:\n  A:\n    struct: {a: u8}\n", 3, "struct must be a sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var e *Error
			require.True(t, errors.As(err, &e), err.Error())
			assert.Equal(t, tt.line, e.Line)
			assert.Contains(t, e.Error(), tt.msg)
		})
	}
}

func TestParseWrapsDefinitionErrors(t *testing.T) {
	_, err := Parse([]byte("formulas:\n  A:\n    slice: string\n"))
	require.ErrorIs(t, err, formula.ErrInvalidFormula)

	_, err = Parse([]byte("formulas:\n  A:\n    array: {len: 1152921504606846976, of: u64}\n"))
	require.ErrorIs(t, err, formula.ErrInvalidFormula)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Line)
}

func TestLoad(t *testing.T) {
	reg, err := Load(strings.NewReader(orders))
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 5)

	path := filepath.Join(t.TempDir(), "orders.yaml")
	require.NoError(t, os.WriteFile(path, []byte(orders), 0o600))
	reg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 5)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Parse([]byte("formulas: [1, 2]\n"))
	require.Error(t, err)
	_, err = Parse(nil)
	require.Error(t, err)
}
