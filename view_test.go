package formula

import (
	"slices"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewSkipThenNext(t *testing.T) {
	v := ReadLazy[uint8](DefaultConfig(), []byte{1, 2, 3}, Slice(U8))
	require.NoError(t, v.Err())
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 1, v.Skip(1))

	x, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(2), x)

	x, ok, err = v.NextBack()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(3), x)

	_, ok, err = v.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = v.NextBack()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, v.Skip(5))
}

func collect[T any](t *testing.T, v *View[T], back bool) []T {
	var out []T
	for {
		next := v.Next
		if back {
			next = v.NextBack
		}
		x, ok, err := next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, x)
	}
}

func TestViewSymmetry(t *testing.T) {
	cfg := DefaultConfig()
	condition := func(vals []uint32) bool {
		b, err := Encode(cfg, vals, Slice(U32))
		require.NoError(t, err)
		v := ReadLazy[uint32](cfg, b, Slice(U32))
		forward := collect(t, v.Clone(), false)
		backward := collect(t, v.Clone(), true)
		slices.Reverse(backward)
		return assert.Equal(t, forward, backward) && assert.Equal(t, len(vals), len(forward))
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))
}

func TestViewSkipMatchesNext(t *testing.T) {
	cfg := DefaultConfig()
	condition := func(vals []int16, k uint8) bool {
		b, err := Encode(cfg, vals, Slice(I16))
		require.NoError(t, err)
		skipped := ReadLazy[int16](cfg, b, Slice(I16))
		stepped := skipped.Clone()
		skipped.Skip(int(k))
		for range int(k) {
			if _, ok, _ := stepped.Next(); !ok {
				break
			}
		}
		x, ok, err := skipped.Next()
		y, ok2, err2 := stepped.Next()
		return x == y && ok == ok2 && err == nil && err2 == nil
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))
}

func TestViewPartialElement(t *testing.T) {
	cfg := DefaultConfig()
	data := []byte{1, 0, 2, 0, 3}

	v := ReadLazy[uint16](cfg, data, Slice(U16))
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, []uint16{1, 2}, []uint16{must16(t, v), must16(t, v)})
	_, ok, err := v.Next()
	assert.True(t, ok)
	require.ErrorIs(t, err, ErrTruncatedInput)
	assert.Equal(t, 0, v.Len())

	v = ReadLazy[uint16](cfg, data, Slice(U16))
	_, ok, err = v.NextBack()
	assert.True(t, ok)
	require.ErrorIs(t, err, ErrTruncatedInput)
	x, _, err := v.NextBack()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), x)

	v = ReadLazy[uint16](cfg, data, Slice(U16))
	assert.Equal(t, 1, v.SkipBack(1))
	assert.Equal(t, []uint16{2, 1}, collect(t, v, true))
}

func must16(t *testing.T, v *View[uint16]) uint16 {
	x, ok, err := v.Next()
	require.NoError(t, err)
	require.True(t, ok)
	return x
}

func TestViewFailedElementIsConsumed(t *testing.T) {
	v := ReadLazy[bool](DefaultConfig(), []byte{1, 7, 0}, Slice(Bool))
	x, _, err := v.Next()
	require.NoError(t, err)
	assert.True(t, x)
	_, ok, err := v.Next()
	assert.True(t, ok)
	require.ErrorIs(t, err, ErrInvalidBoolean)
	x, ok, err = v.Next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, x)
	_, ok, _ = v.Next()
	assert.False(t, ok)
}

func TestViewAt(t *testing.T) {
	v := ReadLazy[uint8](DefaultConfig(), []byte{5, 6, 7, 8}, Array(U8, 4))
	v.Skip(1)
	x, ok, err := v.At(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(8), x)
	_, ok, _ = v.At(3)
	assert.False(t, ok)
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, []byte{6, 7, 8}, v.Remaining())
}

func TestViewIterators(t *testing.T) {
	v := ReadLazy[uint16](DefaultConfig(), []byte{1, 0, 2, 0, 3, 0}, Slice(U16))
	var forward, backward []uint16
	for x, err := range v.All() {
		require.NoError(t, err)
		forward = append(forward, x)
	}
	for x, err := range v.Backward() {
		require.NoError(t, err)
		backward = append(backward, x)
	}
	assert.Equal(t, []uint16{1, 2, 3}, forward)
	assert.Equal(t, []uint16{3, 2, 1}, backward)
	assert.Equal(t, 3, v.Len())
}

func TestViewNotASequence(t *testing.T) {
	v := ReadLazy[uint8](DefaultConfig(), []byte{1}, U8)
	require.ErrorIs(t, v.Err(), ErrTypeMismatch)
	assert.Equal(t, 0, v.Len())
	_, ok, err := v.Next()
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrTypeMismatch)
	assert.Nil(t, v.Remaining())

	var zero View[uint8]
	_, _, err = zero.Next()
	require.ErrorIs(t, err, ErrTypeMismatch)
}

type point struct {
	X int16
	Y int16
}

func TestViewStructElements(t *testing.T) {
	cfg := DefaultConfig()
	f := Slice(Struct(F("x", I16), F("y", I16)))
	b, err := Encode(cfg, []point{{1, 2}, {-3, 4}}, f)
	require.NoError(t, err)
	v := ReadLazy[point](cfg, b, f)
	assert.Equal(t, []point{{1, 2}, {-3, 4}}, collect(t, v, false))
}

func TestViewRootHeader(t *testing.T) {
	cfg := DefaultConfig()
	f := Slice(Ref(String))
	b, err := Encode(cfg, []string{"a", "bc", "def"}, f)
	require.NoError(t, err)
	v := ReadLazy[string](cfg, b, f)
	v.Skip(2)
	x, _, err := v.Next()
	require.NoError(t, err)
	assert.Equal(t, "def", x)
}

func TestViewField(t *testing.T) {
	cfg := DefaultConfig()
	type series struct {
		ID     uint32
		Points []uint16
	}
	type lazySeries struct {
		ID     uint32
		Points View[uint16]
	}
	for _, f := range []*Formula{
		Struct(F("id", U32), F("points", Ref(Slice(U16)))),
		Struct(F("id", U32), F("points", Slice(U16))),
	} {
		b, err := Encode(cfg, series{ID: 9, Points: []uint16{10, 20, 30}}, f)
		require.NoError(t, err)
		var out lazySeries
		require.NoError(t, Read(cfg, b, f, &out))
		assert.Equal(t, uint32(9), out.ID)
		assert.Equal(t, 3, out.Points.Len())
		x, _, err := out.Points.NextBack()
		require.NoError(t, err)
		assert.Equal(t, uint16(30), x)
	}
}

func TestViewStaleBuffer(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer([]byte{1, 2, 3})
	v := ReadLazyBuffer[uint8](cfg, buf, Slice(U8))
	x, _, err := v.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), x)

	buf.Release()
	_, ok, err := v.Next()
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrStaleBuffer)
	assert.Nil(t, v.Remaining())

	buf.Reset([]byte{4})
	v = ReadLazyBuffer[uint8](cfg, buf, Slice(U8))
	x, _, err = v.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), x)

	v = ReadLazyBuffer[uint8](cfg, nil, Slice(U8))
	require.ErrorIs(t, v.Err(), ErrStaleBuffer)
}

func TestViewPrimitiveNextDoesNotAllocate(t *testing.T) {
	b, err := Encode(DefaultConfig(), []uint32{1, 2, 3, 4, 5, 6, 7, 8}, Slice(U32))
	require.NoError(t, err)
	v := ReadLazy[uint32](DefaultConfig(), b, Slice(U32))
	require.NotNil(t, v.fast)
	var sum uint32
	allocs := testing.AllocsPerRun(100, func() {
		v.front, v.back = 0, 8
		for {
			x, ok, _ := v.Next()
			if !ok {
				break
			}
			sum += x
		}
	})
	assert.Zero(t, allocs)
	assert.NotZero(t, sum)
}
