package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
formulas:
  Point:
    struct:
      - dx: i16
      - dy: i16
  Label:
    struct:
      - id: u32
      - text: {ref: string}
  Blob:
    struct:
      - data: {ref: bytes}
  Shape:
    union:
      - dot: unit
      - circle: {struct: [{r: u32}]}
`

func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o600))
	return path
}

func run(t *testing.T, stdin []byte, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLayout(t *testing.T) {
	path := writeSchema(t)
	out, err := run(t, nil, "layout", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "SIZE(w32)")
	assert.Regexp(t, `^Point\s+struct\s+true\s+4 B\s+true\s+[0-9a-f]{16}$`, lines[1])
	assert.Regexp(t, `^Label\s+struct\s+true\s+12 B\s+false`, lines[2])
	assert.Regexp(t, `^Shape\s+union\s+true\s+8 B\s+true`, lines[4])

	out, err = run(t, nil, "layout", "--address-width", "64", path, "Label")
	require.NoError(t, err)
	assert.Contains(t, out, "SIZE(w64)")
	assert.Regexp(t, `Label\s+struct\s+true\s+20 B`, out)

	_, err = run(t, nil, "layout", path, "Nope")
	require.Error(t, err)
	_, err = run(t, nil, "layout", "--address-width", "48", path)
	require.Error(t, err)
}

func TestLayoutFromEnvironment(t *testing.T) {
	t.Setenv("FORMULA_ADDRESS_WIDTH", "64")
	out, err := run(t, nil, "layout", writeSchema(t), "Label")
	require.NoError(t, err)
	assert.Contains(t, out, "SIZE(w64)")
}

func TestLayoutFromConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "formula.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("address_width: 64\n"), 0o600))
	out, err := run(t, nil, "--config", cfg, "layout", writeSchema(t), "Label")
	require.NoError(t, err)
	assert.Contains(t, out, "SIZE(w64)")
}

func TestEncodeDecode(t *testing.T) {
	path := writeSchema(t)

	out, err := run(t, []byte("dx: 1\ndy: -2\n"), "encode", "--schema", path, "--formula", "Point")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0xFE, 0xFF}, []byte(out))

	text, err := run(t, []byte(out), "decode", "--schema", path, "--formula", "Point")
	require.NoError(t, err)
	assert.Equal(t, "dx: 1\ndy: -2\n", text)

	bin := filepath.Join(t.TempDir(), "label.bin")
	_, err = run(t, []byte("id: 7\ntext: hello\n"), "encode", "--schema", path, "--formula", "Label", "--out", bin)
	require.NoError(t, err)
	text, err = run(t, nil, "decode", "--schema", path, "--formula", "Label", bin)
	require.NoError(t, err)
	assert.Equal(t, "id: 7\ntext: hello\n", text)
}

func TestEncodeDecodeUnionAndBytes(t *testing.T) {
	path := writeSchema(t)

	out, err := run(t, []byte("circle: {r: 5}\n"), "encode", "--schema", path, "--formula", "Shape")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 5, 0, 0, 0}, []byte(out))
	text, err := run(t, []byte(out), "decode", "--schema", path, "--formula", "Shape")
	require.NoError(t, err)
	assert.Equal(t, "circle:\n  r: 5\n", text)

	out, err = run(t, []byte("data: hello\n"), "encode", "--schema", path, "--formula", "Blob")
	require.NoError(t, err)
	text, err = run(t, []byte(out), "decode", "--schema", path, "--formula", "Blob")
	require.NoError(t, err)
	assert.Contains(t, text, "!!binary aGVsbG8=")

	again, err := run(t, []byte(text), "encode", "--schema", path, "--formula", "Blob")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestEncodeErrors(t *testing.T) {
	path := writeSchema(t)
	_, err := run(t, []byte("dx: 70000\ndy: 0\n"), "encode", "--schema", path, "--formula", "Point")
	require.Error(t, err)
	_, err = run(t, []byte("dx: 1\n"), "encode", "--schema", path, "--formula", "Missing")
	require.Error(t, err)
	_, err = run(t, []byte("dx: 1\n"), "encode", "--formula", "Point")
	require.Error(t, err)
	_, err = run(t, []byte{1, 0}, "decode", "--schema", path, "--formula", "Point")
	require.Error(t, err)
}

func TestFramed(t *testing.T) {
	path := writeSchema(t)
	one, err := run(t, []byte("dx: 1\ndy: 2\n"), "encode", "--frame", "--schema", path, "--formula", "Point")
	require.NoError(t, err)
	require.Len(t, one, 16+4+4)
	two, err := run(t, []byte("dx: 3\ndy: 4\n"), "encode", "--frame", "--schema", path, "--formula", "Point")
	require.NoError(t, err)

	text, err := run(t, []byte(one+two), "decode", "--frame", "--schema", path, "--formula", "Point")
	require.NoError(t, err)
	assert.Equal(t, "dx: 1\ndy: 2\n---\ndx: 3\ndy: 4\n", text)

	_, err = run(t, []byte(one), "decode", "--frame", "--schema", path, "--formula", "Label")
	require.Error(t, err)
}
