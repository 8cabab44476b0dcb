package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Op names the engine operation an error came from.
type Op string

const (
	OpDefine Op = "define" // formula construction
	OpWrite  Op = "write"  // value to bytes
	OpRead   Op = "read"   // bytes to value
	OpView   Op = "view"   // deferred element access
	OpConfig Op = "config" // configuration validation
)

// Code categorizes an error.
type Code string

const (
	CodeBufferTooSmall      Code = "buffer_too_small"
	CodeAddressOverflow     Code = "address_overflow"
	CodeInvalidDiscriminant Code = "invalid_discriminant"
	CodeTruncatedInput      Code = "truncated_input"
	CodeMisalignedReference Code = "misaligned_reference"
	CodeInvalidBoolean      Code = "invalid_boolean"
	CodeInvalidUTF8         Code = "invalid_utf8"
	CodeTypeMismatch        Code = "type_mismatch"
	CodeInvalidFormula      Code = "invalid_formula"
	CodeAllocationDisabled  Code = "allocation_disabled"
	CodeStaleBuffer         Code = "stale_buffer"
	CodeInvalidConfig       Code = "invalid_config"
)

// Sentinels for errors.Is. They match any *Error with the same Code.
var (
	ErrBufferTooSmall      = &Error{Code: CodeBufferTooSmall}
	ErrAddressOverflow     = &Error{Code: CodeAddressOverflow}
	ErrInvalidDiscriminant = &Error{Code: CodeInvalidDiscriminant}
	ErrTruncatedInput      = &Error{Code: CodeTruncatedInput}
	ErrMisalignedReference = &Error{Code: CodeMisalignedReference}
	ErrInvalidBoolean      = &Error{Code: CodeInvalidBoolean}
	ErrInvalidUTF8         = &Error{Code: CodeInvalidUTF8}
	ErrTypeMismatch        = &Error{Code: CodeTypeMismatch}
	ErrInvalidFormula      = &Error{Code: CodeInvalidFormula}
	ErrAllocationDisabled  = &Error{Code: CodeAllocationDisabled}
	ErrStaleBuffer         = &Error{Code: CodeStaleBuffer}
	ErrInvalidConfig       = &Error{Code: CodeInvalidConfig}
)

// Error is the structured error returned by every engine operation.
type Error struct {
	Cause  error
	Op     Op
	Code   Code
	Detail string
	Path   []string
	// Offset is the byte position in the input or output buffer, -1 when unknown.
	Offset int
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Op))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Code))
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	if e.Offset >= 0 && e.Op != "" && e.Op != OpDefine && e.Op != OpConfig {
		b.WriteString(" (offset ")
		b.WriteString(strconv.Itoa(e.Offset))
		b.WriteByte(')')
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code so callers can compare against the Err* sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func newError(op Op, code Code, offset int, format string, args ...any) *Error {
	e := &Error{Op: op, Code: code, Offset: offset}
	if len(args) > 0 {
		e.Detail = fmt.Sprintf(format, args...)
	} else {
		e.Detail = format
	}
	return e
}

func defineError(format string, args ...any) *Error {
	return newError(OpDefine, CodeInvalidFormula, -1, format, args...)
}

// withPath prepends a path segment while an error unwinds through a composite.
func withPath(err error, segment string) error {
	if e, ok := err.(*Error); ok {
		e.Path = append([]string{segment}, e.Path...)
	}
	return err
}

func indexSegment(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}
