package formula

import "go.uber.org/zap"

// Encode sizes v with a dry run, then writes it into a new exact buffer.
// v is traversed twice, so a one-shot generator must go through Write.
func Encode[T any](cfg Config, v T, f *Formula) ([]byte, error) {
	if err := checkCall(cfg, f, OpWrite); err != nil {
		return nil, err
	}
	if !cfg.AllowAllocation {
		return nil, newError(OpWrite, CodeAllocationDisabled, -1, "Encode allocates its buffer")
	}
	n, err := SizeOf(cfg, v, f)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := Write(cfg, v, f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encoder reuses one growing buffer across encodes. It is not safe for
// concurrent use.
type Encoder struct {
	cfg Config
	buf []byte
}

// NewEncoder returns an Encoder with an initial capacity of size bytes.
func NewEncoder(cfg Config, size int) *Encoder {
	return &Encoder{cfg: cfg, buf: make([]byte, 0, max(size, 0))}
}

// Encode returns the encoding of v. The result is valid until the next call.
func (e *Encoder) Encode(v any, f *Formula) ([]byte, error) {
	n, err := SizeOf(e.cfg, v, f)
	if err != nil {
		return nil, err
	}
	if n > cap(e.buf) {
		if !e.cfg.AllowAllocation {
			return nil, newError(OpWrite, CodeAllocationDisabled, -1,
				"encoding needs %d bytes, encoder holds %d", n, cap(e.buf))
		}
		grown := max(n, 2*cap(e.buf))
		Logger().Debug("growing encoder buffer",
			zap.Int("from", cap(e.buf)),
			zap.Int("to", grown),
			zap.String("formula", f.Name()),
		)
		e.buf = make([]byte, 0, grown)
	}
	e.buf = e.buf[:n]
	if _, err := Write(e.cfg, v, f, e.buf); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Reset drops the buffer so its memory can be collected.
func (e *Encoder) Reset() {
	e.buf = nil
}
