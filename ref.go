package formula

import (
	"reflect"

	"github.com/rawbytedev/formula/internal/common"
)

// A reference slot is two words: the forward distance from the slot to the
// payload, then the payload length in bytes.

func (w *writer) putWord(off int, v uint64, what string) error {
	if !common.FitsUint(v, w.word) {
		return newError(OpWrite, CodeAddressOverflow, off,
			"%s %d does not fit in %d-bit word", what, v, w.word*8)
	}
	if err := w.need(off, w.word); err != nil {
		return err
	}
	if !w.dry {
		common.PutUint(w.buf[off:], w.word, v)
	}
	return nil
}

func (w *writer) putRef(off, address, length int) error {
	if err := w.putWord(off, uint64(address), "address"); err != nil {
		return err
	}
	return w.putWord(off+w.word, uint64(length), "length")
}

// payload appends the value of a Ref formula to the tail and returns its
// offset and length. A payload that itself holds references reserves its
// inline span first so nested payloads land after it.
func (w *writer) payload(f *Formula, v reflect.Value) (int, int, error) {
	p := w.end
	if f.heapless {
		n, err := w.value(p, f, v)
		if err != nil {
			return 0, 0, err
		}
		w.end = p + n
		return p, n, nil
	}
	n, err := w.inlineSize(p, f, v)
	if err != nil {
		return 0, 0, err
	}
	if err := w.need(p, n); err != nil {
		return 0, 0, err
	}
	w.end = p + n
	if _, err := w.value(p, f, v); err != nil {
		return 0, 0, err
	}
	return p, n, nil
}

func (w *writer) ref(off int, f *Formula, v reflect.Value) error {
	if err := w.need(off, 2*w.word); err != nil {
		return err
	}
	p, n, err := w.payload(f.elem, v)
	if err != nil {
		return err
	}
	return w.putRef(off, p-off, n)
}

func readWord(data []byte, off, word int) uint64 {
	return common.Uint(data[off:], word)
}

// deref resolves the reference slot at off into the payload span. The span
// is checked against the whole input, not the enclosing value.
func (r *reader) deref(off, end int) (int, int, error) {
	if err := r.need(off, end, 2*r.word); err != nil {
		return 0, 0, err
	}
	address := readWord(r.data, off, r.word)
	length := readWord(r.data, off+r.word, r.word)
	room := uint64(len(r.data) - off)
	if address > room || length > room-address {
		return 0, 0, newError(OpRead, CodeMisalignedReference, off,
			"reference (%d, %d) exceeds input of %d bytes", address, length, len(r.data))
	}
	start := off + int(address)
	return start, start + int(length), nil
}
