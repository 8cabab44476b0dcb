// Package frame wraps encoded values in a checked envelope for storage or
// transport.
//
// A frame is
//
//	magic "FM" | version u8 | flags u8 | fingerprint u64 | length u32 | payload | crc32
//
// in little-endian order. Bit 0 of flags is set for 64-bit address words.
// The fingerprint is the producing formula's Fingerprint and the CRC32
// (IEEE) covers everything after the magic up to the end of the payload.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/rawbytedev/formula"
	"go.uber.org/zap"
)

const (
	Version = 1

	HeaderSize  = 16
	TrailerSize = 4

	flagWide = 1 << 0

	// DefaultMaxPayload bounds the payload a Reader accepts unless
	// MaxPayload says otherwise.
	DefaultMaxPayload = 64 << 20
)

var magic = [2]byte{'F', 'M'}

var (
	ErrBadMagic    = errors.New("frame: bad magic")
	ErrVersion     = errors.New("frame: unsupported version")
	ErrWidth       = errors.New("frame: address width mismatch")
	ErrFingerprint = errors.New("frame: formula fingerprint mismatch")
	ErrChecksum    = errors.New("frame: checksum mismatch")
	ErrShort       = errors.New("frame: short frame")
	ErrTooLarge    = errors.New("frame: payload too large")
)

// Header is the decoded fixed prefix of a frame.
type Header struct {
	Version     uint8
	Width       formula.Width
	Fingerprint uint64
	Length      uint32
}

// Size is the full frame size described by h.
func (h Header) Size() int { return HeaderSize + int(h.Length) + TrailerSize }

func width(cfg formula.Config) formula.Width {
	if cfg.AddressWidth == 0 {
		return formula.Width32
	}
	return cfg.AddressWidth
}

// Append appends a frame holding payload, encoded with f under cfg, to dst.
func Append(dst []byte, cfg formula.Config, f *formula.Formula, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return dst, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	start := len(dst)
	var flags byte
	if width(cfg) == formula.Width64 {
		flags |= flagWide
	}
	dst = append(dst, magic[0], magic[1], Version, flags)
	dst = binary.LittleEndian.AppendUint64(dst, f.Fingerprint())
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start+2:])), nil
}

// Peek decodes the header at the start of data without checking the payload.
func Peek(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d byte header", ErrShort, len(data))
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return h, ErrBadMagic
	}
	h.Version = data[2]
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	h.Width = formula.Width32
	if data[3]&flagWide != 0 {
		h.Width = formula.Width64
	}
	h.Fingerprint = binary.LittleEndian.Uint64(data[4:])
	h.Length = binary.LittleEndian.Uint32(data[12:])
	return h, nil
}

// Open checks the frame at the start of data against cfg and f and returns
// its payload, which aliases data, and the bytes after the frame.
func Open(data []byte, cfg formula.Config, f *formula.Formula) (payload, rest []byte, err error) {
	h, err := Peek(data)
	if err != nil {
		return nil, data, err
	}
	if uint64(len(data)) < uint64(h.Size()) {
		return nil, data, fmt.Errorf("%w: need %d bytes, have %d", ErrShort, h.Size(), len(data))
	}
	if err := h.check(cfg, f); err != nil {
		return nil, data, err
	}
	end := HeaderSize + int(h.Length)
	if crc32.ChecksumIEEE(data[2:end]) != binary.LittleEndian.Uint32(data[end:]) {
		return nil, data, ErrChecksum
	}
	return data[HeaderSize:end:end], data[end+TrailerSize:], nil
}

func (h Header) check(cfg formula.Config, f *formula.Formula) error {
	if h.Width != width(cfg) {
		return fmt.Errorf("%w: frame uses %d-bit words, config %d", ErrWidth, h.Width, width(cfg))
	}
	if h.Fingerprint != f.Fingerprint() {
		return fmt.Errorf("%w: frame %016x, %s is %016x", ErrFingerprint, h.Fingerprint, f.Name(), f.Fingerprint())
	}
	return nil
}

// Writer encodes values and writes one frame per value. It is not safe for
// concurrent use.
type Writer struct {
	w   io.Writer
	cfg formula.Config
	f   *formula.Formula
	enc *formula.Encoder
	buf []byte
}

// NewWriter returns a Writer framing values encoded with f.
func NewWriter(w io.Writer, cfg formula.Config, f *formula.Formula) *Writer {
	return &Writer{w: w, cfg: cfg, f: f, enc: formula.NewEncoder(cfg, 256)}
}

// Write encodes v and writes its frame.
func (w *Writer) Write(v any) error {
	payload, err := w.enc.Encode(v, w.f)
	if err != nil {
		return err
	}
	w.buf, err = Append(w.buf[:0], w.cfg, w.f, payload)
	if err != nil {
		return err
	}
	_, err = w.w.Write(w.buf)
	return err
}

// Reader reads frames written for one formula.
type Reader struct {
	// MaxPayload is the largest payload length Next allocates for. Zero
	// means DefaultMaxPayload.
	MaxPayload int

	r   *bufio.Reader
	cfg formula.Config
	f   *formula.Formula
	buf []byte
	n   int
}

// NewReader returns a Reader over frames produced for f.
func NewReader(r io.Reader, cfg formula.Config, f *formula.Formula) *Reader {
	return &Reader{r: bufio.NewReader(r), cfg: cfg, f: f}
}

// Next returns the payload of the next frame. The payload is valid until the
// next call. Next returns io.EOF after the last complete frame.
func (r *Reader) Next() ([]byte, error) {
	var head [HeaderSize]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrShort)
		}
		return nil, err
	}
	h, err := Peek(head[:])
	if err != nil {
		return nil, err
	}
	if err := h.check(r.cfg, r.f); err != nil {
		return nil, err
	}
	limit := r.MaxPayload
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	if uint64(h.Length) > uint64(limit) {
		return nil, fmt.Errorf("%w: frame %d declares %d bytes, limit %d", ErrTooLarge, r.n, h.Length, limit)
	}
	if cap(r.buf) < h.Size() {
		r.buf = make([]byte, h.Size())
	}
	r.buf = r.buf[:h.Size()]
	copy(r.buf, head[:])
	if _, err := io.ReadFull(r.r, r.buf[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", ErrShort, r.n, err)
	}
	payload, _, err := Open(r.buf, r.cfg, r.f)
	if err != nil {
		formula.Logger().Debug("rejected frame", zap.Int("frame", r.n), zap.Error(err))
		return nil, err
	}
	r.n++
	return payload, nil
}

// Frames reports how many frames Next has returned.
func (r *Reader) Frames() int { return r.n }
