package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
)

// MaxPayloadSize caps the pixel payload of a single frame (8K RGBA).
const MaxPayloadSize = 7680 * 4320 * 4

var (
	ErrUnsupportedFrameType = errors.New("unsupported frame type")
	ErrFrameTooLarge        = errors.New("frame too large")
	ErrInvalidFrame         = errors.New("invalid frame")
)

// Header is the decoded fixed-size prefix of a frame on the wire.
type Header struct {
	Type   FrameType
	Flags  FrameFlags
	PTS    int64
	Width  uint16
	Height uint16
	Length uint32
}

// ParseHeader decodes a HeaderSize-byte header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidFrame, len(buf), HeaderSize)
	}
	return Header{
		Type:   FrameType(buf[0]),
		Flags:  FrameFlags(buf[1]),
		PTS:    int64(binary.LittleEndian.Uint64(buf[2:10])),
		Width:  binary.LittleEndian.Uint16(buf[10:12]),
		Height: binary.LittleEndian.Uint16(buf[12:14]),
		Length: binary.LittleEndian.Uint32(buf[14:18]),
	}, nil
}

// Put encodes h into buf, which must be at least HeaderSize bytes.
func (h Header) Put(buf []byte) {
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Flags)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(h.PTS))
	binary.LittleEndian.PutUint16(buf[10:12], h.Width)
	binary.LittleEndian.PutUint16(buf[12:14], h.Height)
	binary.LittleEndian.PutUint32(buf[14:18], h.Length)
}

// Validate checks the header describes a frame this service can decode.
func (h Header) Validate() error {
	if h.Type != FrameTypeRGBA {
		return fmt.Errorf("%w: %s (0x%02x)", ErrUnsupportedFrameType, h.Type, byte(h.Type))
	}
	if h.Length > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Length)
	}
	if h.Width == 0 || h.Height == 0 {
		return fmt.Errorf("%w: empty dimensions %dx%d", ErrInvalidFrame, h.Width, h.Height)
	}
	if want := uint64(h.Width) * uint64(h.Height) * 4; uint64(h.Length) != want {
		return fmt.Errorf("%w: payload %d bytes, want %d for %dx%d RGBA",
			ErrInvalidFrame, h.Length, want, h.Width, h.Height)
	}
	return nil
}

// ReadFrame reads one frame from r. header is a scratch buffer of at least
// HeaderSize bytes so callers can reuse it across reads.
func ReadFrame(r io.Reader, header []byte) (*Frame, error) {
	if _, err := io.ReadFull(r, header[:HeaderSize]); err != nil {
		return nil, err
	}

	h, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	img := &image.RGBA{
		Pix:    payload,
		Stride: int(h.Width) * 4,
		Rect:   image.Rect(0, 0, int(h.Width), int(h.Height)),
	}
	frame := NewFrame(h.PTS, img)
	frame.Opaque = h.Flags&FlagOpaque != 0
	return frame, nil
}

// WriteFrame writes f to w using the IPC wire format.
func WriteFrame(w io.Writer, f *Frame) error {
	if f.Image == nil {
		return fmt.Errorf("%w: no image", ErrInvalidFrame)
	}
	b := f.Image.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 || width > 0xFFFF || height > 0xFFFF {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, width, height)
	}

	size := width * height * 4
	if size > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	var flags FrameFlags
	if f.Opaque {
		flags |= FlagOpaque
	}
	h := Header{
		Type:   FrameTypeRGBA,
		Flags:  flags,
		PTS:    f.Timestamp,
		Width:  uint16(width),
		Height: uint16(height),
		Length: uint32(size),
	}

	header := make([]byte, HeaderSize)
	h.Put(header)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rowBytes := width * 4
	if f.Image.Stride == rowBytes {
		start := f.Image.PixOffset(b.Min.X, b.Min.Y)
		if _, err := w.Write(f.Image.Pix[start : start+rowBytes*height]); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		return nil
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := f.Image.PixOffset(b.Min.X, y)
		if _, err := w.Write(f.Image.Pix[start : start+rowBytes]); err != nil {
			return fmt.Errorf("write payload row %d: %w", y, err)
		}
	}
	return nil
}
