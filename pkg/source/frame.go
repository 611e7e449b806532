package source

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dbehnke/btbb-nexus/pkg/channel"
)

// Frame layout: magic, channel, native clock, symbol count, packed symbols
const (
	Magic        = "BTSF"
	HeaderLength = 11
	// MaxSymbols is the largest symbol count a frame can carry
	MaxSymbols = 0xffff
)

var (
	// ErrShortFrame is returned when a frame is shorter than its header says
	ErrShortFrame = errors.New("source: short frame")
	// ErrBadMagic is returned when a frame does not start with Magic
	ErrBadMagic = errors.New("source: bad frame magic")
)

// Frame is a window of demodulated symbols received on one channel
type Frame struct {
	Channel int
	CLKN    uint32
	// Symbols holds one bit per byte
	Symbols []byte
}

// Window converts the frame for the channel processor
func (f Frame) Window() channel.Window {
	return channel.Window{Channel: f.Channel, CLKN: f.CLKN, Symbols: f.Symbols}
}

func packedLength(count int) int {
	return (count + 7) / 8
}

// MarshalBinary encodes the frame, packing symbols eight per byte, first
// symbol in the least significant bit
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Symbols) > MaxSymbols {
		return nil, fmt.Errorf("source: %d symbols exceed frame limit", len(f.Symbols))
	}
	if f.Channel < 0 || f.Channel > 0xff {
		return nil, fmt.Errorf("source: channel %d out of range", f.Channel)
	}
	out := make([]byte, HeaderLength+packedLength(len(f.Symbols)))
	copy(out, Magic)
	out[4] = byte(f.Channel)
	binary.BigEndian.PutUint32(out[5:], f.CLKN)
	binary.BigEndian.PutUint16(out[9:], uint16(len(f.Symbols)))
	for i, s := range f.Symbols {
		out[HeaderLength+i/8] |= (s & 0x01) << (i % 8)
	}
	return out, nil
}

// ParseFrame decodes one frame from the start of data and returns it with the
// number of bytes consumed
func ParseFrame(data []byte) (Frame, int, error) {
	if len(data) < HeaderLength {
		return Frame{}, 0, fmt.Errorf("%w: %d byte header", ErrShortFrame, len(data))
	}
	if string(data[:4]) != Magic {
		return Frame{}, 0, fmt.Errorf("%w: % x", ErrBadMagic, data[:4])
	}
	count := int(binary.BigEndian.Uint16(data[9:]))
	size := HeaderLength + packedLength(count)
	if len(data) < size {
		return Frame{}, 0, fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, len(data), size)
	}

	f := Frame{
		Channel: int(data[4]),
		CLKN:    binary.BigEndian.Uint32(data[5:]),
		Symbols: make([]byte, count),
	}
	for i := range f.Symbols {
		f.Symbols[i] = (data[HeaderLength+i/8] >> (i % 8)) & 0x01
	}
	return f, size, nil
}

// Reader reads frames from a byte stream, skipping bytes that do not start a
// frame
type Reader struct {
	br      *bufio.Reader
	skipped uint64
}

// NewReader creates a frame reader
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, HeaderLength+packedLength(MaxSymbols))}
}

// Skipped returns the number of bytes discarded while looking for a frame
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// Next returns the next frame. It returns io.EOF at a clean end of stream.
func (r *Reader) Next() (Frame, error) {
	for {
		head, err := r.br.Peek(len(Magic))
		if err != nil {
			if errors.Is(err, io.EOF) && len(head) == 0 {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		if !bytes.Equal(head, []byte(Magic)) {
			_, _ = r.br.Discard(1)
			r.skipped++
			continue
		}

		hdr, err := r.br.Peek(HeaderLength)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		size := HeaderLength + packedLength(int(binary.BigEndian.Uint16(hdr[9:])))
		buf, err := r.br.Peek(size)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		f, n, err := ParseFrame(buf)
		if err != nil {
			return Frame{}, err
		}
		_, _ = r.br.Discard(n)
		return f, nil
	}
}

// Writer writes frames to a byte stream
type Writer struct {
	w io.Writer
}

// NewWriter creates a frame writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes one frame
func (w *Writer) Write(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.w.Write(data)
	return err
}
