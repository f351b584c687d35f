// Package protostream reads and writes length-prefixed frames of protobuf-encoded messages.
//
// A frame is a 4-byte little-endian length followed by that many bytes of message.
package protostream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the largest frame that a Reader accepts unless told otherwise.
const DefaultMaxFrameSize = 16 << 20 // 16 MiB

const headerSize = 4

// ErrFrameTooLarge is returned when a frame header announces more bytes than the Reader accepts.
var ErrFrameTooLarge = errors.New("protostream: frame too large")

// Writer writes frames to an io.Writer.
type Writer struct {
	dest io.Writer
	buf  []byte
}

// NewWriter returns a new Writer.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// WriteFrame writes msg as a single frame. The header and the message are
// passed to the underlying writer in one call.
func (w *Writer) WriteFrame(msg []byte) error {
	if uint64(len(msg)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf[:0], uint32(len(msg)))
	w.buf = append(w.buf, msg...)
	if _, err := w.dest.Write(w.buf); err != nil {
		return fmt.Errorf("protostream: failed to write frame: %w", err)
	}
	return nil
}

// Reader reads frames from an io.Reader.
type Reader struct {
	src     io.Reader
	maxSize uint32
}

// NewReader returns a Reader that accepts frames of up to DefaultMaxFrameSize bytes.
func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, DefaultMaxFrameSize)
}

// NewReaderSize returns a Reader that accepts frames of up to maxSize bytes.
func NewReaderSize(src io.Reader, maxSize uint32) *Reader {
	return &Reader{src: src, maxSize: maxSize}
}

// ReadFrame reads the next frame from the stream.
// It returns io.EOF only if the stream ended cleanly before a new frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protostream: failed to read frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size > r.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrFrameTooLarge, size, r.maxSize)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r.src, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("protostream: failed to read frame: %w", err)
	}
	return msg, nil
}
