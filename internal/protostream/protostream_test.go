package protostream_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/relab/safetyrules/internal/protostream"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer // in-memory stream
	msg := &spb.Status{Code: 9, Message: "test message"}

	b, err := proto.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := protostream.NewWriter(&buf).WriteFrame(b); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	frame, err := protostream.NewReader(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	var got spb.Status
	if err := proto.Unmarshal(frame, &got); err != nil {
		t.Fatal(err)
	}
	if !proto.Equal(&got, msg) {
		t.Fatalf("got %v, want %v", &got, msg)
	}
}

// countingWriter counts the calls to Write.
type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestFrames(t *testing.T) {
	var buf countingWriter
	writer := protostream.NewWriter(&buf)
	reader := protostream.NewReader(&buf)

	frames := [][]byte{[]byte("first"), {}, []byte("third")}
	for _, f := range frames {
		if err := writer.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if buf.writes != len(frames) {
		t.Errorf("got %d writes for %d frames", buf.writes, len(frames))
	}
	for _, want := range frames {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 10)

	tests := []struct {
		name  string
		input []byte
	}{
		{"header", hdr[:2]},
		{"body", append(hdr[:], "short"...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protostream.NewReader(bytes.NewReader(tt.input)).ReadFrame()
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
			}
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := protostream.NewWriter(&buf).WriteFrame(make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	_, err := protostream.NewReaderSize(&buf, 63).ReadFrame()
	if !errors.Is(err, protostream.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], protostream.DefaultMaxFrameSize+1)
	_, err = protostream.NewReader(bytes.NewReader(hdr[:])).ReadFrame()
	if !errors.Is(err, protostream.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
