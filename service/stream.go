package service

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/internal/protostream"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/serializer"
)

// Handler handles encoded requests. serializer.SerializerService is a Handler.
type Handler interface {
	HandleMessage(request []byte) ([]byte, error)
}

// Serve reads requests from r, hands them to handler and writes the responses to w.
// It returns nil when r reaches the end of the stream.
func Serve(handler Handler, r io.Reader, w io.Writer, logger logging.Logger) error {
	if logger == nil {
		logger = logging.New("service")
	}
	recv := protostream.NewReader(r)
	send := protostream.NewWriter(w)
	for {
		req, err := recv.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read request: %w", err)
		}
		res, err := handler.HandleMessage(req)
		if err != nil {
			// the response reports the error to the client
			logger.Debugf("Serve: %v", err)
		}
		if err := send.WriteFrame(res); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}

// StreamTransport sends requests to a peer that runs Serve on the other end of a stream.
//
// Responses carry no request id, so after a failed send or receive the stream may
// hold a response for a request that the caller has given up on. The transport is
// then broken, and every later request fails with safetyrules.ErrTransport.
type StreamTransport struct {
	mut    sync.Mutex
	send   *protostream.Writer
	recv   *protostream.Reader
	broken error
}

var _ serializer.Transport = (*StreamTransport)(nil)

// NewStreamTransport returns a transport that writes requests to w and reads responses from r.
func NewStreamTransport(w io.Writer, r io.Reader) *StreamTransport {
	return &StreamTransport{
		send: protostream.NewWriter(w),
		recv: protostream.NewReader(r),
	}
}

// Request implements serializer.Transport.
func (t *StreamTransport) Request(req []byte) ([]byte, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.broken != nil {
		return nil, fmt.Errorf("%w: stream is broken: %v", safetyrules.ErrTransport, t.broken)
	}
	if err := t.send.WriteFrame(req); err != nil {
		t.broken = err
		return nil, fmt.Errorf("%w: failed to send request: %v", safetyrules.ErrTransport, err)
	}
	res, err := t.recv.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		t.broken = err
		return nil, fmt.Errorf("%w: failed to read response: %v", safetyrules.ErrTransport, err)
	}
	return res, nil
}
