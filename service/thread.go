package service

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/rules"
	"github.com/relab/safetyrules/serializer"
)

type threadRequest struct {
	msg   []byte
	reply chan threadReply
}

type threadReply struct {
	msg []byte
	err error
}

// ThreadService runs a serializer service on a goroutine that is locked to its own OS thread.
// Requests are handled one at a time, in the order they are received.
type ThreadService struct {
	requests  chan threadRequest
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ serializer.Transport = (*ThreadService)(nil)

// NewThreadService starts a thread for the engine.
func NewThreadService(engine *rules.SafetyRules) *ThreadService {
	s := &ThreadService{
		requests: make(chan threadRequest),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run(serializer.NewSerializerService(engine))
	return s
}

func (s *ThreadService) run(service *serializer.SerializerService) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.stopped)

	for {
		select {
		case req := <-s.requests:
			msg, err := service.HandleMessage(req.msg)
			req.reply <- threadReply{msg, err}
		case <-s.done:
			return
		}
	}
}

// Request implements serializer.Transport.
func (s *ThreadService) Request(msg []byte) ([]byte, error) {
	req := threadRequest{msg: msg, reply: make(chan threadReply, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return nil, fmt.Errorf("%w: safety rules thread is stopped", safetyrules.ErrTransport)
	}
	reply := <-req.reply
	return reply.msg, reply.err
}

// Close stops the thread after the request it is handling, if any.
func (s *ThreadService) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}
