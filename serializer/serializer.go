// Package serializer exposes a safety rules engine through byte-oriented requests,
// so that the engine can run on the other side of a thread or process boundary.
package serializer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/internal/wire"
	"github.com/relab/safetyrules/rules"
)

// SerializerService decodes requests, hands them to the engine and encodes the results.
// It is not safe for concurrent use.
type SerializerService struct {
	engine *rules.SafetyRules
}

// NewSerializerService returns a service for the engine.
func NewSerializerService(engine *rules.SafetyRules) *SerializerService {
	return &SerializerService{engine: engine}
}

// HandleMessage handles an encoded request and returns the encoded response.
// Errors of the engine are part of the response; the returned error is only
// set if the request could not be decoded.
func (s *SerializerService) HandleMessage(request []byte) ([]byte, error) {
	payload, err := s.handle(request)
	if wire.IsMalformed(err) {
		err = fmt.Errorf("%w: %v", safetyrules.ErrInvalidRequest, err)
		return wire.EncodeResult(nil, err), err
	}
	return wire.EncodeResult(payload, err), nil
}

func (s *SerializerService) handle(request []byte) ([]byte, error) {
	method, payload, err := wire.DecodeRequest(request)
	if err != nil {
		return nil, err
	}
	switch method {
	case wire.MethodConsensusState:
		cs, err := s.engine.ConsensusState()
		if err != nil {
			return nil, err
		}
		return wire.MarshalConsensusState(cs), nil
	case wire.MethodInitialize:
		req, err := wire.UnmarshalInitializeRequest(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.engine.Initialize(req)
	case wire.MethodConstructAndSignVote:
		proposal, err := wire.UnmarshalVoteProposal(payload)
		if err != nil {
			return nil, err
		}
		vote, err := s.engine.ConstructAndSignVote(proposal)
		if err != nil {
			return nil, err
		}
		return wire.MarshalVote(vote), nil
	case wire.MethodSignProposal:
		data, err := wire.UnmarshalBlockData(payload)
		if err != nil {
			return nil, err
		}
		block, err := s.engine.SignProposal(data)
		if err != nil {
			return nil, err
		}
		return wire.MarshalBlock(block), nil
	case wire.MethodSignTimeout:
		timeout, err := wire.UnmarshalTimeout(payload)
		if err != nil {
			return nil, err
		}
		sig, err := s.engine.SignTimeout(timeout)
		if err != nil {
			return nil, err
		}
		return wire.MarshalSignature(sig), nil
	case wire.MethodHandleEpochChangeProof:
		proof, err := wire.UnmarshalEpochChangeProof(payload)
		if err != nil {
			return nil, err
		}
		return nil, s.engine.HandleEpochChangeProof(proof)
	default:
		return nil, fmt.Errorf("%w: unknown method %v", wire.ErrMalformed, method)
	}
}

// LocalService serializes access to a SerializerService in the same process.
type LocalService struct {
	mut     sync.RWMutex
	service *SerializerService
}

// NewLocalService returns a LocalService for the engine.
func NewLocalService(engine *rules.SafetyRules) *LocalService {
	return &LocalService{service: NewSerializerService(engine)}
}

// Request implements Transport.
func (s *LocalService) Request(request []byte) ([]byte, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.service.HandleMessage(request)
}

// Transport carries encoded requests to a SerializerService and returns its responses.
// Errors returned by a Transport mean that the outcome of the request is unknown.
type Transport interface {
	Request(request []byte) ([]byte, error)
}

// SerializerClient implements safetyrules.SafetyRules by sending encoded requests through a Transport.
type SerializerClient struct {
	mut       sync.Mutex
	transport Transport
}

var _ safetyrules.SafetyRules = (*SerializerClient)(nil)

// NewSerializerClient returns a client that uses transport.
func NewSerializerClient(transport Transport) *SerializerClient {
	return &SerializerClient{transport: transport}
}

func (c *SerializerClient) rpc(method wire.Method, payload []byte) ([]byte, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	res, err := c.transport.Request(wire.EncodeRequest(method, payload))
	if err != nil && res == nil {
		if errors.Is(err, safetyrules.ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", safetyrules.ErrTransport, method, err)
	}
	res, err = wire.DecodeResult(res)
	if wire.IsMalformed(err) {
		return nil, fmt.Errorf("%w: %s: %v", safetyrules.ErrTransport, method, err)
	}
	return res, err
}

// ConsensusState implements safetyrules.SafetyRules.
func (c *SerializerClient) ConsensusState() (*safetyrules.ConsensusState, error) {
	res, err := c.rpc(wire.MethodConsensusState, nil)
	if err != nil {
		return nil, err
	}
	cs, err := wire.UnmarshalConsensusState(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrTransport, err)
	}
	return cs, nil
}

// Initialize implements safetyrules.SafetyRules.
func (c *SerializerClient) Initialize(req *safetyrules.InitializeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: missing initialize request", safetyrules.ErrInvalidRequest)
	}
	payload, err := wire.MarshalInitializeRequest(req)
	if err != nil {
		return fmt.Errorf("%w: %v", safetyrules.ErrInvalidRequest, err)
	}
	_, err = c.rpc(wire.MethodInitialize, payload)
	return err
}

// ConstructAndSignVote implements safetyrules.SafetyRules.
func (c *SerializerClient) ConstructAndSignVote(proposal *safetyrules.VoteProposal) (*safetyrules.Vote, error) {
	if proposal == nil {
		return nil, fmt.Errorf("%w: missing vote proposal", safetyrules.ErrInvalidRequest)
	}
	res, err := c.rpc(wire.MethodConstructAndSignVote, wire.MarshalVoteProposal(proposal))
	if err != nil {
		return nil, err
	}
	vote, err := wire.UnmarshalVote(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrTransport, err)
	}
	return vote, nil
}

// SignProposal implements safetyrules.SafetyRules.
func (c *SerializerClient) SignProposal(data *safetyrules.BlockData) (*safetyrules.Block, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: missing block data", safetyrules.ErrInvalidRequest)
	}
	res, err := c.rpc(wire.MethodSignProposal, wire.MarshalBlockData(data))
	if err != nil {
		return nil, err
	}
	block, err := wire.UnmarshalBlock(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrTransport, err)
	}
	return block, nil
}

// SignTimeout implements safetyrules.SafetyRules.
func (c *SerializerClient) SignTimeout(timeout *safetyrules.Timeout) ([]byte, error) {
	if timeout == nil {
		return nil, fmt.Errorf("%w: missing timeout", safetyrules.ErrInvalidRequest)
	}
	res, err := c.rpc(wire.MethodSignTimeout, wire.MarshalTimeout(timeout))
	if err != nil {
		return nil, err
	}
	sig, err := wire.UnmarshalSignature(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrTransport, err)
	}
	return sig, nil
}

// HandleEpochChangeProof implements safetyrules.SafetyRules.
func (c *SerializerClient) HandleEpochChangeProof(proof *safetyrules.EpochChangeProof) error {
	if proof == nil {
		return fmt.Errorf("%w: missing epoch change proof", safetyrules.ErrInvalidEpochChangeProof)
	}
	_, err := c.rpc(wire.MethodHandleEpochChangeProof, wire.MarshalEpochChangeProof(proof))
	return err
}
