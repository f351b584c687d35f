package wire

import (
	"errors"
	"fmt"

	"github.com/relab/safetyrules"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// ErrorDomain is the domain of the ErrorInfo details attached to error responses.
const ErrorDomain = "safetyrules"

// Method identifies the operation of a request. It is the field number of the request payload.
type Method protowire.Number

// The methods of the safety rules service.
const (
	MethodConsensusState         Method = 1
	MethodInitialize             Method = 2
	MethodConstructAndSignVote   Method = 3
	MethodSignProposal           Method = 4
	MethodSignTimeout            Method = 5
	MethodHandleEpochChangeProof Method = 6
)

func (m Method) String() string {
	switch m {
	case MethodConsensusState:
		return "ConsensusState"
	case MethodInitialize:
		return "Initialize"
	case MethodConstructAndSignVote:
		return "ConstructAndSignVote"
	case MethodSignProposal:
		return "SignProposal"
	case MethodSignTimeout:
		return "SignTimeout"
	case MethodHandleEpochChangeProof:
		return "HandleEpochChangeProof"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

func (m Method) valid() bool {
	return m >= MethodConsensusState && m <= MethodHandleEpochChangeProof
}

// EncodeRequest encodes a request for the given method.
func EncodeRequest(m Method, payload []byte) []byte {
	return appendMessage(nil, protowire.Number(m), payload)
}

// DecodeRequest decodes a request. A request holds exactly one known method.
func DecodeRequest(b []byte) (m Method, payload []byte, err error) {
	err = walk(b, func(f field) error {
		if !Method(f.num).valid() {
			return nil
		}
		if m != 0 {
			return fmt.Errorf("%w: request holds more than one method", ErrMalformed)
		}
		raw, err := f.raw()
		if err != nil {
			return err
		}
		m, payload = Method(f.num), raw
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if m == 0 {
		return 0, nil, fmt.Errorf("%w: request holds no known method", ErrMalformed)
	}
	return m, payload, nil
}

// EncodeResult encodes the response to a request. If err is not nil, the
// response carries the error instead of the payload.
func EncodeResult(payload []byte, err error) []byte {
	if err != nil {
		return appendMessage(nil, 2, marshalStatus(err))
	}
	return appendMessage(nil, 1, payload)
}

// DecodeResult decodes a response. An error response is returned as an error
// that matches the sentinel errors of the safetyrules package.
func DecodeResult(b []byte) ([]byte, error) {
	var (
		payload []byte
		st      *spb.Status
		found   bool
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			raw, err := f.raw()
			payload, found = raw, true
			return err
		case 2:
			raw, err := f.raw()
			if err != nil {
				return err
			}
			st = &spb.Status{}
			if err := proto.Unmarshal(raw, st); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	if st != nil {
		return nil, unmarshalStatus(st)
	}
	return payload, nil
}

func codeOf(kind safetyrules.Kind) codes.Code {
	switch kind {
	case safetyrules.KindConfiguration:
		return codes.InvalidArgument
	case safetyrules.KindStorage:
		return codes.Internal
	case safetyrules.KindSafetyViolation:
		return codes.FailedPrecondition
	case safetyrules.KindTransport:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

func kindOf(code codes.Code) safetyrules.Kind {
	switch code {
	case codes.InvalidArgument:
		return safetyrules.KindConfiguration
	case codes.Internal:
		return safetyrules.KindStorage
	case codes.FailedPrecondition:
		return safetyrules.KindSafetyViolation
	case codes.Unavailable:
		return safetyrules.KindTransport
	default:
		return safetyrules.KindUnknown
	}
}

func marshalStatus(err error) []byte {
	kind, reason := safetyrules.Classify(err)
	st := status.New(codeOf(kind), err.Error())
	if reason != "" {
		if withDetails, detailErr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain}); detailErr == nil {
			st = withDetails
		}
	}
	b, merr := proto.Marshal(st.Proto())
	if merr != nil {
		// A status without details always marshals.
		b, _ = proto.Marshal(status.New(codes.Unknown, err.Error()).Proto())
	}
	return b
}

func unmarshalStatus(s *spb.Status) error {
	st := status.FromProto(s)
	var reason string
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			reason = info.GetReason()
		}
	}
	return safetyrules.RestoreError(kindOf(st.Code()), reason, st.Message())
}

// IsMalformed returns true if err was caused by a message that could not be decoded.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
