// Package frame maps domain messages to protobuf wire frames shared by the
// grpc and nats transports.
//
// Leader-to-worker frames are google.protobuf.Any wrapping either a
// DoubleValue (work, carrying the midpoint) or an Empty (shutdown). Replies are
// a bare DoubleValue carrying the contribution.
package frame

import (
	"fmt"

	"distributed-quadrature/internal/domain"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Encode wraps msg in an Any frame.
func Encode(msg domain.Message) (*anypb.Any, error) {
	switch m := msg.(type) {
	case domain.Work:
		return anypb.New(wrapperspb.Double(m.Midpoint))
	case domain.Shutdown:
		return anypb.New(&emptypb.Empty{})
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", domain.ErrMalformedMessage, msg)
	}
}

// Decode unwraps an Any frame into a domain message.
func Decode(f *anypb.Any) (domain.Message, error) {
	switch {
	case f == nil:
		return nil, fmt.Errorf("%w: empty frame", domain.ErrMalformedMessage)
	case f.MessageIs((*wrapperspb.DoubleValue)(nil)):
		var v wrapperspb.DoubleValue
		if err := f.UnmarshalTo(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
		}
		return domain.Work{Midpoint: v.GetValue()}, nil
	case f.MessageIs((*emptypb.Empty)(nil)):
		return domain.Shutdown{}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected frame type %q", domain.ErrMalformedMessage, f.GetTypeUrl())
	}
}

// Marshal encodes msg to bytes for byte-oriented transports.
func Marshal(msg domain.Message) ([]byte, error) {
	f, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(f)
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (domain.Message, error) {
	var f anypb.Any
	if err := proto.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return Decode(&f)
}

// MarshalReply encodes a contribution.
func MarshalReply(contribution float64) ([]byte, error) {
	return proto.Marshal(wrapperspb.Double(contribution))
}

// UnmarshalReply decodes a contribution produced by MarshalReply.
func UnmarshalReply(data []byte) (float64, error) {
	var v wrapperspb.DoubleValue
	if err := proto.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return v.GetValue(), nil
}
