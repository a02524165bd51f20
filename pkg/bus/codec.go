package bus

import (
	"fmt"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// encode wraps message in an Any so the receiver can rebuild the concrete type.
func encode(message proto.Message) ([]byte, error) {
	if message == nil {
		return nil, errors.NewInvalidInput("message", "must not be nil")
	}
	wrapped, err := anypb.New(message)
	if err != nil {
		return nil, errors.NewPermanent(fmt.Sprintf("failed to wrap message: %v", err), err)
	}
	data, err := proto.Marshal(wrapped)
	if err != nil {
		return nil, errors.NewPermanent(fmt.Sprintf("failed to marshal message: %v", err), err)
	}
	return data, nil
}

// decode reverses encode. The payload type must be linked into the binary.
func decode(data []byte) (proto.Message, error) {
	var wrapped anypb.Any
	if err := proto.Unmarshal(data, &wrapped); err != nil {
		return nil, errors.NewPermanent("failed to unmarshal envelope", err)
	}
	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, errors.NewPermanent(fmt.Sprintf("failed to decode %s", wrapped.GetTypeUrl()), err)
	}
	return msg, nil
}
