package stream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
)

// Subscription receives batches from a remote SampleStream.
type Subscription struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Subscribe opens a stream on conn. An empty channels list asks for every
// channel.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, channels ...channel.ID) (*Subscription, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if len(channels) > 0 {
		ids := make([]*structpb.Value, len(channels))
		for i, id := range channels {
			ids[i] = structpb.NewNumberValue(float64(id))
		}
		req.Fields["channels"] = structpb.NewListValue(&structpb.ListValue{Values: ids})
	}

	st, err := conn.NewStream(ctx, &serviceDesc.Streams[0], SubscribeFullMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: st}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send: %w", err)
	}
	return &Subscription{stream: x}, nil
}

// Recv blocks for the next batch. It returns io.EOF when the server ends
// the stream.
func (s *Subscription) Recv() (dispatch.Batch, error) {
	m, err := s.stream.Recv()
	if err != nil {
		return dispatch.Batch{}, err
	}
	return decodeBatch(m)
}
