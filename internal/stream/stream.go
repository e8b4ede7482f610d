// Package stream serves dispatched batches over a server-streaming gRPC
// method. Messages are google.protobuf.Struct values so clients need no
// generated code:
//
//	request:  {"channels": [0, 2]}            (optional filter)
//	response: {"index": 12, "values": {"0": 1.5, "2": null}, "evicted": 0}
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

const (
	ServiceName         = "serialscope.v1.SampleStream"
	SubscribeFullMethod = "/" + ServiceName + "/Subscribe"
)

// BatchSource is the part of the dispatcher the stream needs.
type BatchSource interface {
	Subscribe() (string, <-chan dispatch.Batch)
	Unsubscribe(id string)
}

// SampleStreamServer is the handler type registered with gRPC.
type SampleStreamServer interface {
	Subscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SampleStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "serialscope/v1/stream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SampleStreamServer).Subscribe(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Ensure Server implements the gRPC interface.
var _ SampleStreamServer = (*Server)(nil)

// Server streams batches to gRPC clients.
type Server struct {
	src     BatchSource
	clients atomic.Int32
}

func NewServer(src BatchSource) *Server {
	return &Server{src: src}
}

// Register adds the service to a gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Clients returns the number of connected streams.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Subscribe sends every batch published after the call until the client
// goes away or the source closes.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	filter, err := parseFilter(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	id, batches := s.src.Subscribe()
	defer s.src.Unsubscribe(id)
	s.clients.Add(1)
	defer s.clients.Add(-1)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			if err := stream.Send(encodeBatch(b, filter)); err != nil {
				return err
			}
		}
	}
}

// parseFilter reads the optional "channels" list. A nil map means every
// channel.
func parseFilter(req *structpb.Struct) (map[channel.ID]bool, error) {
	v, ok := req.GetFields()["channels"]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("channels must be a list")
	}
	filter := make(map[channel.ID]bool, len(list.Values))
	for _, item := range list.Values {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, fmt.Errorf("invalid channel id %v", item.AsInterface())
		}
		filter[channel.ID(n.NumberValue)] = true
	}
	return filter, nil
}

func numberOrNull(v float64) *structpb.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(v)
}

func encodeBatch(b dispatch.Batch, filter map[channel.ID]bool) *structpb.Struct {
	values := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(b.Values))}
	for id, v := range b.Values {
		if filter != nil && !filter[id] {
			continue
		}
		values.Fields[strconv.Itoa(int(id))] = numberOrNull(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"index":   structpb.NewNumberValue(float64(b.Index)),
		"values":  structpb.NewStructValue(values),
		"evicted": structpb.NewNumberValue(float64(b.Evicted)),
	}}
}

// decodeBatch is the inverse of encodeBatch; null values come back as NaN.
func decodeBatch(m *structpb.Struct) (dispatch.Batch, error) {
	f := m.GetFields()
	b := dispatch.Batch{
		Index:   uint64(f["index"].GetNumberValue()),
		Evicted: int(f["evicted"].GetNumberValue()),
		Values:  map[channel.ID]float64{},
	}
	for k, v := range f["values"].GetStructValue().GetFields() {
		id, err := strconv.Atoi(k)
		if err != nil {
			return dispatch.Batch{}, fmt.Errorf("invalid channel key %q: %w", k, err)
		}
		if _, null := v.GetKind().(*structpb.Value_NullValue); null {
			b.Values[channel.ID(id)] = math.NaN()
			continue
		}
		b.Values[channel.ID(id)] = v.GetNumberValue()
	}
	return b, nil
}

// Serve listens on addr and serves the stream until ctx is done.
func Serve(ctx context.Context, addr string, s *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return ServeListener(ctx, lis, s)
}

// ServeListener serves on an existing listener until ctx is done.
func ServeListener(ctx context.Context, lis net.Listener, s *Server) error {
	gs := grpc.NewServer()
	s.Register(gs)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("grpc stream listening on %s", lis.Addr())
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
