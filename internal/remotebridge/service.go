package remotebridge

import (
	"context"

	"google.golang.org/grpc"
)

// Handler implements the remote-control surface a connected bridge
// session drives: authenticate once, then receive a stream of
// turnbridge-side events, mirroring the teacher's
// proto.BridgeServiceServer/proto.ChatServiceServer pair collapsed into
// one small interface since remotebridge only needs the handshake and
// event-stream legs, not the full chat/STT service surface.
type Handler interface {
	Handshake(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error)
	StreamEvents(req *Empty, stream EventStream) error
}

// EventStream is the server side of the StreamEvents RPC.
type EventStream interface {
	Send(*BridgeEvent) error
	Context() context.Context
}

type eventStreamServer struct {
	grpc.ServerStream
}

func (s *eventStreamServer) Send(ev *BridgeEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func handshakeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HandshakeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	if interceptor == nil {
		return h.Handshake(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/remotebridge.BridgeService/Handshake"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return h.Handshake(ctx, req.(*HandshakeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Handler).StreamEvents(in, &eventStreamServer{ServerStream: stream})
}

// ServiceDesc is the hand-rolled equivalent of a protoc-generated
// _grpc.pb.go's _BridgeService_serviceDesc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "remotebridge.BridgeService",
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handshake", Handler: handshakeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "remotebridge.proto",
}

// RegisterBridgeServiceServer registers h on s, mirroring the teacher's
// generated proto.RegisterBridgeServiceServer.
func RegisterBridgeServiceServer(s *grpc.Server, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
