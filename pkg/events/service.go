package events

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified name of the analyzer service.
const ServiceName = "pb.Analyzer"

// Full method names of the analyzer service.
const (
	NotifyReviewEventMethod = "/" + ServiceName + "/NotifyReviewEvent"
	NotifyPushEventMethod   = "/" + ServiceName + "/NotifyPushEvent"
)

// AnalyzerServer is the server side of the analyzer service.
type AnalyzerServer interface {
	NotifyReviewEvent(ctx context.Context, evt *ReviewEvent) (*EventResponse, error)
	NotifyPushEvent(ctx context.Context, evt *PushEvent) (*EventResponse, error)
}

// ServiceDesc describes the analyzer service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "NotifyReviewEvent", Handler: notifyReviewEventHandler},
		{MethodName: "NotifyPushEvent", Handler: notifyPushEventHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "service_analyzer.proto",
}

// RegisterAnalyzerServer registers srv on s.
func RegisterAnalyzerServer(s grpc.ServiceRegistrar, srv AnalyzerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func notifyReviewEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReviewEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalyzerServer).NotifyReviewEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: NotifyReviewEventMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AnalyzerServer).NotifyReviewEvent(ctx, req.(*ReviewEvent))
	}
	return interceptor(ctx, in, info, handler)
}

func notifyPushEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PushEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalyzerServer).NotifyPushEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: NotifyPushEventMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AnalyzerServer).NotifyPushEvent(ctx, req.(*PushEvent))
	}
	return interceptor(ctx, in, info, handler)
}
