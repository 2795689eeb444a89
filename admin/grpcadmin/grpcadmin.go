// Package grpcadmin exposes eviction.Loop's admin surface (manual trigger,
// last-report lookup) as a gRPC service — one small, framework-specific
// package per transport, importable independently of the others.
package grpcadmin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kestrelstore/pageguard/eviction"
)

// TriggerRequest is the (currently empty) request for TriggerEviction.
type TriggerRequest struct{}

// TriggerResponse carries the iteration's outcome.
type TriggerResponse struct {
	Report eviction.Report `json:"report"`
}

// LastReportRequest is the (currently empty) request for GetLastReport.
type LastReportRequest struct{}

// LastReportResponse carries the most recently completed iteration's
// outcome.
type LastReportResponse struct {
	Report eviction.Report `json:"report"`
}

// EvictionAdminServer is the service interface backing the EvictionAdmin
// gRPC service.
type EvictionAdminServer interface {
	TriggerEviction(ctx context.Context, req *TriggerRequest) (*TriggerResponse, error)
	GetLastReport(ctx context.Context, req *LastReportRequest) (*LastReportResponse, error)
}

// server adapts an *eviction.Loop to EvictionAdminServer.
type server struct {
	loop *eviction.Loop
}

// NewServer constructs an EvictionAdminServer backed by loop. loop may be
// nil (no disk_usage_based_eviction configured); both methods then report
// status.Unavailable.
func NewServer(loop *eviction.Loop) EvictionAdminServer {
	return &server{loop: loop}
}

func (s *server) TriggerEviction(ctx context.Context, _ *TriggerRequest) (*TriggerResponse, error) {
	if s.loop == nil {
		return nil, status.Error(codes.Unavailable, "grpcadmin: eviction loop is not configured")
	}
	report, err := s.loop.TriggerNow(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &TriggerResponse{Report: report}, nil
}

func (s *server) GetLastReport(ctx context.Context, _ *LastReportRequest) (*LastReportResponse, error) {
	if s.loop == nil {
		return nil, status.Error(codes.Unavailable, "grpcadmin: eviction loop is not configured")
	}
	return &LastReportResponse{Report: s.loop.LastReport()}, nil
}

// RegisterEvictionAdminServer registers srv on s.
func RegisterEvictionAdminServer(s grpc.ServiceRegistrar, srv EvictionAdminServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "pageguard.eviction.EvictionAdmin",
	HandlerType: (*EvictionAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerEviction", Handler: triggerEvictionHandler},
		{MethodName: "GetLastReport", Handler: getLastReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pageguard/admin/grpcadmin/eviction_admin.proto",
}

func triggerEvictionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TriggerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvictionAdminServer).TriggerEviction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pageguard.eviction.EvictionAdmin/TriggerEviction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EvictionAdminServer).TriggerEviction(ctx, req.(*TriggerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getLastReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LastReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvictionAdminServer).GetLastReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pageguard.eviction.EvictionAdmin/GetLastReport"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EvictionAdminServer).GetLastReport(ctx, req.(*LastReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// NewGRPCServer returns a *grpc.Server forced onto the JSON codec and with
// srv already registered. Any interceptors are supplied by the caller via
// opts.
func NewGRPCServer(srv EvictionAdminServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}, opts...)
	s := grpc.NewServer(opts...)
	RegisterEvictionAdminServer(s, srv)
	return s
}
