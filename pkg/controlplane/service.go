package controlplane

import (
	"context"

	"google.golang.org/grpc"
)

// ControlPlaneServer is the server API of the control-plane service. Every
// per-kind method of the service descriptor dispatches to the generic
// operation with its kind.
type ControlPlaneServer interface {
	Create(ctx context.Context, kind string, req *WriteRequest) (*Resource, error)
	Update(ctx context.Context, kind string, req *WriteRequest) (*Resource, error)
	Delete(ctx context.Context, kind string, req *ResourceRequest) (*Empty, error)
	Get(ctx context.Context, kind string, req *ResourceRequest) (*Resource, error)
	List(ctx context.Context, kind string, req *ListRequest) (*ListResponse, error)
	GetMetadata(ctx context.Context, req *MetadataRequest) (*Metadata, error)
	SetMetadata(ctx context.Context, req *SetMetadataRequest) (*Empty, error)
}

// ServiceDesc describes the control-plane service for grpc.Server.RegisterService.
var ServiceDesc = buildServiceDesc()

// RegisterControlPlaneServer registers srv on s.
func RegisterControlPlaneServer(s grpc.ServiceRegistrar, srv ControlPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func buildServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ControlPlaneServer)(nil),
		Metadata:    "converge/controlplane/v1/controlplane.json",
	}

	add := func(name string, h grpc.MethodHandler) {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: h})
	}

	for _, info := range kindTable {
		kind := info.Kind
		add(MethodName(OpCreate, info), handler(MethodName(OpCreate, info),
			func(s ControlPlaneServer, ctx context.Context, in *WriteRequest) (any, error) {
				return s.Create(ctx, kind, in)
			}))
		add(MethodName(OpUpdate, info), handler(MethodName(OpUpdate, info),
			func(s ControlPlaneServer, ctx context.Context, in *WriteRequest) (any, error) {
				return s.Update(ctx, kind, in)
			}))
		add(MethodName(OpDelete, info), handler(MethodName(OpDelete, info),
			func(s ControlPlaneServer, ctx context.Context, in *ResourceRequest) (any, error) {
				return s.Delete(ctx, kind, in)
			}))
		add(MethodName(OpGet, info), handler(MethodName(OpGet, info),
			func(s ControlPlaneServer, ctx context.Context, in *ResourceRequest) (any, error) {
				return s.Get(ctx, kind, in)
			}))
		add(MethodName(OpList, info), handler(MethodName(OpList, info),
			func(s ControlPlaneServer, ctx context.Context, in *ListRequest) (any, error) {
				return s.List(ctx, kind, in)
			}))
	}

	add(MethodGetMetadata, handler(MethodGetMetadata,
		func(s ControlPlaneServer, ctx context.Context, in *MetadataRequest) (any, error) {
			return s.GetMetadata(ctx, in)
		}))
	add(MethodSetMetadata, handler(MethodSetMetadata,
		func(s ControlPlaneServer, ctx context.Context, in *SetMetadataRequest) (any, error) {
			return s.SetMetadata(ctx, in)
		}))

	return desc
}

// handler adapts a typed call into a grpc.MethodHandler, running the server
// interceptor chain when one is installed.
func handler[Req any](method string, call func(ControlPlaneServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := FullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlPlaneServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		next := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlPlaneServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, next)
	}
}
