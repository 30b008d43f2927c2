package grpc

import (
	"context"

	gogrpc "google.golang.org/grpc"
)

// UnaryHandler adapts a typed server method into a grpc.MethodHandler for a
// hand-written service descriptor.
func UnaryHandler[S any, Req any, Res any](fullMethod string, call func(S, context.Context, *Req) (*Res, error)) gogrpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Invoke performs a unary call with the CBOR content subtype.
func Invoke[Res any](ctx context.Context, cc gogrpc.ClientConnInterface, fullMethod string, in any, opts ...gogrpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, fullMethod, in, out, CallOptions(opts...)...); err != nil {
		return nil, err
	}
	return out, nil
}
