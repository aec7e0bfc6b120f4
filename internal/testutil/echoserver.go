// Package testutil provides the in-process reflection-enabled gRPC server
// the gateway's own tests register against, the same protoc-free demo
// service cmd/echo-backend serves for manual exercising.
package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

const protoSource = `
syntax = "proto3";
package test;

service Greeter {
  rpc SayHello (HelloRequest) returns (HelloReply) {}
}

message HelloRequest {
  string name = 1;
}

message HelloReply {
  string message = 1;
}

service TokenService {
  rpc Refresh (RefreshRequest) returns (RefreshReply) {}
}

message RefreshRequest {
  string refresh_token = 1;
}

message RefreshReply {
  string accessToken = 1;
  string refreshToken = 2;
  string expiredAt = 3;
}
`

var (
	registerOnce sync.Once
	registeredSD []protoreflect.ServiceDescriptor
)

// registerOnceGlobally parses the embedded proto and registers its file
// into protoregistry.GlobalFiles exactly once per test binary; repeating
// protodesc.NewFile for the same path panics on the second call.
func registerOnceGlobally(t *testing.T) []protoreflect.ServiceDescriptor {
	t.Helper()
	registerOnce.Do(func() {
		parser := protoparse.Parser{
			Accessor: protoparse.FileContentsFromMap(map[string]string{"test.proto": protoSource}),
		}
		fds, err := parser.ParseFiles("test.proto")
		require.NoError(t, err)

		for _, fd := range fds {
			pfd, err := protodesc.NewFile(fd.AsFileDescriptorProto(), protoregistry.GlobalFiles)
			require.NoError(t, err)
			require.NoError(t, protoregistry.GlobalFiles.RegisterFile(pfd))
			for i := 0; i < pfd.Services().Len(); i++ {
				registeredSD = append(registeredSD, pfd.Services().Get(i))
			}
		}
	})
	require.NotEmpty(t, registeredSD)
	return registeredSD
}

// StartEchoServer starts a reflection-enabled gRPC server on an ephemeral
// localhost port exposing test.Greeter/SayHello and
// test.TokenService/Refresh. It is stopped automatically via t.Cleanup.
// Returns the bare "host:port" address.
func StartEchoServer(t *testing.T) string {
	t.Helper()

	server := grpc.NewServer()
	for _, sd := range registerOnceGlobally(t) {
		server.RegisterService(serviceDesc(sd), nil)
	}
	reflection.Register(server)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(func() {
		server.Stop()
	})

	return lis.Addr().String()
}

func serviceDesc(sd protoreflect.ServiceDescriptor) *grpc.ServiceDesc {
	gsd := &grpc.ServiceDesc{
		ServiceName: string(sd.FullName()),
		HandlerType: (*any)(nil),
		Metadata:    sd.ParentFile().Path(),
	}
	for i := 0; i < sd.Methods().Len(); i++ {
		md := sd.Methods().Get(i)
		gsd.Methods = append(gsd.Methods, grpc.MethodDesc{
			MethodName: string(md.Name()),
			Handler:    unaryHandler(md),
		})
	}
	return gsd
}

func unaryHandler(md protoreflect.MethodDescriptor) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(md.Input())
		if err := dec(in); err != nil {
			return nil, err
		}
		handle := func(ctx context.Context, req any) (any, error) {
			return route(md, req.(*dynamicpb.Message))
		}
		if interceptor == nil {
			return handle(ctx, in)
		}
		info := &grpc.UnaryServerInfo{FullMethod: fmt.Sprintf("/%s/%s", md.Parent().FullName(), md.Name())}
		return interceptor(ctx, in, info, handle)
	}
}

func route(md protoreflect.MethodDescriptor, in *dynamicpb.Message) (any, error) {
	switch md.Name() {
	case "SayHello":
		return sayHello(md, in)
	case "Refresh":
		return refresh(md, in)
	default:
		return nil, fmt.Errorf("testutil: no handler for method %s", md.Name())
	}
}

func sayHello(md protoreflect.MethodDescriptor, in *dynamicpb.Message) (any, error) {
	name := in.Get(in.Descriptor().Fields().ByName("name")).String()
	out := dynamicpb.NewMessage(md.Output())
	out.Set(out.Descriptor().Fields().ByName("message"), protoreflect.ValueOfString("hello, "+name))
	return out, nil
}

func refresh(md protoreflect.MethodDescriptor, in *dynamicpb.Message) (any, error) {
	out := dynamicpb.NewMessage(md.Output())
	out.Set(out.Descriptor().Fields().ByName("accessToken"), protoreflect.ValueOfString("new-access-token"))
	out.Set(out.Descriptor().Fields().ByName("refreshToken"), protoreflect.ValueOfString("new-refresh-token"))
	out.Set(out.Descriptor().Fields().ByName("expiredAt"), protoreflect.ValueOfString("9999999999"))
	return out, nil
}
