// Command echo-backend is a demo upstream: it exposes demo.Greeter/SayHello
// and demo.TokenService/Refresh, with server reflection enabled, so the
// gateway can be exercised end-to-end without a protoc-generated backend.
// Its schema is parsed from an embedded .proto source at startup rather
// than from generated Go types, the same way the gateway itself treats
// every upstream as schema-unknown until reflection resolves it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

const protoSource = `
syntax = "proto3";
package demo;

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

func main() {
	listenAddr := flag.String("listen", ":50051", "listen address")
	flag.Parse()

	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{"demo.proto": protoSource}),
	}
	fds, err := parser.ParseFiles("demo.proto")
	if err != nil {
		log.Fatalf("failed to parse embedded proto: %v", err)
	}

	server := grpc.NewServer()

	for _, fd := range fds {
		pfd, err := protodesc.NewFile(fd.AsFileDescriptorProto(), protoregistry.GlobalFiles)
		if err != nil {
			log.Fatalf("failed to build file descriptor: %v", err)
		}
		if err := protoregistry.GlobalFiles.RegisterFile(pfd); err != nil {
			log.Fatalf("failed to register file descriptor: %v", err)
		}
		for i := 0; i < pfd.Services().Len(); i++ {
			sd := pfd.Services().Get(i)
			server.RegisterService(serviceDesc(sd), nil)
		}
	}
	reflection.Register(server)

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Printf("echo-backend listening on %s", lis.Addr())
	if err := server.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
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
		return nil, fmt.Errorf("echo-backend: no handler for method %s", md.Name())
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
