package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "datagate.v1.DataGate"

// API is the datagate service. Every method takes and returns a
// google.protobuf.Struct document.
type API interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestAccountDeletion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmAccountDeletion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Share(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Hide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListShares(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFieldDefinitions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddGroupMember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveGroupMember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(API, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes API for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*API)(nil),
	Methods: []grpc.MethodDesc{
		method("Register", API.Register),
		method("RequestAccountDeletion", API.RequestAccountDeletion),
		method("ConfirmAccountDeletion", API.ConfirmAccountDeletion),
		method("Authorize", API.Authorize),
		method("Share", API.Share),
		method("Hide", API.Hide),
		method("ListShares", API.ListShares),
		method("AddItem", API.AddItem),
		method("FindItem", API.FindItem),
		method("UpdateItem", API.UpdateItem),
		method("RemoveItem", API.RemoveItem),
		method("RemoveItems", API.RemoveItems),
		method("GetPage", API.GetPage),
		method("GetFieldDefinitions", API.GetFieldDefinitions),
		method("CreateGroup", API.CreateGroup),
		method("AddGroupMember", API.AddGroupMember),
		method("RemoveGroupMember", API.RemoveGroupMember),
		method("DeleteGroup", API.DeleteGroup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datagate/v1/datagate.proto",
}

// RegisterDataGateServer registers srv on s.
func RegisterDataGateServer(s grpc.ServiceRegistrar, srv API) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the method path clients pass to grpc.ClientConn.Invoke.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func method(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(API), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(API), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
