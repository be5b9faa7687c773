package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "meetbook.v1.SchedulingService"

// SchedulingServiceServer is the handler type of SchedulingServiceDesc.
type SchedulingServiceServer interface {
	GetSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSlotsRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBookingByToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBookingByToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBookings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetDefaultTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTemplate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTemplates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateMeetingType(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateMeetingType(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMeetingType(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMeetingTypes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssignTemplates(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectCalendar(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCalendars(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalendarAuthURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DisconnectCalendar(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type rpcMethod func(SchedulingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var rpcs = []struct {
	name   string
	public bool
	call   rpcMethod
}{
	{"GetSlots", true, SchedulingServiceServer.GetSlots},
	{"GetSlotsRange", true, SchedulingServiceServer.GetSlotsRange},
	{"ResolveAvailability", true, SchedulingServiceServer.ResolveAvailability},
	{"CreateBooking", true, SchedulingServiceServer.CreateBooking},
	{"GetBookingByToken", true, SchedulingServiceServer.GetBookingByToken},
	{"CancelBookingByToken", true, SchedulingServiceServer.CancelBookingByToken},
	{"GetBooking", false, SchedulingServiceServer.GetBooking},
	{"ListBookings", false, SchedulingServiceServer.ListBookings},
	{"ApproveBooking", false, SchedulingServiceServer.ApproveBooking},
	{"RejectBooking", false, SchedulingServiceServer.RejectBooking},
	{"CancelBooking", false, SchedulingServiceServer.CancelBooking},
	{"CompleteBooking", false, SchedulingServiceServer.CompleteBooking},
	{"CreateTemplate", false, SchedulingServiceServer.CreateTemplate},
	{"UpdateTemplate", false, SchedulingServiceServer.UpdateTemplate},
	{"SetDefaultTemplate", false, SchedulingServiceServer.SetDefaultTemplate},
	{"GetTemplate", false, SchedulingServiceServer.GetTemplate},
	{"ListTemplates", false, SchedulingServiceServer.ListTemplates},
	{"CreateMeetingType", false, SchedulingServiceServer.CreateMeetingType},
	{"UpdateMeetingType", false, SchedulingServiceServer.UpdateMeetingType},
	{"GetMeetingType", false, SchedulingServiceServer.GetMeetingType},
	{"ListMeetingTypes", false, SchedulingServiceServer.ListMeetingTypes},
	{"AssignTemplates", false, SchedulingServiceServer.AssignTemplates},
	{"SelectCalendar", false, SchedulingServiceServer.SelectCalendar},
	{"ListCalendars", false, SchedulingServiceServer.ListCalendars},
	{"CalendarAuthURL", false, SchedulingServiceServer.CalendarAuthURL},
	{"DisconnectCalendar", false, SchedulingServiceServer.DisconnectCalendar},
}

var (
	SchedulingServiceDesc = grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SchedulingServiceServer)(nil),
		Methods:     methodDescs(),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "meetbook/v1/scheduling.proto",
	}

	publicMethods = publicMethodSet()
)

func RegisterSchedulingServiceServer(s grpc.ServiceRegistrar, srv SchedulingServiceServer) {
	s.RegisterService(&SchedulingServiceDesc, srv)
}

// FullMethod returns the path a client invokes for the named RPC.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func methodDescs() []grpc.MethodDesc {
	out := make([]grpc.MethodDesc, 0, len(rpcs))
	for _, r := range rpcs {
		out = append(out, grpc.MethodDesc{MethodName: r.name, Handler: unaryHandler(r.name, r.call)})
	}
	return out
}

func publicMethodSet() map[string]bool {
	out := make(map[string]bool)
	for _, r := range rpcs {
		if r.public {
			out[FullMethod(r.name)] = true
		}
	}
	return out
}

func unaryHandler(name string, call rpcMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SchedulingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SchedulingServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
