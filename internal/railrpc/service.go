// Package railrpc serves read-only simulator state over gRPC for
// collaborator processes that cannot map the shared time slot, such as
// displays on other hosts.
//
// The service is declared by hand over protobuf well-known types, so it needs
// no generated code:
//
//	service railsim.v1.RailState {
//	  rpc GetSimTime(google.protobuf.Empty) returns (google.protobuf.Timestamp);
//	  rpc GetBeacon(google.protobuf.StringValue) returns (google.protobuf.StringValue);
//	  rpc GetArbiter(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	}
package railrpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/kb"
	"github.com/signalsfoundry/rail-control-simulator/safety"
	"github.com/signalsfoundry/rail-control-simulator/timectrl"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "railsim.v1.RailState"

const (
	methodGetSimTime = "/" + ServiceName + "/GetSimTime"
	methodGetBeacon  = "/" + ServiceName + "/GetBeacon"
	methodGetArbiter = "/" + ServiceName + "/GetArbiter"
)

// RailStateServer is the server API for the RailState service.
type RailStateServer interface {
	GetSimTime(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
	GetBeacon(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetArbiter(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterRailStateServer registers srv on s.
func RegisterRailStateServer(s grpc.ServiceRegistrar, srv RailStateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the RailState service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RailStateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSimTime", Handler: getSimTimeHandler},
		{MethodName: "GetBeacon", Handler: getBeaconHandler},
		{MethodName: "GetArbiter", Handler: getArbiterHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "railsim/v1/rail_state.proto",
}

func getSimTimeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RailStateServer).GetSimTime(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetSimTime}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RailStateServer).GetSimTime(ctx, req.(*emptypb.Empty))
	})
}

func getBeaconHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RailStateServer).GetBeacon(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetBeacon}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RailStateServer).GetBeacon(ctx, req.(*wrapperspb.StringValue))
	})
}

func getArbiterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RailStateServer).GetArbiter(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetArbiter}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RailStateServer).GetArbiter(ctx, req.(*wrapperspb.StringValue))
	})
}

// Service implements RailStateServer over the live simulator components.
type Service struct {
	clock timectrl.SimClock
	track *kb.KnowledgeBase
	log   logging.Logger

	mu       sync.RWMutex
	arbiters map[string]*safety.Arbiter
}

// NewService builds a RailState service. track may be nil when no layout is
// loaded.
func NewService(clock timectrl.SimClock, track *kb.KnowledgeBase, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{
		clock:    clock,
		track:    track,
		log:      log,
		arbiters: make(map[string]*safety.Arbiter),
	}
}

// AddArbiter exposes a train's arbiter through GetArbiter.
func (s *Service) AddArbiter(a *safety.Arbiter) {
	if a == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbiters[a.TrainID()] = a
}

// Trains lists the trains with a registered arbiter.
func (s *Service) Trains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.arbiters))
	for id := range s.arbiters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) GetSimTime(ctx context.Context, _ *emptypb.Empty) (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.clock.Now()), nil
}

func (s *Service) GetBeacon(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id := req.GetValue()
	ctx, span := startChildSpan(ctx, "RailState.GetBeacon", "track_block", id)
	defer span.End()

	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: block id is required", ErrInvalidArgument))
	}
	if s.track == nil {
		return nil, ToStatusError(fmt.Errorf("%w: %s", kb.ErrBlockNotFound, id))
	}
	blk := s.track.GetBlock(id)
	if blk == nil {
		logging.FromContext(ctx, s.log).Debug(ctx, "beacon lookup for unknown block", logging.String("block_id", id))
		return nil, ToStatusError(fmt.Errorf("%w: %s", kb.ErrBlockNotFound, id))
	}
	return wrapperspb.String(blk.BeaconHex()), nil
}

func (s *Service) GetArbiter(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := req.GetValue()
	_, span := startChildSpan(ctx, "RailState.GetArbiter", "train", id)
	defer span.End()

	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: train id is required", ErrInvalidArgument))
	}
	s.mu.RLock()
	a, ok := s.arbiters[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ToStatusError(fmt.Errorf("%w: %s", ErrUnknownTrain, id))
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"train_id":   id,
		"state":      a.State().String(),
		"owns_brake": a.OwnsBrake(),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
