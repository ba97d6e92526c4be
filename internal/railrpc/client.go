package railrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a RailState client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ArbiterStatus is the GetArbiter response.
type ArbiterStatus struct {
	TrainID   string
	State     string
	OwnsBrake bool
}

// SimTime returns the authoritative simulated time.
func (c *Client) SimTime(ctx context.Context, opts ...grpc.CallOption) (time.Time, error) {
	out := new(timestamppb.Timestamp)
	if err := c.cc.Invoke(ctx, methodGetSimTime, &emptypb.Empty{}, out, opts...); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// Beacon returns a block's beacon in hex wire format.
func (c *Client) Beacon(ctx context.Context, blockID string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodGetBeacon, wrapperspb.String(blockID), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Arbiter returns a train's safety arbiter status.
func (c *Client) Arbiter(ctx context.Context, trainID string, opts ...grpc.CallOption) (ArbiterStatus, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetArbiter, wrapperspb.String(trainID), out, opts...); err != nil {
		return ArbiterStatus{}, err
	}
	f := out.GetFields()
	return ArbiterStatus{
		TrainID:   f["train_id"].GetStringValue(),
		State:     f["state"].GetStringValue(),
		OwnsBrake: f["owns_brake"].GetBoolValue(),
	}, nil
}
