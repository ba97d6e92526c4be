package railrpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rail-control-simulator/internal/timeslot"
	"github.com/signalsfoundry/rail-control-simulator/kb"
)

var (
	// ErrUnknownTrain is returned when no arbiter guards the requested train.
	ErrUnknownTrain = errors.New("unknown train")
	// ErrInvalidArgument marks client-side request validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrBlockNotFound),
		errors.Is(err, ErrUnknownTrain):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, kb.ErrInvalidBlock),
		errors.Is(err, kb.ErrBeaconRejected):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, timeslot.ErrSlotUninitialized),
		errors.Is(err, timeslot.ErrSlotClosed),
		errors.Is(err, timeslot.ErrGuardClosed):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
