package grpccomch

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/ldpcoffload/comch/channel"
	"xdao.co/ldpcoffload/ldpc"
)

var (
	ErrUnknownDevice = errors.New("grpccomch: unknown device")
	ErrUnavailable   = errors.New("grpccomch: accelerator unavailable")
	ErrMissingDevice = errors.New("grpccomch: missing device metadata")
)

// mapErr converts a server-side error into a status.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrMissingDevice), errors.Is(err, channel.ErrMalformedFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case ldpc.IsKind(err, ldpc.KindPeerProtocol):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC converts a status back into the package sentinels where one applies.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return ErrUnknownDevice
	case codes.Unavailable:
		return ErrUnavailable
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
