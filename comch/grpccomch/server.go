package grpccomch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch/channel"
)

// Server exposes an accel.Service over the Channel gRPC service. Each Connect
// stream gets its own accel.Handler driven by the stream goroutine.
type Server struct {
	UnimplementedChannelServer
	Service *accel.Service
	// Devices lists the device addresses this accelerator answers for.
	// Empty accepts any non-empty address.
	Devices []string
	Logger  *zap.Logger
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) checkDevice(addr string) error {
	if addr == "" {
		return ErrMissingDevice
	}
	if len(s.Devices) > 0 && !slices.Contains(s.Devices, addr) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return nil
}

func (s *Server) OpenDevice(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	_ = ctx
	if err := s.checkDevice(in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(in.GetValue()), nil
}

func (s *Server) Connect(stream Channel_ConnectServer) error {
	var addr string
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		if v := md.Get(deviceMetadataKey); len(v) > 0 {
			addr = v[0]
		}
	}
	if err := s.checkDevice(addr); err != nil {
		return mapErr(err)
	}
	svc := s.Service
	if svc == nil {
		svc = &accel.Service{Logger: s.Logger}
	}
	log := s.logger().With(zap.String("device", addr))

	h := svc.NewHandler(func(f channel.Frame) error {
		b, err := f.MarshalBinary()
		if err != nil {
			return err
		}
		return stream.Send(wrapperspb.Bytes(b))
	})
	for {
		in, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var f channel.Frame
		if err := f.UnmarshalBinary(in.GetValue()); err != nil {
			return mapErr(err)
		}
		done, herr := h.Handle(f)
		if herr != nil {
			log.Warn("connection ended by accelerator", zap.Error(herr))
		}
		if done {
			log.Debug("connection finished", zap.Int("jobs", h.Jobs()))
			return nil
		}
	}
}
