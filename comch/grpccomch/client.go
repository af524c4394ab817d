// Package grpccomch carries the accelerator channel over gRPC: a
// comch.Provider for hosts and a Server for accelerator daemons.
package grpccomch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/channel"
)

// Provider implements comch.Provider against a Channel gRPC service.
type Provider struct {
	cc     *grpc.ClientConn
	client ChannelClient

	// Timeout applies to OpenDevice when non-zero.
	Timeout time.Duration
	Logger  *zap.Logger
}

var _ comch.Provider = (*Provider)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Provider, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewProvider(cc), nil
}

// NewProvider wraps an existing connection. Close closes cc.
func NewProvider(cc *grpc.ClientConn) *Provider {
	return &Provider{cc: cc, client: NewChannelClient(cc)}
}

func (p *Provider) Close() error {
	if p == nil || p.cc == nil {
		return nil
	}
	return p.cc.Close()
}

func (p *Provider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

type device struct {
	addr   string
	closed bool
}

func (d *device) Close() error {
	d.closed = true
	return nil
}

func (p *Provider) OpenDevice(ctx context.Context, addr string) (comch.Device, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	reply, err := p.client.OpenDevice(ctx, wrapperspb.String(addr))
	if err != nil {
		return nil, mapRPC(err)
	}
	return &device{addr: reply.GetValue()}, nil
}

func (p *Provider) Connect(dev comch.Device, service string, cb comch.Callbacks) (comch.Conn, comch.Engine, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, nil, errors.New("grpccomch: foreign device")
	}
	if d.closed {
		return nil, nil, errors.New("grpccomch: device closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = metadata.AppendToOutgoingContext(ctx, deviceMetadataKey, d.addr)
	stream, err := p.client.Connect(ctx)
	if err != nil {
		cancel()
		return nil, nil, mapRPC(err)
	}

	l := &streamLink{stream: stream, cancel: cancel, log: p.logger().With(zap.String("device", d.addr))}
	l.client = channel.NewClient(l, cb, channel.Options{Logger: p.Logger})
	go l.readLoop()
	if err := l.client.Start(service); err != nil {
		_ = l.client.Close()
		return nil, nil, mapRPC(err)
	}
	return l.client, l.client, nil
}

// streamLink adapts a Connect stream to channel.Link. Inbound frames are read
// on their own goroutine and queued on the client; the client dispatches
// them from Progress.
type streamLink struct {
	stream Channel_ConnectClient
	cancel context.CancelFunc
	client *channel.Client
	log    *zap.Logger

	sendMu sync.Mutex
	closed atomic.Bool
}

func (l *streamLink) Send(f channel.Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.closed.Load() {
		return io.ErrClosedPipe
	}
	return l.stream.Send(wrapperspb.Bytes(b))
}

func (l *streamLink) readLoop() {
	for {
		msg, err := l.stream.Recv()
		if err != nil {
			if !l.closed.Load() {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				l.client.Fail(mapRPC(err))
			}
			return
		}
		var f channel.Frame
		if err := f.UnmarshalBinary(msg.GetValue()); err != nil {
			l.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		l.client.Deliver(f)
	}
}

func (l *streamLink) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.sendMu.Lock()
	err := l.stream.CloseSend()
	l.sendMu.Unlock()
	l.cancel()
	return err
}
