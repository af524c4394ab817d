// Package loopback is an in-process comch.Provider: the client channel is
// wired directly to an accelerator handler and every frame is handled
// synchronously on the caller's goroutine.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/channel"
)

// DefaultDevice is the device address used when none is configured.
const DefaultDevice = "03:00.0"

var (
	ErrUnknownDevice = errors.New("loopback: unknown device")
	ErrDeviceClosed  = errors.New("loopback: device closed")
	ErrLinkClosed    = errors.New("loopback: link closed")
)

// pciAddr matches bus:device.function with an optional domain.
var pciAddr = regexp.MustCompile(`^([0-9a-fA-F]{4}:)?[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7]$`)

// Direction tells a Filter which way a frame travels.
type Direction uint8

const (
	// ToPeer frames are sent by the client.
	ToPeer Direction = iota + 1
	// FromPeer frames are sent by the accelerator.
	FromPeer
)

// Provider connects sessions to an in-process accel.Service.
type Provider struct {
	Service *accel.Service
	// Devices lists accepted addresses. Empty accepts any well-formed
	// PCI address.
	Devices []string
	// Filter, when set, drops frames for which it returns false.
	Filter func(dir Direction, f channel.Frame) bool
	Logger *zap.Logger
}

var _ comch.Provider = (*Provider)(nil)

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
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !pciAddr.MatchString(addr) {
		return nil, fmt.Errorf("%w: malformed address %q", ErrUnknownDevice, addr)
	}
	if len(p.Devices) > 0 && !slices.Contains(p.Devices, addr) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	return &device{addr: addr}, nil
}

func (p *Provider) Connect(dev comch.Device, service string, cb comch.Callbacks) (comch.Conn, comch.Engine, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, nil, fmt.Errorf("loopback: foreign device %T", dev)
	}
	if d.closed {
		return nil, nil, ErrDeviceClosed
	}
	svc := p.Service
	if svc == nil {
		svc = &accel.Service{Logger: p.Logger}
	}

	l := &link{filter: p.Filter, log: p.logger().With(zap.String("device", d.addr))}
	l.handler = svc.NewHandler(l.fromPeer)
	l.client = channel.NewClient(l, cb, channel.Options{Logger: p.Logger})
	if err := l.client.Start(service); err != nil {
		_ = l.client.Close()
		return nil, nil, err
	}
	return l.client, l.client, nil
}

// link hands client frames to the handler and handler frames back to the
// client's event queue.
type link struct {
	client  *channel.Client
	handler *accel.Handler
	filter  func(Direction, channel.Frame) bool
	log     *zap.Logger
	closed  bool
}

func (l *link) Send(f channel.Frame) error {
	if l.closed || l.handler.Done() {
		return ErrLinkClosed
	}
	if l.filter != nil && !l.filter(ToPeer, f) {
		l.log.Debug("dropped frame", zap.Stringer("type", f.Type))
		return nil
	}
	if _, err := l.handler.Handle(f); err != nil {
		l.log.Warn("accelerator ended connection", zap.Error(err))
	}
	return nil
}

func (l *link) fromPeer(f channel.Frame) error {
	if l.closed {
		return ErrLinkClosed
	}
	if l.filter != nil && !l.filter(FromPeer, f) {
		l.log.Debug("dropped frame", zap.Stringer("type", f.Type))
		return nil
	}
	l.client.Deliver(f)
	return nil
}

func (l *link) Close() error {
	l.closed = true
	return nil
}
