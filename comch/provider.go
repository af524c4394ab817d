package comch

import (
	"context"
	"fmt"
)

// InvalidConsumerID marks the absence of a remote consumer endpoint.
const InvalidConsumerID uint32 = ^uint32(0)

// ContextState is the lifecycle of the underlying channel context as reported
// by the progress engine.
type ContextState uint8

const (
	ContextIdle ContextState = iota
	ContextStarting
	ContextRunning
	ContextStopping
)

func (s ContextState) String() string {
	switch s {
	case ContextIdle:
		return "idle"
	case ContextStarting:
		return "starting"
	case ContextRunning:
		return "running"
	case ContextStopping:
		return "stopping"
	default:
		return fmt.Sprintf("ContextState(%d)", uint8(s))
	}
}

// Callbacks are invoked synchronously from Engine.Progress on the polling
// goroutine. They must not block.
type Callbacks struct {
	// MessageReceived delivers an inbound control message.
	MessageReceived func(msg []byte)
	// SendCompleted reports completion of a control message send task.
	SendCompleted func(err error)
	// StateChanged reports a context transition. cause is set when the
	// transition was forced by a transport failure.
	StateChanged func(prev, next ContextState, cause error)
	// ConsumerAdded reports a new remote consumer endpoint.
	ConsumerAdded func(id uint32)
	// ConsumerExpired reports that a remote consumer endpoint went away.
	ConsumerExpired func(id uint32)
	// BulkSent reports completion of a producer send task.
	BulkSent func(err error)
	// BulkReceived reports that n bytes landed in the posted receive buffer.
	BulkReceived func(n int, err error)
}

// Device is an opened accelerator device handle.
type Device interface {
	Close() error
}

// Engine is the pollable execution context that advances pending
// asynchronous work.
type Engine interface {
	// Progress performs at most one unit of pending work without blocking and
	// reports whether anything was done.
	Progress() bool
	Close() error
}

// Conn is an established channel connection to a named accelerator service.
type Conn interface {
	// SendMessage submits a control message. Completion is reported through
	// Callbacks.SendCompleted.
	SendMessage(msg []byte) error
	NewProducer() (Producer, error)
	NewConsumer() (Consumer, error)
	MaxMessageSize() int
	// Stop requests the context to quiesce. The transition to ContextIdle is
	// reported through Callbacks.StateChanged once pending tasks are flushed.
	Stop() error
	Close() error
}

// Producer submits bulk buffers to a remote consumer.
type Producer interface {
	Send(consumerID uint32, buf []byte) error
	Close() error
}

// Consumer receives bulk buffers into posted memory.
type Consumer interface {
	ID() uint32
	// PostRecv posts buf for the next inbound transfer. buf must stay valid
	// until Callbacks.BulkReceived fires or the consumer is closed.
	PostRecv(buf []byte) error
	Close() error
}

// Provider is the device and connection collaborator the session is built on.
type Provider interface {
	OpenDevice(ctx context.Context, addr string) (Device, error)
	Connect(dev Device, service string, cb Callbacks) (Conn, Engine, error)
}
