// Package comch implements the client side of the accelerator channel
// protocol: the session state machine, the control handshake, the bulk buffer
// exchange and resource teardown.
//
// A Session is driven cooperatively by its owner. Every blocking operation is
// a poll loop over Engine.Progress with a short sleep when no work was done.
// Engine callbacks only record facts on the Session; every transition is
// decided in the poll loop.
package comch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/ldpc"
)

// State is the session lifecycle.
type State uint8

const (
	Unconnected State = iota
	Connecting
	Established
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

const (
	DefaultPollInterval = 10 * time.Microsecond
	DefaultDrainTimeout = time.Second
)

// SessionConfig configures one session.
type SessionConfig struct {
	// DeviceAddr is the device address handed to Provider.OpenDevice (e.g. a PCI address).
	DeviceAddr string
	// Service is the accelerator service name to connect to.
	Service string
	// PollInterval is the sleep between idle polls. Zero uses DefaultPollInterval.
	PollInterval time.Duration
	// DrainTimeout bounds the drain performed by Teardown on a live session.
	DrainTimeout time.Duration
	// LockMemory pins exchange regions in RAM.
	LockMemory bool
	Logger     *zap.Logger
}

var errSessionClosed = errors.New("comch: session closed")

// Session is one logical connection to an accelerator service. It is owned
// by a single goroutine and is not safe for concurrent use.
type Session struct {
	cfg SessionConfig
	log *zap.Logger

	state    State
	ctxState ContextState
	result   error

	// Facts recorded by engine callbacks.
	finished       bool
	drainRequested bool
	startSeen      bool
	stopSeen       bool
	remoteConsumer uint32
	bulkAcked      bool
	recvDone       bool
	recvN          int

	requestInFlight bool

	dev    Device
	conn   Conn
	engine Engine
	ex     *exchange
}

func newSession(cfg SessionConfig) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:            cfg,
		log:            log.With(zap.String("service", cfg.Service), zap.String("device", cfg.DeviceAddr)),
		remoteConsumer: InvalidConsumerID,
	}
}

// Open opens the device, connects to the configured service and polls until
// the connection is established. A failure surfaces immediately with
// everything acquired so far released; there is no retry.
func Open(ctx context.Context, p Provider, cfg SessionConfig) (*Session, error) {
	if p == nil {
		return nil, ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "comch: nil provider")
	}
	if cfg.Service == "" {
		return nil, ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "comch: service name is required")
	}
	s := newSession(cfg)
	if err := s.connect(ctx, p); err != nil {
		_ = s.Teardown()
		return nil, err
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context, p Provider) error {
	s.setState(Connecting)

	dev, err := p.OpenDevice(ctx, s.cfg.DeviceAddr)
	if err != nil {
		s.setState(Closed)
		return s.record(ldpc.WrapError(ldpc.KindConnection, ldpc.RuleDeviceOpenFailed,
			fmt.Sprintf("open device %q", s.cfg.DeviceAddr), err))
	}
	s.dev = dev

	conn, engine, err := p.Connect(dev, s.cfg.Service, s.callbacks())
	if err != nil {
		s.setState(Closed)
		return s.record(ldpc.WrapError(ldpc.KindConnection, ldpc.RuleConnectFailed,
			fmt.Sprintf("connect to %q", s.cfg.Service), err))
	}
	s.conn, s.engine = conn, engine

	return s.await(ctx, func() bool { return s.state == Established },
		ldpc.KindConnection, ldpc.RuleConnectFailed, "connection closed before it was established")
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the first failure recorded on the session, if any.
func (s *Session) Err() error { return s.result }

// RemoteConsumer returns the cached remote consumer id, or InvalidConsumerID.
func (s *Session) RemoteConsumer() uint32 { return s.remoteConsumer }

// Progress drives one non-blocking engine step, then applies the recorded
// facts to the state machine. It reports whether the engine did any work.
func (s *Session) Progress() bool {
	if s.engine == nil {
		return false
	}
	worked := s.engine.Progress()
	s.advance()
	return worked
}

func (s *Session) advance() {
	switch s.state {
	case Connecting:
		switch {
		case s.finished:
			s.setState(Closed)
		case s.drainRequested:
			s.beginDrain()
		case s.ctxState == ContextRunning:
			s.setState(Established)
		}
	case Established:
		switch {
		case s.finished:
			s.setState(Closed)
		case s.drainRequested:
			s.beginDrain()
		}
	case Draining:
		if s.finished {
			s.setState(Closed)
		}
	}
}

func (s *Session) beginDrain() {
	s.setState(Draining)
	if err := s.conn.Stop(); err != nil {
		s.record(ldpc.WrapError(ldpc.KindConnection, ldpc.RuleConnectionLost, "stop channel context", err))
		s.setState(Closed)
	}
}

// Drain requests Draining and polls until the session is Closed.
func (s *Session) Drain(ctx context.Context) error {
	switch s.state {
	case Unconnected:
		s.setState(Closed)
		return nil
	case Closed:
		return nil
	}
	s.drainRequested = true
	err := s.wait(ctx, func() bool { return s.state == Closed })
	if err == nil || errors.Is(err, errSessionClosed) {
		return nil
	}
	return ldpc.WrapError(ldpc.KindConnection, ldpc.RuleConnectionLost, "drain did not complete", err)
}

// wait polls until done reports true, the session closes, or ctx ends.
func (s *Session) wait(ctx context.Context, done func() bool) error {
	for {
		if done() {
			return nil
		}
		if s.state == Closed {
			return errSessionClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.Progress() {
			time.Sleep(s.cfg.PollInterval)
		}
	}
}

// await is wait with error mapping: a closed session yields the recorded
// failure if there is one, otherwise a fresh error of the given kind.
func (s *Session) await(ctx context.Context, done func() bool, kind ldpc.Kind, rule, what string) error {
	err := s.wait(ctx, done)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSessionClosed):
		if s.result != nil {
			return s.result
		}
		return ldpc.NewError(kind, rule, what)
	default:
		return ldpc.WrapError(kind, rule, what, err)
	}
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
}

// record keeps the first failure and returns err.
func (s *Session) record(err error) error {
	if err != nil && s.result == nil {
		s.result = err
		s.log.Warn("session failure recorded", zap.Error(err))
	}
	return err
}

// fail records err and requests Draining.
func (s *Session) fail(err error) {
	s.record(err)
	s.drainRequested = true
}

func (s *Session) callbacks() Callbacks {
	return Callbacks{
		MessageReceived: s.onMessage,
		SendCompleted:   s.onSendCompleted,
		StateChanged:    s.onStateChanged,
		ConsumerAdded:   s.onConsumerAdded,
		ConsumerExpired: s.onConsumerExpired,
		BulkSent:        s.onBulkSent,
		BulkReceived:    s.onBulkReceived,
	}
}

func (s *Session) onMessage(msg []byte) {
	switch string(msg) {
	case StartMarker:
		s.startSeen = true
	case StopMarker:
		s.stopSeen = true
		s.remoteConsumer = InvalidConsumerID
		s.drainRequested = true
	default:
		s.log.Debug("ignoring control message", zap.Int("bytes", len(msg)))
	}
}

func (s *Session) onSendCompleted(err error) {
	if err != nil {
		s.fail(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "control message send failed", err))
	}
}

func (s *Session) onStateChanged(prev, next ContextState, cause error) {
	s.ctxState = next
	if cause != nil {
		rule := ldpc.RuleConnectionLost
		if s.state == Connecting {
			rule = ldpc.RuleConnectFailed
		}
		s.record(ldpc.WrapError(ldpc.KindConnection, rule, "channel context failed", cause))
	}
	if next == ContextIdle && prev != ContextIdle {
		s.finished = true
	}
}

func (s *Session) onConsumerAdded(id uint32) {
	s.remoteConsumer = id
}

func (s *Session) onConsumerExpired(id uint32) {
	if s.remoteConsumer == id {
		s.remoteConsumer = InvalidConsumerID
	}
}

func (s *Session) onBulkSent(err error) {
	if err != nil {
		s.fail(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "bulk send failed", err))
		return
	}
	s.bulkAcked = true
}

func (s *Session) onBulkReceived(n int, err error) {
	if err != nil {
		s.fail(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleRecvFailed, "bulk receive failed", err))
		return
	}
	s.recvDone = true
	s.recvN = n
}
