package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/ldpc"
)

var (
	ErrNotRunning         = errors.New("channel: context is not running")
	ErrEndpointClosed     = errors.New("channel: endpoint closed")
	ErrMessageTooLarge    = errors.New("channel: message exceeds max message size")
	ErrRecvBufferTooSmall = errors.New("channel: posted receive buffer too small")
	ErrPeerClosed         = errors.New("channel: peer closed the connection")
)

// Link carries frames to the peer. Inbound frames are handed to
// Client.Deliver by the transport.
type Link interface {
	Send(Frame) error
	Close() error
}

// Options tune a Client.
type Options struct {
	// MaxMessageSize caps control messages. Zero uses ldpc.MaxMessageSize.
	MaxMessageSize int
	Logger         *zap.Logger
}

type eventKind uint8

const (
	evFrame eventKind = iota
	evLocal
	evFail
)

type event struct {
	kind  eventKind
	frame Frame
	local func()
	err   error
}

// Client is the client end of a frame channel. It implements comch.Conn and
// comch.Engine: callbacks fire only from Progress, one event per call.
//
// Deliver and Fail may be called from any goroutine; everything else belongs
// to the goroutine that drives Progress.
type Client struct {
	link Link
	cb   comch.Callbacks
	log  *zap.Logger

	mu     sync.Mutex
	queue  []event
	closed bool

	closeOnce sync.Once
	closeErr  error

	state        comch.ContextState
	stopping     bool
	maxMsg       int
	consumers    map[uint32]*consumer
	nextConsumer uint32
}

var (
	_ comch.Conn   = (*Client)(nil)
	_ comch.Engine = (*Client)(nil)
)

// NewClient binds a client to link. Call Start to open the connection.
func NewClient(link Link, cb comch.Callbacks, opts Options) *Client {
	maxMsg := opts.MaxMessageSize
	if maxMsg <= 0 {
		maxMsg = ldpc.MaxMessageSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		link:         link,
		cb:           cb,
		log:          log,
		maxMsg:       maxMsg,
		consumers:    make(map[uint32]*consumer),
		nextConsumer: 1,
	}
}

// Start moves the context to starting and sends the hello for service. The
// transition is queued ahead of the hello so that a synchronous peer's reply
// lands behind it.
func (c *Client) Start(service string) error {
	if c.state != comch.ContextIdle || c.stopping {
		return fmt.Errorf("channel: start in state %s", c.state)
	}
	c.enqueueLocal(func() { c.transition(comch.ContextStarting, nil) })
	if err := c.link.Send(Frame{Type: FrameHello, Payload: []byte(service)}); err != nil {
		c.Fail(err)
		return err
	}
	return nil
}

// Deliver queues an inbound frame.
func (c *Client) Deliver(f Frame) {
	c.push(event{kind: evFrame, frame: f})
}

// Fail queues a transport failure; the context goes idle with err as cause.
func (c *Client) Fail(err error) {
	c.push(event{kind: evFail, err: err})
}

func (c *Client) enqueueLocal(fn func()) {
	c.push(event{kind: evLocal, local: fn})
}

func (c *Client) push(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, ev)
}

func (c *Client) pop() (event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return event{}, false
	}
	ev := c.queue[0]
	c.queue[0] = event{}
	c.queue = c.queue[1:]
	return ev, true
}

// Progress dispatches at most one queued event.
func (c *Client) Progress() bool {
	ev, ok := c.pop()
	if !ok {
		return false
	}
	switch ev.kind {
	case evLocal:
		ev.local()
	case evFail:
		if c.state != comch.ContextIdle {
			c.transition(comch.ContextIdle, ev.err)
		}
	case evFrame:
		c.dispatch(ev.frame)
	}
	return true
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case FrameAccept:
		if c.state != comch.ContextStarting {
			return
		}
		if len(f.Payload) >= 4 {
			if peer := int(binary.BigEndian.Uint32(f.Payload)); peer > 0 && peer < c.maxMsg {
				c.maxMsg = peer
			}
		}
		c.transition(comch.ContextRunning, nil)
	case FrameReject:
		if c.state == comch.ContextStarting {
			c.transition(comch.ContextIdle, fmt.Errorf("channel: service rejected: %s", f.Payload))
		}
	case FrameMessage:
		if c.cb.MessageReceived != nil && c.state != comch.ContextIdle {
			c.cb.MessageReceived(f.Payload)
		}
	case FrameConsumerAdded:
		if c.cb.ConsumerAdded != nil {
			c.cb.ConsumerAdded(f.Consumer)
		}
	case FrameConsumerExpired:
		if c.cb.ConsumerExpired != nil {
			c.cb.ConsumerExpired(f.Consumer)
		}
	case FrameBulk:
		c.deliverBulk(f)
	case FrameBye:
		switch c.state {
		case comch.ContextStarting:
			c.transition(comch.ContextIdle, ErrPeerClosed)
		case comch.ContextRunning:
			c.transition(comch.ContextStopping, nil)
			c.transition(comch.ContextIdle, nil)
		case comch.ContextStopping:
			c.transition(comch.ContextIdle, nil)
		}
	default:
		c.log.Debug("dropping frame", zap.Stringer("type", f.Type))
	}
}

func (c *Client) transition(next comch.ContextState, cause error) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.log.Debug("channel context", zap.Stringer("from", prev), zap.Stringer("to", next), zap.Error(cause))
	if c.cb.StateChanged != nil {
		c.cb.StateChanged(prev, next, cause)
	}
}

func (c *Client) usable() error {
	if c.state != comch.ContextRunning || c.stopping {
		return ErrNotRunning
	}
	return nil
}

// SendMessage submits a control message; completion is queued.
func (c *Client) SendMessage(msg []byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(msg) > c.maxMsg {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(msg), c.maxMsg)
	}
	err := c.link.Send(Frame{Type: FrameMessage, Payload: append([]byte(nil), msg...)})
	c.enqueueLocal(func() {
		if c.cb.SendCompleted != nil {
			c.cb.SendCompleted(err)
		}
	})
	return nil
}

// MaxMessageSize is the negotiated control message ceiling.
func (c *Client) MaxMessageSize() int { return c.maxMsg }

// NewProducer returns a producer endpoint.
func (c *Client) NewProducer() (comch.Producer, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return &producer{c: c}, nil
}

// NewConsumer registers a consumer endpoint and announces it to the peer.
func (c *Client) NewConsumer() (comch.Consumer, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	id := c.nextConsumer
	c.nextConsumer++
	if err := c.link.Send(Frame{Type: FrameConsumerAdded, Consumer: id}); err != nil {
		return nil, err
	}
	cons := &consumer{c: c, id: id}
	c.consumers[id] = cons
	return cons, nil
}

func (c *Client) deliverBulk(f Frame) {
	cons, ok := c.consumers[f.Consumer]
	if !ok {
		c.log.Debug("bulk for unknown consumer", zap.Uint32("consumer", f.Consumer))
		return
	}
	if cons.posted == nil {
		cons.backlog = append(cons.backlog, f.Payload)
		return
	}
	c.fill(cons, f.Payload)
}

func (c *Client) fill(cons *consumer, payload []byte) {
	buf := cons.posted
	cons.posted = nil
	if c.cb.BulkReceived == nil {
		return
	}
	if len(payload) > len(buf) {
		c.cb.BulkReceived(0, fmt.Errorf("%w: %d > %d", ErrRecvBufferTooSmall, len(payload), len(buf)))
		return
	}
	c.cb.BulkReceived(copy(buf, payload), nil)
}

// Stop quiesces the context. The transitions to stopping and idle are
// queued behind every pending completion.
func (c *Client) Stop() error {
	if c.stopping || c.state == comch.ContextIdle {
		return nil
	}
	c.stopping = true
	if err := c.link.Send(Frame{Type: FrameBye}); err != nil {
		c.log.Debug("bye not delivered", zap.Error(err))
	}
	c.enqueueLocal(func() {
		if c.state != comch.ContextIdle {
			c.transition(comch.ContextStopping, nil)
		}
	})
	c.enqueueLocal(func() {
		if c.state != comch.ContextIdle {
			c.transition(comch.ContextIdle, nil)
		}
	})
	return nil
}

// Close drops pending events and closes the link. It is idempotent and also
// serves as comch.Engine.Close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		c.closeErr = c.link.Close()
	})
	return c.closeErr
}

type producer struct {
	c      *Client
	closed bool
}

func (p *producer) Send(consumerID uint32, buf []byte) error {
	if p.closed {
		return ErrEndpointClosed
	}
	if err := p.c.usable(); err != nil {
		return err
	}
	err := p.c.link.Send(Frame{Type: FrameBulk, Consumer: consumerID, Payload: append([]byte(nil), buf...)})
	p.c.enqueueLocal(func() {
		if p.c.cb.BulkSent != nil {
			p.c.cb.BulkSent(err)
		}
	})
	return nil
}

func (p *producer) Close() error {
	p.closed = true
	return nil
}

type consumer struct {
	c       *Client
	id      uint32
	posted  []byte
	backlog [][]byte
	closed  bool
}

func (r *consumer) ID() uint32 { return r.id }

func (r *consumer) PostRecv(buf []byte) error {
	if r.closed {
		return ErrEndpointClosed
	}
	if len(buf) == 0 {
		return fmt.Errorf("channel: empty receive buffer")
	}
	r.posted = buf
	if len(r.backlog) > 0 {
		payload := r.backlog[0]
		r.backlog = r.backlog[1:]
		r.c.enqueueLocal(func() {
			if r.posted != nil {
				r.c.fill(r, payload)
			}
		})
	}
	return nil
}

// Close withdraws the consumer. The peer is told when the context still runs.
func (r *consumer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.posted = nil
	delete(r.c.consumers, r.id)
	if r.c.state == comch.ContextRunning {
		if err := r.c.link.Send(Frame{Type: FrameConsumerExpired, Consumer: r.id}); err != nil {
			r.c.log.Debug("consumer expiry not delivered", zap.Uint32("consumer", r.id), zap.Error(err))
		}
	}
	return nil
}
