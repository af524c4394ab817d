package accel

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/channel"
	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/ldpc"
)

// ServerConsumerID is the id of the consumer endpoint the accelerator
// announces after the start marker.
const ServerConsumerID uint32 = 1

// Handler runs the accelerator side of one connection. It is fed inbound
// frames in order and answers through send. A Handler is not safe for
// concurrent use.
type Handler struct {
	svc  *Service
	send func(channel.Frame) error
	log  *zap.Logger

	op           ldpc.Op
	accepted     bool
	announced    bool
	peerConsumer uint32
	pending      [][]byte
	done         bool
	jobs         int
}

// NewHandler returns a handler that replies through send.
func (s *Service) NewHandler(send func(channel.Frame) error) *Handler {
	return &Handler{
		svc:          s,
		send:         send,
		log:          s.logger(),
		peerConsumer: comch.InvalidConsumerID,
	}
}

// Done reports whether the connection is finished.
func (h *Handler) Done() bool { return h.done }

// Jobs returns the number of jobs completed on this connection.
func (h *Handler) Jobs() int { return h.jobs }

// Handle processes one inbound frame. done reports that the connection is
// over and the transport should close it; err is set when it ended because
// of a protocol or kernel failure.
func (h *Handler) Handle(f channel.Frame) (done bool, err error) {
	if h.done {
		return true, nil
	}
	if !h.accepted && f.Type != channel.FrameHello {
		return h.abort(ldpc.NewError(ldpc.KindPeerProtocol, ldpc.RuleMalformedRecord,
			fmt.Sprintf("%s frame before hello", f.Type)))
	}

	switch f.Type {
	case channel.FrameHello:
		return h.hello(string(f.Payload))
	case channel.FrameMessage:
		return h.message(f.Payload)
	case channel.FrameConsumerAdded:
		h.peerConsumer = f.Consumer
		return h.flush()
	case channel.FrameConsumerExpired:
		if h.peerConsumer == f.Consumer {
			h.peerConsumer = comch.InvalidConsumerID
		}
		return false, nil
	case channel.FrameBulk:
		return h.bulk(f)
	case channel.FrameBye:
		h.done = true
		h.log.Debug("peer closed", zap.Int("jobs", h.jobs))
		return true, nil
	default:
		return h.abort(ldpc.NewError(ldpc.KindPeerProtocol, ldpc.RuleMalformedRecord,
			fmt.Sprintf("unexpected %s frame", f.Type)))
	}
}

func (h *Handler) hello(service string) (bool, error) {
	if h.accepted {
		return h.abort(ldpc.NewError(ldpc.KindPeerProtocol, ldpc.RuleMalformedRecord, "duplicate hello"))
	}
	op, ok := ServiceOp(service)
	if !ok {
		h.done = true
		h.log.Info("rejecting connection", zap.String("service", service))
		return true, h.send(channel.Frame{Type: channel.FrameReject, Payload: []byte("unknown service " + service)})
	}
	h.op = op
	h.accepted = true
	h.log = h.log.With(zap.String("service", service))
	h.log.Debug("accepted connection")

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(h.svc.maxMessageSize()))
	return false, h.reply(channel.Frame{Type: channel.FrameAccept, Payload: payload})
}

func (h *Handler) message(msg []byte) (bool, error) {
	switch string(msg) {
	case comch.StartMarker:
		// The consumer is announced ahead of the echo so the client knows it
		// once SignalStart returns.
		if !h.announced {
			h.announced = true
			if err := h.reply(channel.Frame{Type: channel.FrameConsumerAdded, Consumer: ServerConsumerID}); err != nil {
				return true, err
			}
		}
		return false, h.reply(channel.Frame{Type: channel.FrameMessage, Payload: msg})
	case comch.StopMarker:
		if h.announced {
			h.announced = false
			if err := h.reply(channel.Frame{Type: channel.FrameConsumerExpired, Consumer: ServerConsumerID}); err != nil {
				return true, err
			}
		}
		if err := h.reply(channel.Frame{Type: channel.FrameMessage, Payload: msg}); err != nil {
			return true, err
		}
		h.done = true
		return true, h.send(channel.Frame{Type: channel.FrameBye})
	default:
		h.log.Debug("ignoring control message", zap.Int("bytes", len(msg)))
		return false, nil
	}
}

func (h *Handler) bulk(f channel.Frame) (bool, error) {
	if !h.announced || f.Consumer != ServerConsumerID {
		return h.abort(ldpc.NewError(ldpc.KindPeerProtocol, ldpc.RuleNoRemoteConsumer,
			fmt.Sprintf("bulk for consumer %d which is not announced", f.Consumer)))
	}
	jobID := uuid.NewString()
	log := h.log.With(zap.String("job", jobID), zap.Stringer("op", h.op))

	resp, err := Run(h.svc.kernel(), h.op, f.Payload)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		return h.abort(err)
	}
	h.jobs++
	log.Debug("job done",
		zap.String("request", journal.ContentIDString(f.Payload)),
		zap.String("response", journal.ContentIDString(resp)))
	h.svc.record(log, jobID, h.op, f.Payload, resp)

	h.pending = append(h.pending, resp)
	return h.flush()
}

// flush sends queued responses once the peer consumer is known.
func (h *Handler) flush() (bool, error) {
	for len(h.pending) > 0 && h.peerConsumer != comch.InvalidConsumerID {
		resp := h.pending[0]
		h.pending = h.pending[1:]
		if err := h.reply(channel.Frame{Type: channel.FrameBulk, Consumer: h.peerConsumer, Payload: resp}); err != nil {
			return true, err
		}
	}
	return false, nil
}

func (h *Handler) reply(f channel.Frame) error {
	if err := h.send(f); err != nil {
		h.done = true
		return fmt.Errorf("accel: send %s: %w", f.Type, err)
	}
	return nil
}

// abort ends the connection with a bye and returns cause.
func (h *Handler) abort(cause error) (bool, error) {
	h.done = true
	if err := h.send(channel.Frame{Type: channel.FrameBye}); err != nil {
		h.log.Debug("bye not delivered", zap.Error(err))
	}
	return true, cause
}
