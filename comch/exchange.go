package comch

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/ldpcoffload/ldpc"
)

// ExchangeConfig sizes the buffer exchange pair.
type ExchangeConfig struct {
	// RequestSize is the largest outbound record.
	RequestSize int
	// ResponseSize is the largest inbound record.
	ResponseSize int
	// Buffers is the slot count of each pool. Zero means one.
	Buffers int
}

// exchange is the producer/consumer endpoint pair with their regions.
type exchange struct {
	cfg ExchangeConfig

	producer Producer
	consumer Consumer

	sendRegion *Region
	recvRegion *Region
	sendPool   *BufferPool
	recvPool   *BufferPool
	recvBuf    *Buffer
}

// OpenExchange binds a producer and a consumer endpoint to the session, each
// backed by its own registered region, and posts the receive buffer. It must
// follow SignalStart; a session holds at most one exchange.
func (s *Session) OpenExchange(cfg ExchangeConfig) error {
	if err := s.requireEstablished(); err != nil {
		return err
	}
	if s.ex != nil {
		return ldpc.NewError(ldpc.KindTransfer, ldpc.RuleExchangeBusy, "a buffer exchange is already open")
	}
	if cfg.RequestSize <= 0 || cfg.ResponseSize <= 0 {
		return ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig,
			fmt.Sprintf("invalid exchange sizes %d/%d", cfg.RequestSize, cfg.ResponseSize))
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 1
	}

	ex := &exchange{cfg: cfg}
	if err := ex.open(s.conn, s.cfg.LockMemory); err != nil {
		_ = ex.close()
		return s.record(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "open buffer exchange", err))
	}
	s.ex = ex
	s.bulkAcked = false
	s.recvDone = false
	s.requestInFlight = false
	return nil
}

func (ex *exchange) open(conn Conn, lock bool) error {
	var err error
	if ex.sendRegion, err = NewRegion(ex.cfg.RequestSize*ex.cfg.Buffers, lock); err != nil {
		return err
	}
	if ex.sendPool, err = NewBufferPool(ex.sendRegion, ex.cfg.RequestSize, ex.cfg.Buffers); err != nil {
		return err
	}
	if ex.recvRegion, err = NewRegion(ex.cfg.ResponseSize*ex.cfg.Buffers, lock); err != nil {
		return err
	}
	if ex.recvPool, err = NewBufferPool(ex.recvRegion, ex.cfg.ResponseSize, ex.cfg.Buffers); err != nil {
		return err
	}
	if ex.producer, err = conn.NewProducer(); err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	if ex.consumer, err = conn.NewConsumer(); err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	if ex.recvBuf, err = ex.recvPool.Get(); err != nil {
		return err
	}
	if err := ex.consumer.PostRecv(ex.recvBuf.Bytes()); err != nil {
		return fmt.Errorf("post receive buffer: %w", err)
	}
	return nil
}

// close releases endpoints first, then buffers and regions. Nil-safe.
func (ex *exchange) close() error {
	if ex == nil {
		return nil
	}
	var errs []error
	if ex.producer != nil {
		errs = append(errs, ex.producer.Close())
		ex.producer = nil
	}
	if ex.consumer != nil {
		errs = append(errs, ex.consumer.Close())
		ex.consumer = nil
	}
	ex.recvBuf.Release()
	ex.recvBuf = nil
	errs = append(errs, ex.sendRegion.Close(), ex.recvRegion.Close())
	return errors.Join(errs...)
}

// CloseExchange destroys the exchange pair. It is idempotent.
func (s *Session) CloseExchange() error {
	if s.ex == nil {
		return nil
	}
	err := s.ex.close()
	s.ex = nil
	s.requestInFlight = false
	return err
}

// SendRequest copies record into a registered buffer and submits it to the
// remote consumer, polling until the local send task is acknowledged.
func (s *Session) SendRequest(ctx context.Context, record []byte) error {
	if err := s.requireEstablished(); err != nil {
		return err
	}
	if s.remoteConsumer == InvalidConsumerID {
		return ldpc.NewError(ldpc.KindTransfer, ldpc.RuleNoRemoteConsumer, "no remote consumer has been announced")
	}
	if s.ex == nil {
		return ldpc.NewError(ldpc.KindTransfer, ldpc.RuleSendFailed, "no buffer exchange is open")
	}
	if len(record) > s.ex.cfg.RequestSize {
		return ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleCapacityExceeded,
			fmt.Sprintf("record of %d bytes exceeds exchange buffer %d", len(record), s.ex.cfg.RequestSize))
	}

	buf, err := s.ex.sendPool.Get()
	if err != nil {
		return s.record(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "acquire send buffer", err))
	}
	defer buf.Release()
	n := copy(buf.Bytes(), record)

	s.bulkAcked = false
	s.recvDone = false
	if err := s.ex.producer.Send(s.remoteConsumer, buf.Bytes()[:n]); err != nil {
		err = ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "submit request", err)
		s.fail(err)
		return err
	}
	if err := s.await(ctx, func() bool { return s.bulkAcked },
		ldpc.KindTransfer, ldpc.RuleSendFailed, "session closed before the request was acknowledged"); err != nil {
		return err
	}
	s.requestInFlight = true
	return nil
}

// RecvResponse polls until the inbound transfer completes and returns a copy
// of the received bytes. It fails with NoRemoteConsumer when no peer endpoint
// is known, NoOutstandingRequest when no request was acknowledged, and a
// Timeout-class Transfer error when the session closes first.
func (s *Session) RecvResponse(ctx context.Context) ([]byte, error) {
	if s.ex == nil || s.remoteConsumer == InvalidConsumerID {
		return nil, ldpc.NewError(ldpc.KindTransfer, ldpc.RuleNoRemoteConsumer, "no remote consumer has been announced")
	}
	if !s.requestInFlight {
		return nil, ldpc.NewError(ldpc.KindTransfer, ldpc.RuleNoOutstandingRequest, "no request is outstanding")
	}
	if err := s.await(ctx, func() bool { return s.recvDone },
		ldpc.KindTransfer, ldpc.RuleTimeout, "session closed before the response arrived"); err != nil {
		return nil, err
	}
	s.requestInFlight = false
	s.recvDone = false
	out := make([]byte, s.recvN)
	copy(out, s.ex.recvBuf.Bytes()[:s.recvN])
	if err := s.ex.consumer.PostRecv(s.ex.recvBuf.Bytes()); err != nil {
		s.record(ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleRecvFailed, "repost receive buffer", err))
	}
	return out, nil
}
