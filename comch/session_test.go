package comch_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/channel"
	"xdao.co/ldpcoffload/comch/loopback"
	"xdao.co/ldpcoffload/comch/testkit"
	"xdao.co/ldpcoffload/ldpc"
)

func newProvider(t *testing.T) *loopback.Provider {
	t.Helper()
	log := zaptest.NewLogger(t)
	return &loopback.Provider{
		Service: &accel.Service{Kernel: accel.IdentityKernel{}, Logger: log},
		Logger:  log,
	}
}

func TestLoopback_Conformance(t *testing.T) {
	testkit.RunProviderConformance(t, func(t *testing.T) testkit.Target {
		return testkit.Target{Provider: newProvider(t), Device: loopback.DefaultDevice}
	})
}

func ctxFor(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func open(t *testing.T, p comch.Provider, service string) *comch.Session {
	t.Helper()
	s, err := comch.Open(ctxFor(t, 5*time.Second), p, comch.SessionConfig{
		DeviceAddr: loopback.DefaultDevice,
		Service:    service,
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Teardown() })
	return s
}

func encodeRecord(t *testing.T) []byte {
	t.Helper()
	v, _ := ldpc.LookupVector("128")
	req, err := ldpc.EncodeRequest(ldpc.OpEncode, v.Bytes(), ldpc.BG1, 8, ldpc.Extra{K: 128, Filler: 48})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	b, err := ldpc.MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	return b
}

func wantRule(t *testing.T, err error, kind ldpc.Kind, rule string) {
	t.Helper()
	if !ldpc.IsKind(err, kind) || ldpc.RuleID(err) != rule {
		t.Fatalf("got %v (kind rule %s), want %s %s", err, ldpc.RuleID(err), kind, rule)
	}
}

func TestOpen_Validation(t *testing.T) {
	ctx := ctxFor(t, time.Second)
	_, err := comch.Open(ctx, nil, comch.SessionConfig{Service: accel.EncodeService})
	wantRule(t, err, ldpc.KindConfiguration, ldpc.RuleInvalidConfig)

	_, err = comch.Open(ctx, newProvider(t), comch.SessionConfig{DeviceAddr: loopback.DefaultDevice})
	wantRule(t, err, ldpc.KindConfiguration, ldpc.RuleInvalidConfig)
}

func TestOpen_DeviceOpenFailed(t *testing.T) {
	p := newProvider(t)
	p.Devices = []string{"04:00.0"}
	_, err := comch.Open(ctxFor(t, time.Second), p, comch.SessionConfig{DeviceAddr: loopback.DefaultDevice, Service: accel.EncodeService})
	wantRule(t, err, ldpc.KindConnection, ldpc.RuleDeviceOpenFailed)
	if !errors.Is(err, loopback.ErrUnknownDevice) {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestOpen_RejectedService(t *testing.T) {
	_, err := comch.Open(ctxFor(t, time.Second), newProvider(t), comch.SessionConfig{DeviceAddr: loopback.DefaultDevice, Service: "bogus"})
	wantRule(t, err, ldpc.KindConnection, ldpc.RuleConnectFailed)
}

func TestSession_StatesThroughJob(t *testing.T) {
	s := open(t, newProvider(t), accel.EncodeService)
	if s.State() != comch.Established {
		t.Fatalf("state %s after Open", s.State())
	}
	if s.RemoteConsumer() != comch.InvalidConsumerID {
		t.Fatalf("remote consumer known before start")
	}
	ctx := ctxFor(t, 5*time.Second)
	if err := s.SignalStart(ctx); err != nil {
		t.Fatalf("SignalStart: %v", err)
	}
	if s.RemoteConsumer() != accel.ServerConsumerID {
		t.Fatalf("remote consumer %d after start", s.RemoteConsumer())
	}

	record := encodeRecord(t)
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		t.Fatalf("OpenExchange: %v", err)
	}
	err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize})
	wantRule(t, err, ldpc.KindTransfer, ldpc.RuleExchangeBusy)

	_, err = s.RecvResponse(ctx)
	wantRule(t, err, ldpc.KindTransfer, ldpc.RuleNoOutstandingRequest)

	err = s.SendRequest(ctx, make([]byte, len(record)+1))
	wantRule(t, err, ldpc.KindConfiguration, ldpc.RuleCapacityExceeded)

	for i := 0; i < 2; i++ {
		if err := s.SendRequest(ctx, record); err != nil {
			t.Fatalf("SendRequest(%d): %v", i, err)
		}
		b, err := s.RecvResponse(ctx)
		if err != nil {
			t.Fatalf("RecvResponse(%d): %v", i, err)
		}
		if len(b) != ldpc.ResponseRecordSize {
			t.Fatalf("response of %d bytes", len(b))
		}
		v, _ := ldpc.LookupVector("128")
		if !bytes.Equal(b[:16], v.Bytes()) {
			t.Fatalf("response does not carry the systematic bits")
		}
	}

	if err := s.CloseExchange(); err != nil {
		t.Fatalf("CloseExchange: %v", err)
	}
	if err := s.SignalStop(ctx); err != nil {
		t.Fatalf("SignalStop: %v", err)
	}
	if s.RemoteConsumer() != comch.InvalidConsumerID {
		t.Fatalf("remote consumer still cached after stop")
	}
	if s.State() != comch.Draining && s.State() != comch.Closed {
		t.Fatalf("state %s after stop", s.State())
	}
	if err := s.SignalStop(ctx); err != nil {
		t.Fatalf("repeated SignalStop: %v", err)
	}
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if s.State() != comch.Closed {
		t.Fatalf("state %s after drain", s.State())
	}
	if s.Err() != nil {
		t.Fatalf("unexpected recorded failure: %v", s.Err())
	}
}

func TestSendRequest_NoRemoteConsumer(t *testing.T) {
	s := open(t, newProvider(t), accel.EncodeService)
	record := encodeRecord(t)
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		t.Fatalf("OpenExchange: %v", err)
	}
	err := s.SendRequest(ctxFor(t, time.Second), record)
	wantRule(t, err, ldpc.KindTransfer, ldpc.RuleNoRemoteConsumer)
}

func TestRecvResponse_BeforeExchange(t *testing.T) {
	s := open(t, newProvider(t), accel.EncodeService)
	_, err := s.RecvResponse(ctxFor(t, time.Second))
	wantRule(t, err, ldpc.KindTransfer, ldpc.RuleNoRemoteConsumer)
}

func TestSignalStart_NotEchoed(t *testing.T) {
	p := newProvider(t)
	p.Filter = func(dir loopback.Direction, f channel.Frame) bool {
		return !(dir == loopback.FromPeer && f.Type == channel.FrameMessage)
	}
	s := open(t, p, accel.EncodeService)
	err := s.SignalStart(ctxFor(t, 50*time.Millisecond))
	wantRule(t, err, ldpc.KindPeerProtocol, ldpc.RuleStartNotEchoed)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline not preserved: %v", err)
	}
}

func TestSignalStop_PeerNeverEchoes(t *testing.T) {
	p := newProvider(t)
	p.Filter = func(dir loopback.Direction, f channel.Frame) bool {
		if dir != loopback.FromPeer {
			return true
		}
		if f.Type == channel.FrameMessage && string(f.Payload) == comch.StopMarker {
			return false
		}
		return f.Type != channel.FrameBye
	}
	s := open(t, p, accel.EncodeService)
	if err := s.SignalStart(ctxFor(t, time.Second)); err != nil {
		t.Fatalf("SignalStart: %v", err)
	}
	err := s.SignalStop(ctxFor(t, 50*time.Millisecond))
	wantRule(t, err, ldpc.KindPeerProtocol, ldpc.RuleStopNotEchoed)

	if err := s.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if s.State() != comch.Closed {
		t.Fatalf("state %s after teardown", s.State())
	}
}

func TestRecvResponse_Timeout(t *testing.T) {
	p := newProvider(t)
	p.Filter = func(dir loopback.Direction, f channel.Frame) bool {
		return !(dir == loopback.FromPeer && f.Type == channel.FrameBulk)
	}
	s := open(t, p, accel.EncodeService)
	ctx := ctxFor(t, time.Second)
	if err := s.SignalStart(ctx); err != nil {
		t.Fatalf("SignalStart: %v", err)
	}
	record := encodeRecord(t)
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		t.Fatalf("OpenExchange: %v", err)
	}
	if err := s.SendRequest(ctx, record); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	_, err := s.RecvResponse(ctxFor(t, 50*time.Millisecond))
	wantRule(t, err, ldpc.KindTransfer, ldpc.RuleTimeout)
}

func TestSendRequest_PeerAborts(t *testing.T) {
	s := open(t, newProvider(t), accel.EncodeService)
	ctx := ctxFor(t, time.Second)
	if err := s.SignalStart(ctx); err != nil {
		t.Fatalf("SignalStart: %v", err)
	}
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: 64, ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		t.Fatalf("OpenExchange: %v", err)
	}
	// A truncated record makes the accelerator drop the connection.
	err := s.SendRequest(ctx, make([]byte, 64))
	if !ldpc.IsKind(err, ldpc.KindTransfer) {
		t.Fatalf("got %v want Transfer error", err)
	}
	if s.State() != comch.Closed {
		t.Fatalf("state %s after peer abort", s.State())
	}
	if _, err := s.RecvResponse(ctx); err == nil {
		t.Fatalf("RecvResponse succeeded on a closed session")
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
}
