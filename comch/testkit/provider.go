// Package testkit holds the conformance suite every comch.Provider must pass.
// The provider under test must be backed by accel.IdentityKernel.
package testkit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/ldpc"
)

const (
	encodeService = "nrLDPC_encod_server"
	decodeService = "nrLDPC_decod_server"
)

// Target is a provider plus a device address it accepts.
type Target struct {
	Provider comch.Provider
	Device   string
}

// NewTarget constructs a fresh provider for a test. Cleanup is registered on t.
type NewTarget func(t *testing.T) Target

func RunProviderConformance(t *testing.T, newTarget NewTarget) {
	t.Helper()

	t.Run("EncodeRoundTrip", func(t *testing.T) {
		for _, name := range []string{"64a", "112", "128", "512"} {
			v, ok := ldpc.LookupVector(name)
			if !ok {
				t.Fatalf("missing vector %q", name)
			}
			z, filler := 96, 0
			switch {
			case v.K == 512:
				filler = 22*96 - 512
			case v.K <= 64:
				z = 8
			}
			req, err := ldpc.EncodeRequest(ldpc.OpEncode, v.Bytes(), ldpc.BG1, z, ldpc.Extra{K: v.K, Filler: filler})
			if err != nil {
				t.Fatalf("%s: EncodeRequest: %v", name, err)
			}
			resp := runJob(t, newTarget(t), encodeService, req)
			got, err := ldpc.DecodeResponse(resp, req.ResponseBits())
			if err != nil {
				t.Fatalf("%s: DecodeResponse: %v", name, err)
			}
			if !bytes.Equal(got[:len(v.Bytes())], v.Bytes()) {
				t.Fatalf("%s: systematic prefix mismatch", name)
			}
			for i, b := range got[len(v.Bytes()):] {
				if b != 0 {
					t.Fatalf("%s: parity byte %d is %#x, want 0", name, i, b)
				}
			}
		}
	})

	t.Run("DecodeRoundTrip", func(t *testing.T) {
		llrs := make([]byte, 68*96)
		for i := range llrs {
			llrs[i] = byte(i * 7)
		}
		req, err := ldpc.EncodeRequest(ldpc.OpDecode, llrs, ldpc.BG1, 96, ldpc.Extra{KPrime: 904, Iterations: 10})
		if err != nil {
			t.Fatalf("EncodeRequest: %v", err)
		}
		resp := runJob(t, newTarget(t), decodeService, req)
		got, err := ldpc.DecodeResponse(resp, 904)
		if err != nil {
			t.Fatalf("DecodeResponse: %v", err)
		}
		if !bytes.Equal(got, llrs[:113]) {
			t.Fatalf("decoded payload mismatch")
		}
	})

	t.Run("UnknownServiceFailsToConnect", func(t *testing.T) {
		tgt := newTarget(t)
		_, err := comch.Open(testContext(t), tgt.Provider, comch.SessionConfig{DeviceAddr: tgt.Device, Service: "no-such-service"})
		if !ldpc.IsKind(err, ldpc.KindConnection) {
			t.Fatalf("Open: got %v want Connection error", err)
		}
	})

	t.Run("TeardownIdempotent", func(t *testing.T) {
		tgt := newTarget(t)
		s, err := comch.Open(testContext(t), tgt.Provider, comch.SessionConfig{DeviceAddr: tgt.Device, Service: encodeService})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.SignalStart(testContext(t)); err != nil {
			t.Fatalf("SignalStart: %v", err)
		}
		if err := s.Teardown(); err != nil {
			t.Fatalf("Teardown: %v", err)
		}
		if err := s.Teardown(); err != nil {
			t.Fatalf("second Teardown: %v", err)
		}
		if s.State() != comch.Closed {
			t.Fatalf("state %s after teardown", s.State())
		}
	})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func runJob(t *testing.T, tgt Target, service string, req ldpc.JobRequest) ldpc.JobResponse {
	t.Helper()
	ctx := testContext(t)
	record, err := ldpc.MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	s, err := comch.Open(ctx, tgt.Provider, comch.SessionConfig{DeviceAddr: tgt.Device, Service: service})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		if err := s.Teardown(); err != nil {
			t.Fatalf("Teardown: %v", err)
		}
	}()

	if err := s.SignalStart(ctx); err != nil {
		t.Fatalf("SignalStart: %v", err)
	}
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		t.Fatalf("OpenExchange: %v", err)
	}
	if err := s.SendRequest(ctx, record); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	b, err := s.RecvResponse(ctx)
	if err != nil {
		t.Fatalf("RecvResponse: %v", err)
	}
	if err := s.CloseExchange(); err != nil {
		t.Fatalf("CloseExchange: %v", err)
	}
	if err := s.SignalStop(ctx); err != nil {
		t.Fatalf("SignalStop: %v", err)
	}
	if s.RemoteConsumer() != comch.InvalidConsumerID {
		t.Fatalf("remote consumer %d still cached after stop", s.RemoteConsumer())
	}
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if s.State() != comch.Closed {
		t.Fatalf("state %s after drain", s.State())
	}
	resp, err := ldpc.UnmarshalResponse(b)
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	return resp
}
