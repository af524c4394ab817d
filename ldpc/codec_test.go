package ldpc

import (
	"bytes"
	"errors"
	"testing"
)

func TestDerivedLength_Table(t *testing.T) {
	for _, z := range LiftingSizes() {
		for _, g := range []Graph{BG1, BG2} {
			n, err := DerivedLength(g, z)
			if err != nil {
				t.Fatalf("DerivedLength(%s, %d): %v", g, z, err)
			}
			want := 68 * z
			if g == BG2 {
				want = 52 * z
			}
			if n != want {
				t.Fatalf("DerivedLength(%s, %d) = %d, want %d", g, z, n, want)
			}
		}
	}
}

func TestLiftingSizes(t *testing.T) {
	sizes := LiftingSizes()
	if len(sizes) != 51 {
		t.Fatalf("expected 51 lifting sizes, got %d", len(sizes))
	}
	if sizes[0] != 2 || sizes[len(sizes)-1] != MaxExpansion {
		t.Fatalf("unexpected bounds %d..%d", sizes[0], sizes[len(sizes)-1])
	}
	for _, z := range []int{2, 8, 15, 96, 128, 240, 384} {
		if !IsLiftingSize(z) {
			t.Fatalf("expected %d to be a lifting size", z)
		}
	}
	for _, z := range []int{0, 1, 17, 97, 385, 768} {
		if IsLiftingSize(z) {
			t.Fatalf("expected %d to be rejected", z)
		}
	}
}

func TestEncodeRequest_DecodeExpansion96(t *testing.T) {
	llrs := make([]byte, 100)
	for _, tc := range []struct {
		g    Graph
		want uint32
	}{
		{BG1, 6528},
		{BG2, 4992},
	} {
		req, err := EncodeRequest(OpDecode, llrs, tc.g, 96, Extra{KPrime: 904, Iterations: 10})
		if err != nil {
			t.Fatalf("EncodeRequest(%s): %v", tc.g, err)
		}
		if req.N != tc.want {
			t.Fatalf("N for %s = %d, want %d", tc.g, req.N, tc.want)
		}
		if req.Input.Len() != len(llrs) || req.Input.Cap() != InputCapacity {
			t.Fatalf("unexpected input buffer len=%d cap=%d", req.Input.Len(), req.Input.Cap())
		}
	}
}

func TestEncodeRequest_ConfigurationErrors(t *testing.T) {
	ok := make([]byte, 16)
	cases := []struct {
		name  string
		op    Op
		raw   []byte
		g     Graph
		z     int
		extra Extra
		rule  string
	}{
		{"graph0", OpDecode, ok, 0, 96, Extra{KPrime: 8, Iterations: 1}, RuleInvalidGraphSelector},
		{"graph3", OpEncode, ok, 3, 8, Extra{K: 64}, RuleInvalidGraphSelector},
		{"expansion", OpEncode, ok, BG1, 17, Extra{K: 64}, RuleInvalidExpansion},
		{"oversizedInput", OpEncode, make([]byte, InputCapacity+1), BG1, 8, Extra{K: 64}, RuleCapacityExceeded},
		{"derivedLength", OpDecode, ok, BG1, 128, Extra{KPrime: 8, Iterations: 1}, RuleCapacityExceeded},
		{"llrsBeyondN", OpDecode, make([]byte, 545), BG1, 8, Extra{KPrime: 8, Iterations: 1}, RuleCapacityExceeded},
		{"misaligned", OpDecode, ok, BG1, 96, Extra{KPrime: 903, Iterations: 1}, RuleMisalignedPayload},
		{"iterations", OpDecode, ok, BG1, 96, Extra{KPrime: 904}, RuleInvalidIterations},
		{"zeroK", OpEncode, ok, BG1, 8, Extra{}, RuleInvalidBlockLength},
		{"shortInput", OpEncode, ok, BG1, 8, Extra{K: 136}, RuleInvalidBlockLength},
		{"filler", OpEncode, ok, BG1, 8, Extra{K: 128, Filler: 49}, RuleInvalidBlockLength},
		{"codeword", OpEncode, ok, BG1, 256, Extra{K: 128}, RuleCapacityExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeRequest(tc.op, tc.raw, tc.g, tc.z, tc.extra)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !IsKind(err, KindConfiguration) {
				t.Fatalf("expected KindConfiguration, got %v", err)
			}
			if got := RuleID(err); got != tc.rule {
				t.Fatalf("expected RuleID %s, got %s (%v)", tc.rule, got, err)
			}
		})
	}
}

func TestEncodeRequest_EncodeHarnessExample(t *testing.T) {
	v, _ := LookupVector("128")
	req, err := EncodeRequest(OpEncode, v.Bytes(), BG1, 8, Extra{K: 128, Filler: 48})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if req.K != 128 || req.Filler != 48 || req.Expansion != 8 {
		t.Fatalf("unexpected request %+v", req)
	}
	if got := req.ResponseBits(); got != 66*8 {
		t.Fatalf("ResponseBits = %d, want %d", got, 66*8)
	}
	if !bytes.Equal(req.Input.Bytes(), v.Bytes()) {
		t.Fatalf("input mismatch")
	}
}

func TestEncodeRequest_TrimsInputToK(t *testing.T) {
	raw := bytes.Repeat([]byte{0xff}, 32)
	req, err := EncodeRequest(OpEncode, raw, BG1, 8, Extra{K: 64})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if req.Input.Len() != 8 {
		t.Fatalf("expected 8 meaningful bytes, got %d", req.Input.Len())
	}
	if req.Input.Raw()[8] != 0 {
		t.Fatalf("expected zero fill beyond logical length")
	}
}

func TestDecodeResponse(t *testing.T) {
	out := make([]byte, OutputCapacity)
	for i := range out {
		out[i] = byte(i)
	}
	resp, err := NewJobResponse(out)
	if err != nil {
		t.Fatalf("NewJobResponse: %v", err)
	}

	got, err := DecodeResponse(resp, 904)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !bytes.Equal(got, out[:113]) {
		t.Fatalf("payload mismatch")
	}
	got[0] = 0xaa
	if resp.Output.Raw()[0] != 0 {
		t.Fatalf("DecodeResponse must return a copy")
	}

	for _, bits := range []int{1, 7, 9, 903, -8} {
		got, err := DecodeResponse(resp, bits)
		if RuleID(err) != RuleMisalignedPayload {
			t.Fatalf("bits=%d: expected MisalignedPayload, got %v", bits, err)
		}
		if got != nil {
			t.Fatalf("bits=%d: expected no partial copy", bits)
		}
	}

	if _, err := DecodeResponse(resp, 8*(OutputCapacity+1)); RuleID(err) != RuleCapacityExceeded {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
}

func TestBuffer_SetRejectsOverflow(t *testing.T) {
	b := NewBuffer(4)
	if err := b.Set([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := b.Set([]byte{1, 2, 3, 4, 5})
	var e *Error
	if !errors.As(err, &e) || e.RuleID != RuleCapacityExceeded {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("failed Set must leave the buffer unchanged")
	}
	if err := b.Set([]byte{9}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !bytes.Equal(b.Raw(), []byte{9, 0, 0, 0}) {
		t.Fatalf("expected stale bytes cleared, got %v", b.Raw())
	}
}
