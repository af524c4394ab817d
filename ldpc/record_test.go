package ldpc

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMarshalRequest_EncodeLayout(t *testing.T) {
	v, _ := LookupVector("64a")
	req, err := EncodeRequest(OpEncode, v.Bytes(), BG1, 8, Extra{K: 64, Filler: 112})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	b, err := MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	if len(b) != EncodeRecordSize {
		t.Fatalf("record size %d, want %d", len(b), EncodeRecordSize)
	}
	le := binary.LittleEndian
	if b[6528] != 1 {
		t.Fatalf("graph byte = %d", b[6528])
	}
	if b[6529] != 0 || b[6530] != 0 || b[6531] != 0 {
		t.Fatalf("expected zero padding after graph selector")
	}
	if z := le.Uint32(b[6532:]); z != 8 {
		t.Fatalf("z = %d", z)
	}
	if k := le.Uint32(b[6536:]); k != 64 {
		t.Fatalf("k = %d", k)
	}
	if f := le.Uint32(b[6540:]); f != 112 {
		t.Fatalf("filler = %d", f)
	}
	if diff := cmp.Diff(v.Bytes(), b[:8]); diff != "" {
		t.Fatalf("input block mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalRequest_DecodeLayout(t *testing.T) {
	llrs := []byte{0x7f, 0x81, 0x01, 0xff}
	req, err := EncodeRequest(OpDecode, llrs, BG2, 96, Extra{KPrime: 904, Iterations: 10})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	b, err := MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	if len(b) != DecodeRecordSize {
		t.Fatalf("record size %d, want %d", len(b), DecodeRecordSize)
	}
	le := binary.LittleEndian
	got := []uint32{
		le.Uint32(b[6528:]),
		le.Uint32(b[6532:]),
		uint32(b[6536]),
		le.Uint32(b[6540:]),
		le.Uint32(b[6544:]),
		le.Uint32(b[6548:]),
	}
	want := []uint32{4992, 113, 2, 96, 0, 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode header mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalRequest_RecoversParameters(t *testing.T) {
	v, _ := LookupVector("512")
	req, err := EncodeRequest(OpEncode, v.Bytes(), BG1, 96, Extra{K: 512, Filler: 1600})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	b, err := MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	got, err := UnmarshalRequest(OpEncode, b)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.Graph != BG1 || got.Expansion != 96 || got.K != 512 || got.Filler != 1600 {
		t.Fatalf("unexpected parameters %+v", got)
	}
	if diff := cmp.Diff(v.Bytes(), got.Input.Bytes()); diff != "" {
		t.Fatalf("input mismatch (-want +got):\n%s", diff)
	}

	dreq, err := EncodeRequest(OpDecode, v.Bytes(), BG1, 96, Extra{KPrime: 512, Iterations: 8})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	db, err := MarshalRequest(dreq)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	dgot, err := UnmarshalRequest(OpDecode, db)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if dgot.N != 6528 || dgot.KPrime != 512 || dgot.Iterations != 8 {
		t.Fatalf("unexpected decode parameters %+v", dgot)
	}
	if dgot.Input.Len() != 6528 {
		t.Fatalf("decode input length %d, want N", dgot.Input.Len())
	}
}

func TestUnmarshalRequest_Malformed(t *testing.T) {
	if _, err := UnmarshalRequest(OpEncode, make([]byte, 10)); RuleID(err) != RuleMalformedRecord {
		t.Fatalf("expected MalformedRecord for short record, got %v", err)
	}
	b := make([]byte, EncodeRecordSize)
	b[6528] = 7
	_, err := UnmarshalRequest(OpEncode, b)
	if !IsKind(err, KindPeerProtocol) || RuleID(err) != RuleMalformedRecord {
		t.Fatalf("expected PeerProtocol MalformedRecord, got %v", err)
	}
}

func TestResponseRecord(t *testing.T) {
	if _, err := UnmarshalResponse(make([]byte, 12)); RuleID(err) != RuleMalformedRecord {
		t.Fatalf("expected MalformedRecord, got %v", err)
	}
	resp, err := NewJobResponse([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewJobResponse: %v", err)
	}
	b := MarshalResponse(resp)
	if len(b) != ResponseRecordSize {
		t.Fatalf("response size %d", len(b))
	}
	back, err := UnmarshalResponse(b)
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	out, err := DecodeResponse(back, 24)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, out); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}
