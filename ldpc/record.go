package ldpc

import (
	"encoding/binary"
	"fmt"
)

// Record sizes. Fields follow the accelerator's native struct alignment:
// a one-byte graph selector is followed by three pad bytes.
const (
	EncodeRecordSize   = InputCapacity + 16
	DecodeRecordSize   = InputCapacity + 24
	ResponseRecordSize = OutputCapacity
)

// Field offsets after the fixed input block.
const (
	encOffGraph  = InputCapacity
	encOffZ      = InputCapacity + 4
	encOffK      = InputCapacity + 8
	encOffFiller = InputCapacity + 12

	decOffN     = InputCapacity
	decOffKP    = InputCapacity + 4
	decOffGraph = InputCapacity + 8
	decOffZ     = InputCapacity + 12
	decOffCRC   = InputCapacity + 16
	decOffIters = InputCapacity + 20
)

// RecordSize returns the request record size for op, or 0 if op is unknown.
func RecordSize(op Op) int {
	switch op {
	case OpEncode:
		return EncodeRecordSize
	case OpDecode:
		return DecodeRecordSize
	default:
		return 0
	}
}

// MarshalRequest serializes req into its fixed-layout record.
//
// The decode record carries K' in bytes and a zero CRC index.
func MarshalRequest(req JobRequest) ([]byte, error) {
	if req.Input.Cap() != InputCapacity {
		return nil, NewError(KindInternal, RuleMalformedRecord, "request input is not a full-capacity buffer")
	}
	le := binary.LittleEndian
	switch req.Op {
	case OpEncode:
		b := make([]byte, EncodeRecordSize)
		copy(b, req.Input.Raw())
		b[encOffGraph] = byte(req.Graph)
		le.PutUint32(b[encOffZ:], req.Expansion)
		le.PutUint32(b[encOffK:], req.K)
		le.PutUint32(b[encOffFiller:], req.Filler)
		return b, nil
	case OpDecode:
		b := make([]byte, DecodeRecordSize)
		copy(b, req.Input.Raw())
		le.PutUint32(b[decOffN:], req.N)
		le.PutUint32(b[decOffKP:], req.KPrime/8)
		b[decOffGraph] = byte(req.Graph)
		le.PutUint32(b[decOffZ:], req.Expansion)
		le.PutUint32(b[decOffCRC:], 0)
		le.PutUint32(b[decOffIters:], req.Iterations)
		return b, nil
	default:
		return nil, configError(RuleInvalidConfig, fmt.Sprintf("unknown job kind %d", uint8(req.Op)))
	}
}

// UnmarshalRequest parses a request record for op. It is used by the
// accelerator side. The input logical length is the meaningful prefix:
// ceil(K/8) for encode and N for decode.
func UnmarshalRequest(op Op, b []byte) (JobRequest, error) {
	if want := RecordSize(op); want == 0 || len(b) != want {
		return JobRequest{}, NewError(KindPeerProtocol, RuleMalformedRecord, fmt.Sprintf("%s record has %d bytes", op, len(b)))
	}
	le := binary.LittleEndian
	req := JobRequest{Op: op, Input: NewBuffer(InputCapacity)}
	var n int
	switch op {
	case OpEncode:
		req.Graph = Graph(b[encOffGraph])
		req.Expansion = le.Uint32(b[encOffZ:])
		req.K = le.Uint32(b[encOffK:])
		req.Filler = le.Uint32(b[encOffFiller:])
		n = bytesForBits(int(req.K))
	case OpDecode:
		req.N = le.Uint32(b[decOffN:])
		req.KPrime = le.Uint32(b[decOffKP:]) * 8
		req.Graph = Graph(b[decOffGraph])
		req.Expansion = le.Uint32(b[decOffZ:])
		req.Iterations = le.Uint32(b[decOffIters:])
		n = int(req.N)
	}
	if !req.Graph.Valid() {
		return JobRequest{}, WrapError(KindPeerProtocol, RuleMalformedRecord, "record carries an invalid graph",
			configError(RuleInvalidGraphSelector, fmt.Sprintf("invalid graph selector %d", uint8(req.Graph))))
	}
	if n > InputCapacity {
		return JobRequest{}, NewError(KindPeerProtocol, RuleMalformedRecord, fmt.Sprintf("meaningful input of %d bytes exceeds capacity", n))
	}
	if err := req.Input.Set(b[:n]); err != nil {
		return JobRequest{}, err
	}
	return req, nil
}

// MarshalResponse serializes resp into its fixed-layout record.
func MarshalResponse(resp JobResponse) []byte {
	b := make([]byte, ResponseRecordSize)
	copy(b, resp.Output.Raw())
	return b
}

// UnmarshalResponse parses a response record. The logical length is the
// whole block; callers cut it with DecodeResponse.
func UnmarshalResponse(b []byte) (JobResponse, error) {
	if len(b) != ResponseRecordSize {
		return JobResponse{}, NewError(KindPeerProtocol, RuleMalformedRecord, fmt.Sprintf("response record has %d bytes", len(b)))
	}
	return NewJobResponse(b)
}
