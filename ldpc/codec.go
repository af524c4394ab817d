package ldpc

import "fmt"

// Op is the kind of accelerator job.
type Op uint8

const (
	OpEncode Op = iota + 1
	OpDecode
)

func (o Op) String() string {
	switch o {
	case OpEncode:
		return "encode"
	case OpDecode:
		return "decode"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Buffer is a fixed-capacity byte buffer with a recorded logical length.
// Bytes beyond the logical length are zero.
type Buffer struct {
	data []byte
	n    int
}

// NewBuffer returns an empty, zero-filled buffer of the given capacity.
func NewBuffer(capacity int) Buffer {
	return Buffer{data: make([]byte, capacity)}
}

// Set replaces the logical content with p. It fails with CapacityExceeded
// when p does not fit, leaving the buffer unchanged.
func (b *Buffer) Set(p []byte) error {
	if len(p) > len(b.data) {
		return configError(RuleCapacityExceeded, fmt.Sprintf("%d bytes exceed buffer capacity %d", len(p), len(b.data)))
	}
	copy(b.data, p)
	clear(b.data[len(p):])
	b.n = len(p)
	return nil
}

// Bytes returns the logical prefix. The slice aliases the buffer.
func (b Buffer) Bytes() []byte { return b.data[:b.n] }

// Raw returns the whole fixed-capacity backing array.
func (b Buffer) Raw() []byte { return b.data }

func (b Buffer) Len() int { return b.n }
func (b Buffer) Cap() int { return len(b.data) }

// Extra carries the block-size parameters that depend on the job kind.
type Extra struct {
	// K is the information block length in bits (encode).
	K int
	// Filler is the number of filler bits appended to the block (encode).
	Filler int
	// KPrime is the payload bit count recovered by decoding (decode).
	KPrime int
	// Iterations bounds the decoder iterations (decode).
	Iterations int
}

// JobRequest is one accelerator invocation.
type JobRequest struct {
	Op        Op
	Input     Buffer
	Graph     Graph
	Expansion uint32

	// Encode parameters.
	K      uint32
	Filler uint32

	// Decode parameters. N is derived, never supplied by callers.
	N          uint32
	KPrime     uint32
	Iterations uint32
}

// ResponseBits is the byte-aligned count of meaningful response bits: the
// codeword length rounded up to whole bytes for encode, K' for decode.
func (r JobRequest) ResponseBits() int {
	switch r.Op {
	case OpEncode:
		cw, err := CodewordBits(r.Graph, int(r.Expansion))
		if err != nil {
			return 0
		}
		return 8 * bytesForBits(cw)
	case OpDecode:
		return int(r.KPrime)
	default:
		return 0
	}
}

// JobResponse is the fixed-capacity output of one job.
type JobResponse struct {
	Output Buffer
}

// NewJobResponse wraps output in a response buffer.
func NewJobResponse(output []byte) (JobResponse, error) {
	buf := NewBuffer(OutputCapacity)
	if err := buf.Set(output); err != nil {
		return JobResponse{}, err
	}
	return JobResponse{Output: buf}, nil
}

// EncodeRequest validates a caller's job description and builds the request.
// All checks run before any I/O; failures are KindConfiguration.
func EncodeRequest(op Op, raw []byte, g Graph, expansion int, extra Extra) (JobRequest, error) {
	if !g.Valid() {
		return JobRequest{}, configError(RuleInvalidGraphSelector, fmt.Sprintf("invalid graph selector %d", uint8(g)))
	}
	if !IsLiftingSize(expansion) {
		return JobRequest{}, configError(RuleInvalidExpansion, fmt.Sprintf("expansion %d is not a lifting size", expansion))
	}
	if len(raw) > InputCapacity {
		return JobRequest{}, configError(RuleCapacityExceeded, fmt.Sprintf("input of %d bytes exceeds capacity %d", len(raw), InputCapacity))
	}

	req := JobRequest{
		Op:        op,
		Input:     NewBuffer(InputCapacity),
		Graph:     g,
		Expansion: uint32(expansion),
	}

	switch op {
	case OpEncode:
		if err := checkEncode(raw, g, expansion, extra); err != nil {
			return JobRequest{}, err
		}
		req.K = uint32(extra.K)
		req.Filler = uint32(extra.Filler)
		raw = raw[:bytesForBits(extra.K)]
	case OpDecode:
		n := g.Columns() * expansion
		if n > InputCapacity {
			return JobRequest{}, configError(RuleCapacityExceeded, fmt.Sprintf("derived length %d exceeds capacity %d", n, InputCapacity))
		}
		if err := checkDecode(raw, n, extra); err != nil {
			return JobRequest{}, err
		}
		req.N = uint32(n)
		req.KPrime = uint32(extra.KPrime)
		req.Iterations = uint32(extra.Iterations)
	default:
		return JobRequest{}, configError(RuleInvalidConfig, fmt.Sprintf("unknown job kind %d", uint8(op)))
	}

	if err := req.Input.Set(raw); err != nil {
		return JobRequest{}, err
	}
	return req, nil
}

func checkEncode(raw []byte, g Graph, expansion int, extra Extra) error {
	if extra.K <= 0 {
		return configError(RuleInvalidBlockLength, "block length K must be positive")
	}
	if extra.Filler < 0 {
		return configError(RuleInvalidBlockLength, "filler bits must not be negative")
	}
	if need := bytesForBits(extra.K); need > len(raw) {
		return configError(RuleInvalidBlockLength, fmt.Sprintf("K=%d needs %d input bytes, got %d", extra.K, need, len(raw)))
	}
	if limit := g.SystematicColumns() * expansion; extra.K+extra.Filler > limit {
		return configError(RuleInvalidBlockLength, fmt.Sprintf("K+F=%d exceeds Kb*Z=%d", extra.K+extra.Filler, limit))
	}
	cw, err := CodewordBits(g, expansion)
	if err != nil {
		return err
	}
	if bytesForBits(cw) > OutputCapacity {
		return configError(RuleCapacityExceeded, fmt.Sprintf("codeword of %d bits exceeds output capacity %d", cw, OutputCapacity))
	}
	return nil
}

func checkDecode(raw []byte, n int, extra Extra) error {
	if len(raw) > n {
		return configError(RuleCapacityExceeded, fmt.Sprintf("%d LLRs exceed derived length %d", len(raw), n))
	}
	if extra.KPrime <= 0 {
		return configError(RuleInvalidBlockLength, "payload bits K' must be positive")
	}
	if extra.KPrime%8 != 0 {
		return configError(RuleMisalignedPayload, fmt.Sprintf("payload bits %d are not a multiple of 8", extra.KPrime))
	}
	if extra.KPrime/8 > OutputCapacity {
		return configError(RuleCapacityExceeded, fmt.Sprintf("payload of %d bytes exceeds output capacity %d", extra.KPrime/8, OutputCapacity))
	}
	if extra.Iterations <= 0 {
		return configError(RuleInvalidIterations, "iteration budget must be positive")
	}
	return nil
}

// DecodeResponse returns a copy of the first payloadBits/8 bytes of resp.
// It fails with MisalignedPayload, without copying, when payloadBits is not a
// multiple of 8.
func DecodeResponse(resp JobResponse, payloadBits int) ([]byte, error) {
	if payloadBits < 0 || payloadBits%8 != 0 {
		return nil, configError(RuleMisalignedPayload, fmt.Sprintf("payload bits %d are not a multiple of 8", payloadBits))
	}
	n := payloadBits / 8
	raw := resp.Output.Raw()
	if n > len(raw) {
		return nil, configError(RuleCapacityExceeded, fmt.Sprintf("payload of %d bytes exceeds output capacity %d", n, len(raw)))
	}
	out := make([]byte, n)
	copy(out, raw[:n])
	return out, nil
}
