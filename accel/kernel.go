// Package accel is the accelerator side of the channel protocol: it accepts
// connections for the encode and decode services, echoes the control markers,
// runs submitted jobs on a Kernel and sends the response record back.
package accel

import (
	"fmt"

	"xdao.co/ldpcoffload/ldpc"
)

// Kernel computes one job. Implementations receive a request whose Input
// logical length is the meaningful prefix and return at most
// ldpc.OutputCapacity bytes.
type Kernel interface {
	Encode(req ldpc.JobRequest) ([]byte, error)
	Decode(req ldpc.JobRequest) ([]byte, error)
}

// IdentityKernel is a systematic pass-through used in tests and bring-up:
// encode returns the information bytes zero-padded to the codeword length and
// decode returns the first K'/8 input bytes.
type IdentityKernel struct{}

func (IdentityKernel) Encode(req ldpc.JobRequest) ([]byte, error) {
	n := req.ResponseBits() / 8
	if n == 0 {
		return nil, fmt.Errorf("accel: no codeword length for %s Z=%d", req.Graph, req.Expansion)
	}
	out := make([]byte, n)
	copy(out, req.Input.Bytes())
	return out, nil
}

func (IdentityKernel) Decode(req ldpc.JobRequest) ([]byte, error) {
	if req.N > ldpc.MaxLLRs {
		return nil, fmt.Errorf("accel: %d LLRs exceed kernel limit %d", req.N, ldpc.MaxLLRs)
	}
	out := make([]byte, req.KPrime/8)
	copy(out, req.Input.Bytes())
	return out, nil
}

// Run parses a request record for op, runs it on k and returns the response
// record.
func Run(k Kernel, op ldpc.Op, record []byte) ([]byte, error) {
	req, err := ldpc.UnmarshalRequest(op, record)
	if err != nil {
		return nil, err
	}
	var out []byte
	switch op {
	case ldpc.OpEncode:
		out, err = k.Encode(req)
	case ldpc.OpDecode:
		out, err = k.Decode(req)
	default:
		return nil, ldpc.NewError(ldpc.KindInternal, ldpc.RuleInvalidConfig, fmt.Sprintf("unknown job kind %s", op))
	}
	if err != nil {
		return nil, ldpc.WrapError(ldpc.KindInternal, ldpc.RuleRecvFailed, fmt.Sprintf("%s kernel failed", op), err)
	}
	resp, err := ldpc.NewJobResponse(out)
	if err != nil {
		return nil, err
	}
	return ldpc.MarshalResponse(resp), nil
}
