package accel

import (
	"go.uber.org/zap"

	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/ldpc"
	"xdao.co/ldpcoffload/receipt"
)

// Accelerator service names.
const (
	EncodeService = "nrLDPC_encod_server"
	DecodeService = "nrLDPC_decod_server"
)

// ServiceFor returns the service name that runs op.
func ServiceFor(op ldpc.Op) string {
	switch op {
	case ldpc.OpEncode:
		return EncodeService
	case ldpc.OpDecode:
		return DecodeService
	default:
		return ""
	}
}

// ServiceOp maps a service name to its job kind.
func ServiceOp(name string) (ldpc.Op, bool) {
	switch name {
	case EncodeService:
		return ldpc.OpEncode, true
	case DecodeService:
		return ldpc.OpDecode, true
	default:
		return 0, false
	}
}

// Service holds what every connection handler shares.
type Service struct {
	Kernel Kernel
	// Journal, when set, records every completed job.
	Journal *journal.Journal
	// Signer, when set, signs a receipt for every journaled job.
	Signer *receipt.Signer
	// MaxMessageSize is advertised on accept. Zero uses ldpc.MaxMessageSize.
	MaxMessageSize int
	Logger         *zap.Logger
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) maxMessageSize() int {
	if s.MaxMessageSize <= 0 {
		return ldpc.MaxMessageSize
	}
	return s.MaxMessageSize
}

func (s *Service) kernel() Kernel {
	if s.Kernel == nil {
		return IdentityKernel{}
	}
	return s.Kernel
}

// record journals one job. Failures are logged and do not fail the job.
func (s *Service) record(log *zap.Logger, jobID string, op ldpc.Op, request, response []byte) {
	if s.Journal == nil {
		return
	}
	entry := journal.Entry{
		JobID:    jobID,
		Op:       op,
		Service:  ServiceFor(op),
		Request:  request,
		Response: response,
	}
	if s.Signer != nil {
		r, err := s.Signer.Sign(receipt.Receipt{
			JobID:    jobID,
			Op:       op.String(),
			Request:  journal.ContentIDString(request),
			Response: journal.ContentIDString(response),
		})
		if err != nil {
			log.Warn("sign receipt", zap.Error(err))
		} else if b, err := r.Marshal(); err != nil {
			log.Warn("encode receipt", zap.Error(err))
		} else {
			entry.Receipt = b
		}
	}
	id, _, err := s.Journal.Record(entry)
	if err != nil {
		log.Warn("journal job", zap.Error(err))
		return
	}
	log.Info("job journaled", zap.String("manifest", id.String()))
}
