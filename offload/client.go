// Package offload runs LDPC encode and decode jobs on a remote accelerator.
// Every job opens its own session, performs the start handshake, exchanges
// exactly one request and response, stops, drains and releases everything.
package offload

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/registry"
	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/ldpc"
)

// Client offloads jobs over a comch.Provider. Jobs on one Client may run
// concurrently; each owns its session.
type Client struct {
	provider comch.Provider
	closer   func() error
	cfg      Config
	log      *zap.Logger
}

// NewClient wraps an already opened provider.
func NewClient(p comch.Provider, cfg Config, log *zap.Logger) (*Client, error) {
	if p == nil {
		return nil, ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: nil provider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, ldpc.WrapError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: invalid config", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{provider: p, cfg: cfg, log: log}, nil
}

// Open opens the configured provider from the registry and wraps it.
func Open(cfg Config, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ldpc.WrapError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: invalid config", err)
	}
	p, closer, err := registry.OpenWithConfig(cfg.Provider, registry.UsageCLI, cfg.ProviderConfig)
	if err != nil {
		return nil, ldpc.WrapError(ldpc.KindConnection, ldpc.RuleDeviceOpenFailed,
			fmt.Sprintf("offload: open provider %q", cfg.Provider), err)
	}
	c, err := NewClient(p, cfg, log)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	c.closer = closer
	return c, nil
}

// Close releases the provider if the Client opened it.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	closer := c.closer
	c.closer = nil
	return closer()
}

// OffloadEncode encodes the first k bits of raw with fillerBits filler bits and
// returns the codeword, ceil((C-2)*Z/8) bytes.
func (c *Client) OffloadEncode(ctx context.Context, raw []byte, g ldpc.Graph, expansion, k, fillerBits int) ([]byte, error) {
	req, err := ldpc.EncodeRequest(ldpc.OpEncode, raw, g, expansion, ldpc.Extra{K: k, Filler: fillerBits})
	if err != nil {
		return nil, err
	}
	return c.run(ctx, c.cfg.EncodeService, req)
}

// OffloadDecode decodes llrs and returns the kprimeBits/8 payload bytes.
func (c *Client) OffloadDecode(ctx context.Context, llrs []byte, g ldpc.Graph, expansion, kprimeBits, maxIterations int) ([]byte, error) {
	req, err := ldpc.EncodeRequest(ldpc.OpDecode, llrs, g, expansion, ldpc.Extra{KPrime: kprimeBits, Iterations: maxIterations})
	if err != nil {
		return nil, err
	}
	return c.run(ctx, c.cfg.DecodeService, req)
}

func (c *Client) run(ctx context.Context, service string, req ldpc.JobRequest) (out []byte, err error) {
	record, err := ldpc.MarshalRequest(req)
	if err != nil {
		return nil, err
	}
	log := c.log.With(
		zap.String("job", uuid.NewString()),
		zap.Stringer("op", req.Op),
		zap.Stringer("graph", req.Graph),
		zap.Uint32("z", req.Expansion),
		zap.String("request", journal.ContentIDString(record)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	defer cancel()

	s, err := comch.Open(ctx, c.provider, comch.SessionConfig{
		DeviceAddr:   c.cfg.Device,
		Service:      service,
		PollInterval: c.cfg.PollInterval,
		DrainTimeout: c.cfg.DrainTimeout,
		LockMemory:   c.cfg.LockMemory,
		Logger:       log,
	})
	if err != nil {
		log.Warn("connect failed", zap.Error(err))
		return nil, err
	}
	defer func() {
		if terr := s.Teardown(); terr != nil {
			log.Warn("teardown", zap.Error(terr))
			if err == nil {
				out, err = nil, ldpc.WrapError(ldpc.KindConnection, ldpc.RuleConnectionLost, "release session", terr)
			}
		}
	}()

	b, err := exchange(ctx, s, record)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		return nil, err
	}
	resp, err := ldpc.UnmarshalResponse(b)
	if err != nil {
		return nil, err
	}
	out, err = ldpc.DecodeResponse(resp, req.ResponseBits())
	if err != nil {
		return nil, err
	}
	log.Debug("job done", zap.String("response", journal.ContentIDString(b)), zap.Int("bytes", len(out)))
	return out, nil
}

// exchange performs the handshake and the single request/response on s.
func exchange(ctx context.Context, s *comch.Session, record []byte) ([]byte, error) {
	if err := s.SignalStart(ctx); err != nil {
		return nil, err
	}
	if err := s.OpenExchange(comch.ExchangeConfig{RequestSize: len(record), ResponseSize: ldpc.ResponseRecordSize}); err != nil {
		return nil, err
	}
	if err := s.SendRequest(ctx, record); err != nil {
		return nil, err
	}
	b, err := s.RecvResponse(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.CloseExchange(); err != nil {
		return nil, ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleRecvFailed, "close buffer exchange", err)
	}
	if err := s.SignalStop(ctx); err != nil {
		return nil, err
	}
	if err := s.Drain(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
