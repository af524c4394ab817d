package offload

import (
	"context"
	"fmt"
	"sync"

	"xdao.co/ldpcoffload/ldpc"
)

var (
	defaultMu     sync.RWMutex
	defaultClient *Client
)

// Init opens the default client used by Encode, Decode and the LDPC aliases.
// Calling Init again replaces, and closes, the previous default client.
func Init(cfg Config) error {
	log, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return ldpc.WrapError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: log level", err)
	}
	c, err := Open(cfg, log.Named("offload"))
	if err != nil {
		return err
	}
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// InitWith installs c as the default client.
func InitWith(c *Client) {
	defaultMu.Lock()
	defaultClient = c
	defaultMu.Unlock()
}

// Shutdown closes the default client. It is safe to call when Init was not.
func Shutdown() error {
	defaultMu.Lock()
	c := defaultClient
	defaultClient = nil
	defaultMu.Unlock()
	return c.Close()
}

func current() (*Client, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultClient == nil {
		return nil, ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: not initialized")
	}
	return defaultClient, nil
}

// Encode runs OffloadEncode on the default client.
func Encode(ctx context.Context, raw []byte, g ldpc.Graph, expansion, k, fillerBits int) ([]byte, error) {
	c, err := current()
	if err != nil {
		return nil, err
	}
	return c.OffloadEncode(ctx, raw, g, expansion, k, fillerBits)
}

// Decode runs OffloadDecode on the default client.
func Decode(ctx context.Context, llrs []byte, g ldpc.Graph, expansion, kprimeBits, maxIterations int) ([]byte, error) {
	c, err := current()
	if err != nil {
		return nil, err
	}
	return c.OffloadDecode(ctx, llrs, g, expansion, kprimeBits, maxIterations)
}

// EncoderParams mirrors the encoder parameter block of the host LDPC API.
type EncoderParams struct {
	K  int // information bits
	Kb int // systematic base-graph columns; zero means the graph's maximum
	Zc int // lifting size
	F  int // filler bits
	BG int // base graph, 1 or 2
}

// DecoderParams mirrors the decoder parameter block of the host LDPC API.
type DecoderParams struct {
	BG         int
	Z          int
	KPrime     int // payload bits
	NumMaxIter int
}

// LDPCInit initializes the default client with the configuration at path
// (empty for defaults and environment).
func LDPCInit(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return ldpc.WrapError(ldpc.KindConfiguration, ldpc.RuleInvalidConfig, "offload: load config", err)
	}
	return Init(cfg)
}

// LDPCShutdown is Shutdown.
func LDPCShutdown() error { return Shutdown() }

// LDPCEncoder encodes input with p on the default client.
func LDPCEncoder(ctx context.Context, input []byte, p EncoderParams) ([]byte, error) {
	g := ldpc.Graph(p.BG)
	if g.Valid() && p.Kb != 0 && (p.Kb < 0 || p.Kb > g.SystematicColumns()) {
		return nil, ldpc.NewError(ldpc.KindConfiguration, ldpc.RuleInvalidBlockLength,
			fmt.Sprintf("Kb=%d is out of range for %s", p.Kb, g))
	}
	return Encode(ctx, input, g, p.Zc, p.K, p.F)
}

// LDPCDecoder decodes llrs with p on the default client.
func LDPCDecoder(ctx context.Context, llrs []byte, p DecoderParams) ([]byte, error) {
	return Decode(ctx, llrs, ldpc.Graph(p.BG), p.Z, p.KPrime, p.NumMaxIter)
}
