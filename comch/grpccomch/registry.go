package grpccomch

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/registry"
)

var (
	flagTarget      string
	flagDialTimeout time.Duration
	flagTimeout     time.Duration
	flagMaxMsgBytes int
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC channel to an accelerator daemon (e.g. ldpc-acceld)",
		Usage:       registry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --provider=grpc)")
			fs.DurationVar(&flagDialTimeout, "grpc-dial-timeout", 5*time.Second, "Dial timeout (for --provider=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 0, "OpenDevice timeout (for --provider=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
		},
		Open: func() (comch.Provider, func() error, error) {
			return open(flagTarget, DialOptions{Timeout: flagDialTimeout, MaxMsgBytes: flagMaxMsgBytes}, flagTimeout)
		},
		OpenConfig: func(cfg map[string]string) (comch.Provider, func() error, error) {
			opts := DialOptions{Timeout: 5 * time.Second}
			var timeout time.Duration
			var err error
			if v := cfg["grpc-dial-timeout"]; v != "" {
				if opts.Timeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-dial-timeout: %w", err)
				}
			}
			if v := cfg["grpc-timeout"]; v != "" {
				if timeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-timeout: %w", err)
				}
			}
			if v := cfg["grpc-max-msg-bytes"]; v != "" {
				if opts.MaxMsgBytes, err = strconv.Atoi(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-max-msg-bytes: %w", err)
				}
			}
			return open(cfg["grpc-target"], opts, timeout)
		},
	})
}

func open(target string, opts DialOptions, timeout time.Duration) (comch.Provider, func() error, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, nil, fmt.Errorf("missing --grpc-target")
	}
	p, err := Dial(target, opts)
	if err != nil {
		return nil, nil, err
	}
	p.Timeout = timeout
	p.Logger = zap.L().Named("grpccomch")
	return p, p.Close, nil
}
