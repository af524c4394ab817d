// Command ldpc-acceld is the accelerator side of the offload channel: it
// serves encode and decode jobs over gRPC, optionally journaling and signing
// every job.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch/grpccomch"
	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/offload"
	"xdao.co/ldpcoffload/receipt"
)

const envPrefix = "LDPC_ACCELD"

type config struct {
	Listen         string   `mapstructure:"listen"`
	Devices        []string `mapstructure:"devices"`
	JournalDir     string   `mapstructure:"journal_dir"`
	JournalMirrors []string `mapstructure:"journal_mirrors"`
	ReceiptSeedHex string   `mapstructure:"receipt_seed_hex"`
	ReceiptLabel   string   `mapstructure:"receipt_label"`
	ReceiptHash    string   `mapstructure:"receipt_hash"`
	MaxMessageSize int      `mapstructure:"max_message_size"`
	LogLevel       string   `mapstructure:"log_level"`
}

func (c config) validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if len(c.JournalMirrors) > 0 && c.JournalDir == "" {
		return errors.New("journal_mirrors requires journal_dir")
	}
	if c.ReceiptSeedHex != "" && c.JournalDir == "" {
		return errors.New("receipt_seed_hex requires journal_dir")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size must not be negative, got %d", c.MaxMessageSize)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("ldpc-acceld", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("listen", "127.0.0.1:7443", "listen address")
	fs.String("devices", "", "comma-separated device addresses to answer for (empty: any)")
	fs.String("journal-dir", "", "journal directory for requests, responses and receipts")
	fs.String("journal-mirrors", "", "comma-separated directories the journal is mirrored to")
	fs.String("receipt-seed-hex", "", "32-byte hex root seed for the receipt key (requires --journal-dir)")
	fs.String("receipt-label", "ldpc-acceld", "label the receipt key is derived under")
	fs.String("receipt-hash", receipt.HashSHA256, "receipt digest: sha256, sha512 or sha3-256")
	fs.Int("max-message-size", 0, "control message ceiling; 0 uses the protocol maximum")
	fs.String("log-level", "info", "log level")
	printConfig := fs.Bool("print-config", false, "print the effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if *printConfig {
		fmt.Fprintf(out, "%+v\n", cfg)
		return 0
	}

	log, err := offload.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	svc, err := newService(cfg, log)
	if err != nil {
		log.Error("service setup", zap.Error(err))
		return 1
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Error("listen", zap.Error(err))
		return 1
	}
	log.Info("ldpc-acceld listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("devices", cfg.Devices),
		zap.Bool("journal", svc.Journal != nil),
		zap.Bool("receipts", svc.Signer != nil))

	if err := serve(ctx, lis, &grpccomch.Server{Service: svc, Devices: cfg.Devices, Logger: log.Named("grpccomch")}); err != nil {
		log.Error("serve", zap.Error(err))
		return 1
	}
	log.Info("ldpc-acceld stopped")
	return 0
}

// loadConfig layers defaults, the config file, LDPC_ACCELD_* environment and
// explicitly set flags, in that order.
func loadConfig(path string, fs *flag.FlagSet) (config, error) {
	v := viper.New()
	fs.VisitAll(func(f *flag.Flag) {
		v.SetDefault(flagKey(f.Name), f.DefValue)
	})
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}
	fs.Visit(func(f *flag.Flag) {
		v.Set(flagKey(f.Name), f.Value.String())
	})

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	c.Devices = splitList(c.Devices)
	c.JournalMirrors = splitList(c.JournalMirrors)
	return c, c.validate()
}

func flagKey(name string) string { return strings.ReplaceAll(name, "-", "_") }

// splitList flattens comma-separated entries, which is how a flag or an
// environment variable carries a list.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func newService(cfg config, log *zap.Logger) (*accel.Service, error) {
	svc := &accel.Service{
		Kernel:         accel.IdentityKernel{},
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         log.Named("accel"),
	}
	if cfg.JournalDir != "" {
		store, err := journalStore(cfg)
		if err != nil {
			return nil, err
		}
		if svc.Journal, err = journal.New(store); err != nil {
			return nil, err
		}
	}
	if cfg.ReceiptSeedHex != "" {
		root, err := hex.DecodeString(cfg.ReceiptSeedHex)
		if err != nil {
			return nil, fmt.Errorf("receipt seed: %w", err)
		}
		seed, err := receipt.DeriveSeed(root, cfg.ReceiptLabel)
		if err != nil {
			return nil, fmt.Errorf("receipt seed: %w", err)
		}
		if svc.Signer, err = receipt.NewEd25519Signer(seed, cfg.ReceiptHash); err != nil {
			return nil, err
		}
		log.Info("signing receipts", zap.String("issuer", svc.Signer.Issuer()))
	}
	return svc, nil
}

func journalStore(cfg config) (journal.Store, error) {
	if len(cfg.JournalMirrors) == 0 {
		return journal.NewLocalFS(cfg.JournalDir)
	}
	return journal.NewMirror(append([]string{cfg.JournalDir}, cfg.JournalMirrors...)...)
}

// serve runs the gRPC server until ctx is done, then stops it gracefully.
func serve(ctx context.Context, lis net.Listener, srv grpccomch.ChannelServer) error {
	s := grpc.NewServer()
	grpccomch.RegisterChannelServer(s, srv)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.GracefulStop()
		return nil
	})
	return g.Wait()
}
