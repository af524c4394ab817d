// Command ldpc-offload submits LDPC encode and decode jobs to an accelerator
// through a comch provider.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/comch/registry"
	"xdao.co/ldpcoffload/ldpc"
	"xdao.co/ldpcoffload/offload"

	_ "xdao.co/ldpcoffload/comch/grpccomch"
	_ "xdao.co/ldpcoffload/comch/loopback"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "encode":
		return cmdEncode(args[1:], out, errOut)
	case "decode":
		return cmdDecode(args[1:], out, errOut)
	case "roundtrip":
		return cmdRoundTrip(args[1:], out, errOut)
	case "journal":
		return cmdJournal(args[1:], out, errOut)
	case "vectors":
		return cmdVectors(out)
	case "providers":
		return cmdProviders(out)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ldpc-offload: run LDPC jobs on a remote accelerator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ldpc-offload encode (--vector <name> | --bits <0101...> --k <bits>) --graph 1|2 --z <Z> [--filler <bits>] [--format hex|bits]")
	fmt.Fprintln(w, "  ldpc-offload decode (--llr-file <path> | --llr-hex <hex>) --graph 1|2 --z <Z> --kprime <bits> [--iterations <n>]")
	fmt.Fprintln(w, "  ldpc-offload roundtrip [--vector <name> ...]")
	fmt.Fprintln(w, "  ldpc-offload journal show --dir <dir> --manifest <CID>")
	fmt.Fprintln(w, "  ldpc-offload journal export --dir <dir> --manifest <CID> [--out <bundle.tar>]")
	fmt.Fprintln(w, "  ldpc-offload journal import --dir <dir> <bundle.tar>")
	fmt.Fprintln(w, "  ldpc-offload vectors")
	fmt.Fprintln(w, "  ldpc-offload providers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Job commands accept:")
	fmt.Fprintln(w, "  --config <file>     offload config (yaml, json or toml); LDPC_OFFLOAD_* env applies")
	fmt.Fprintln(w, "  --provider <name>   comch provider (see 'providers'); provider flags are forwarded")
	fmt.Fprintln(w, "  --device <addr>     accelerator device address")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - encode prints the codeword, ceil((C-2)*Z/8) bytes")
	fmt.Fprintln(w, "  - decode prints kprime/8 payload bytes as hex")
	fmt.Fprintln(w, "  - roundtrip encodes reference vectors and checks the systematic prefix")
	fmt.Fprintln(w, "  - journal show verifies the job receipt against the manifest when one is present")
}

// jobFlags are the flags every job command shares.
type jobFlags struct {
	fs       *flag.FlagSet
	config   string
	provider string
	device   string
	own      map[string]bool
}

func newJobFlags(name string, errOut io.Writer) *jobFlags {
	j := &jobFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	j.fs.SetOutput(errOut)
	j.fs.StringVar(&j.config, "config", "", "offload config file")
	j.fs.StringVar(&j.provider, "provider", "", "comch provider name")
	j.fs.StringVar(&j.device, "device", "", "accelerator device address")
	return j
}

// parse parses args and records which flags belong to the command, so the
// rest can be forwarded to the provider.
func (j *jobFlags) parse(args []string) error {
	j.own = make(map[string]bool)
	j.fs.VisitAll(func(f *flag.Flag) { j.own[f.Name] = true })
	registry.RegisterFlags(j.fs, registry.UsageCLI)
	return j.fs.Parse(args)
}

func (j *jobFlags) client() (*offload.Client, error) {
	cfg, err := offload.LoadConfig(j.config)
	if err != nil {
		return nil, err
	}
	if j.provider != "" {
		cfg.Provider = j.provider
	}
	if j.device != "" {
		cfg.Device = j.device
	}
	j.fs.Visit(func(f *flag.Flag) {
		if j.own[f.Name] {
			return
		}
		if cfg.ProviderConfig == nil {
			cfg.ProviderConfig = make(map[string]string)
		}
		cfg.ProviderConfig[f.Name] = f.Value.String()
	})

	log, err := offload.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return offload.Open(cfg, log.Named("offload"))
}

func cmdEncode(args []string, out io.Writer, errOut io.Writer) int {
	j := newJobFlags("encode", errOut)
	vector := j.fs.String("vector", "", "reference vector name")
	bits := j.fs.String("bits", "", "information bits as a 0/1 string")
	k := j.fs.Int("k", -1, "block length in bits (default: length of --bits)")
	graph := j.fs.Int("graph", 1, "base graph, 1 or 2")
	z := j.fs.Int("z", 0, "lifting size")
	filler := j.fs.Int("filler", 0, "filler bits")
	format := j.fs.String("format", "hex", "output format: hex or bits")
	if err := j.parse(args); err != nil {
		return 2
	}
	if (*vector == "") == (*bits == "") {
		fmt.Fprintln(errOut, "exactly one of --vector or --bits is required")
		return 2
	}
	if *format != "hex" && *format != "bits" {
		fmt.Fprintf(errOut, "unknown format %q\n", *format)
		return 2
	}

	var raw []byte
	blockLen := *k
	if *vector != "" {
		v, ok := ldpc.LookupVector(*vector)
		if !ok {
			fmt.Fprintf(errOut, "unknown vector %q (see 'ldpc-offload vectors')\n", *vector)
			return 2
		}
		raw, blockLen = v.Bytes(), v.K
	} else {
		var err error
		if raw, err = ldpc.ParseBits(*bits, *k); err != nil {
			fmt.Fprintf(errOut, "invalid bits: %v\n", err)
			return 2
		}
		if blockLen < 0 {
			blockLen = len(*bits)
		}
	}

	c, err := j.client()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer c.Close()

	cw, err := c.OffloadEncode(context.Background(), raw, ldpc.Graph(*graph), *z, blockLen, *filler)
	if err != nil {
		fmt.Fprintf(errOut, "encode: %s\n", describe(err))
		return exitCode(err)
	}
	if *format == "bits" {
		_, _ = fmt.Fprintln(out, ldpc.FormatBits(cw, 8*len(cw)))
	} else {
		_, _ = fmt.Fprintln(out, hex.EncodeToString(cw))
	}
	return 0
}

func cmdDecode(args []string, out io.Writer, errOut io.Writer) int {
	j := newJobFlags("decode", errOut)
	llrFile := j.fs.String("llr-file", "", "file holding one LLR byte per codeword bit")
	llrHex := j.fs.String("llr-hex", "", "LLR bytes as hex")
	graph := j.fs.Int("graph", 1, "base graph, 1 or 2")
	z := j.fs.Int("z", 0, "lifting size")
	kprime := j.fs.Int("kprime", 0, "payload bits (multiple of 8)")
	iterations := j.fs.Int("iterations", 8, "maximum decoder iterations")
	if err := j.parse(args); err != nil {
		return 2
	}
	if (*llrFile == "") == (*llrHex == "") {
		fmt.Fprintln(errOut, "exactly one of --llr-file or --llr-hex is required")
		return 2
	}

	var llrs []byte
	var err error
	if *llrFile != "" {
		llrs, err = os.ReadFile(*llrFile)
	} else {
		llrs, err = hex.DecodeString(strings.TrimSpace(*llrHex))
	}
	if err != nil {
		fmt.Fprintf(errOut, "read llrs: %v\n", err)
		return 2
	}

	c, err := j.client()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer c.Close()

	payload, err := c.OffloadDecode(context.Background(), llrs, ldpc.Graph(*graph), *z, *kprime, *iterations)
	if err != nil {
		fmt.Fprintf(errOut, "decode: %s\n", describe(err))
		return exitCode(err)
	}
	_, _ = fmt.Fprintln(out, hex.EncodeToString(payload))
	return 0
}

type vectorsFlag []string

func (v *vectorsFlag) String() string { return strings.Join(*v, ",") }

func (v *vectorsFlag) Set(s string) error {
	*v = append(*v, s)
	return nil
}

// roundTripParams picks a graph and lifting size that hold a k-bit block.
func roundTripParams(k int) (g ldpc.Graph, z, filler int) {
	switch {
	case k <= 64:
		return ldpc.BG2, 8, 0
	case k == 512:
		return ldpc.BG1, 128, ldpc.FillerBits512
	default:
		return ldpc.BG1, 96, 0
	}
}

func cmdRoundTrip(args []string, out io.Writer, errOut io.Writer) int {
	j := newJobFlags("roundtrip", errOut)
	var names vectorsFlag
	j.fs.Var(&names, "vector", "reference vector name (repeatable; default: all)")
	if err := j.parse(args); err != nil {
		return 2
	}
	if len(names) == 0 {
		names = ldpc.VectorNames()
	}

	c, err := j.client()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer c.Close()

	code := 0
	for _, name := range names {
		v, ok := ldpc.LookupVector(name)
		if !ok {
			fmt.Fprintf(errOut, "unknown vector %q\n", name)
			return 2
		}
		g, z, filler := roundTripParams(v.K)
		cw, err := c.OffloadEncode(context.Background(), v.Bytes(), g, z, v.K, filler)
		switch {
		case err != nil:
			fmt.Fprintf(out, "%s\tFAIL\t%s\n", name, describe(err))
			code = exitCode(err)
		case !bytes.Equal(cw[:len(v.Bytes())], v.Bytes()):
			fmt.Fprintf(out, "%s\tMISMATCH\t%s Z=%d\n", name, g, z)
			code = 1
		default:
			fmt.Fprintf(out, "%s\tok\t%s Z=%d %d bytes\n", name, g, z, len(cw))
		}
	}
	return code
}

func cmdVectors(out io.Writer) int {
	for _, name := range ldpc.VectorNames() {
		v, _ := ldpc.LookupVector(name)
		_, _ = fmt.Fprintf(out, "%s\t%d\t%s\n", v.Name, v.K, v.Bits)
	}
	return 0
}

func cmdProviders(out io.Writer) int {
	for _, b := range registry.List(registry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(out, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
	}
	return 0
}

// exitCode is 2 for rejected parameters and 1 for everything else.
func exitCode(err error) int {
	if ldpc.IsKind(err, ldpc.KindConfiguration) {
		return 2
	}
	return 1
}

// describe prefixes err with its rule id when it has one.
func describe(err error) string {
	if rule := ldpc.RuleID(err); rule != "" {
		return rule + " " + err.Error()
	}
	return err.Error()
}
