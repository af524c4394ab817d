package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"

	"xdao.co/ldpcoffload/journal"
	"xdao.co/ldpcoffload/receipt"
)

func cmdJournal(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: ldpc-offload journal <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: show, export, import")
		return 2
	}
	switch args[0] {
	case "show":
		return cmdJournalShow(args[1:], out, errOut)
	case "export":
		return cmdJournalExport(args[1:], out, errOut)
	case "import":
		return cmdJournalImport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown journal subcommand: %s\n", args[0])
		return 2
	}
}

func openJournal(dir string) (*journal.Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("--dir is required")
	}
	store, err := journal.NewLocalFS(dir)
	if err != nil {
		return nil, err
	}
	return journal.New(store)
}

func manifestFlags(name string, errOut io.Writer) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", "", "journal directory")
	manifest := fs.String("manifest", "", "manifest CID")
	return fs, dir, manifest
}

func cmdJournalShow(args []string, out io.Writer, errOut io.Writer) int {
	fs, dir, manifest := manifestFlags("journal show", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	j, id, code := openManifest(*dir, *manifest, errOut)
	if j == nil {
		return code
	}
	m, err := j.Lookup(id)
	if err != nil {
		fmt.Fprintf(errOut, "lookup: %v\n", err)
		return 1
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	_, _ = fmt.Fprintln(out, string(b))

	if m.Receipt == "" {
		_, _ = fmt.Fprintln(out, "receipt: none")
		return 0
	}
	raw, err := j.Load(m.Receipt)
	if err != nil {
		fmt.Fprintf(errOut, "load receipt: %v\n", err)
		return 1
	}
	r, err := receipt.Unmarshal(raw)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := checkReceipt(r, m); err != nil {
		_, _ = fmt.Fprintf(out, "receipt: INVALID: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(out, "receipt: verified (%s, %s) issuer %s\n", r.SignatureAlg, r.HashAlg, r.Issuer)
	return 0
}

// checkReceipt verifies the signature and that the receipt speaks about the
// manifest's job.
func checkReceipt(r receipt.Receipt, m journal.Manifest) error {
	if err := receipt.Verify(r); err != nil {
		return err
	}
	switch {
	case r.JobID != m.JobID:
		return fmt.Errorf("job id %q, manifest has %q", r.JobID, m.JobID)
	case r.Op != m.Op:
		return fmt.Errorf("op %q, manifest has %q", r.Op, m.Op)
	case r.Request != m.Request || r.Response != m.Response:
		return fmt.Errorf("receipt covers other records")
	}
	return nil
}

func openManifest(dir, manifest string, errOut io.Writer) (*journal.Journal, cid.Cid, int) {
	if manifest == "" {
		fmt.Fprintln(errOut, "--manifest is required")
		return nil, cid.Undef, 2
	}
	id, err := cid.Decode(manifest)
	if err != nil {
		fmt.Fprintf(errOut, "invalid manifest CID: %v\n", err)
		return nil, cid.Undef, 2
	}
	j, err := openJournal(dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, cid.Undef, 2
	}
	return j, id, 0
}

func cmdJournalExport(args []string, out io.Writer, errOut io.Writer) int {
	fs, dir, manifest := manifestFlags("journal export", errOut)
	outPath := fs.String("out", "", "bundle file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	j, id, code := openManifest(*dir, *manifest, errOut)
	if j == nil {
		return code
	}

	w := out
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(errOut, "create bundle: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := j.Export(w, id); err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	return 0
}

func cmdJournalImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("journal import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", "", "journal directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: ldpc-offload journal import --dir <dir> <bundle.tar>")
		return 2
	}
	j, err := openJournal(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "open bundle: %v\n", err)
		return 1
	}
	defer f.Close()
	id, err := j.Import(f)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, id)
	return 0
}
