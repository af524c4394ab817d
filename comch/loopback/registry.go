package loopback

import (
	"flag"

	"go.uber.org/zap"

	"xdao.co/ldpcoffload/accel"
	"xdao.co/ldpcoffload/comch"
	"xdao.co/ldpcoffload/comch/registry"
	"xdao.co/ldpcoffload/journal"
)

var flagJournalDir string

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "loopback",
		Description: "In-process accelerator running the identity kernel",
		Usage:       registry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagJournalDir, "loopback-journal-dir", "", "Journal directory for jobs (for --provider=loopback)")
		},
		Open: func() (comch.Provider, func() error, error) {
			return open(flagJournalDir)
		},
		OpenConfig: func(cfg map[string]string) (comch.Provider, func() error, error) {
			return open(cfg["loopback-journal-dir"])
		},
	})
}

func open(journalDir string) (comch.Provider, func() error, error) {
	log := zap.L().Named("loopback")
	svc := &accel.Service{Kernel: accel.IdentityKernel{}, Logger: log}
	if journalDir != "" {
		store, err := journal.NewLocalFS(journalDir)
		if err != nil {
			return nil, nil, err
		}
		if svc.Journal, err = journal.New(store); err != nil {
			return nil, nil, err
		}
	}
	return &Provider{Service: svc, Logger: log}, nil, nil
}
