package registry

import (
	"context"
	"flag"
	"testing"

	"github.com/google/go-cmp/cmp"

	"xdao.co/ldpcoffload/comch"
)

type nopProvider struct{ tag string }

func (nopProvider) OpenDevice(context.Context, string) (comch.Device, error) { return nil, nil }
func (nopProvider) Connect(comch.Device, string, comch.Callbacks) (comch.Conn, comch.Engine, error) {
	return nil, nil, nil
}

func testBackend(name string, usage Usage) Backend {
	var tag string
	return Backend{
		Name:  name,
		Usage: usage,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&tag, name+"-tag", "", "test tag")
		},
		Open: func() (comch.Provider, func() error, error) {
			return nopProvider{tag: tag}, nil, nil
		},
		OpenConfig: func(cfg map[string]string) (comch.Provider, func() error, error) {
			return nopProvider{tag: cfg[name+"-tag"]}, nil, nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	bad := []Backend{
		{},
		{Name: "x"},
		{Name: "x", RegisterFlags: func(*flag.FlagSet) {}},
		{Name: "x", RegisterFlags: func(*flag.FlagSet) {}, Open: testBackend("x", UsageCLI).Open},
	}
	for i, b := range bad {
		if err := Register(b); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestRegistryLifecycle(t *testing.T) {
	MustRegister(testBackend("test-cli", UsageCLI))
	MustRegister(testBackend("test-daemon", UsageDaemon))
	if err := Register(testBackend("test-cli", UsageCLI)); err == nil {
		t.Fatalf("duplicate registration accepted")
	}

	names := Names(UsageCLI)
	found := false
	for _, n := range names {
		if n == "test-daemon" {
			t.Fatalf("daemon-only provider listed for CLI: %v", names)
		}
		if n == "test-cli" {
			found = true
		}
	}
	if !found {
		t.Fatalf("test-cli missing from %v", names)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, UsageCLI)
	if err := fs.Parse([]string{"-test-cli-tag", "from-flag"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, _, err := Open("test-cli", UsageCLI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff("from-flag", p.(nopProvider).tag); diff != "" {
		t.Fatalf("flag value not used: %s", diff)
	}

	p, _, err = OpenWithConfig("test-cli", UsageCLI, map[string]string{"test-cli-tag": "from-config"})
	if err != nil {
		t.Fatalf("OpenWithConfig: %v", err)
	}
	if p.(nopProvider).tag != "from-config" {
		t.Fatalf("config value not used")
	}

	if _, _, err := Open("test-daemon", UsageCLI); err == nil {
		t.Fatalf("daemon-only provider opened from CLI")
	}
	if _, _, err := OpenWithConfig("missing", UsageCLI, nil); err == nil {
		t.Fatalf("unknown provider opened")
	}
}
