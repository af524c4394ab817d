package offload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigDefaults(t *testing.T) {
	got, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), got); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offload.yaml")
	data := []byte(`provider: grpc
provider_config:
  grpc-target: dpu0:7443
device: "0000:03:00.1"
job_timeout: 2s
lock_memory: true
log_level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LDPC_OFFLOAD_DRAIN_TIMEOUT", "250ms")

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	want.Provider = "grpc"
	want.ProviderConfig = map[string]string{"grpc-target": "dpu0:7443"}
	want.Device = "0000:03:00.1"
	want.JobTimeout = 2 * time.Second
	want.DrainTimeout = 250 * time.Millisecond
	want.LockMemory = true
	want.LogLevel = "debug"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.Provider = "" }},
		{"device", func(c *Config) { c.Device = "" }},
		{"service", func(c *Config) { c.DecodeService = "" }},
		{"timeout", func(c *Config) { c.JobTimeout = -time.Second }},
		{"poll", func(c *Config) { c.PollInterval = -1 }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
}
