package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowdriver/flowdriver/internal/flowcontrol"
)

func TestLoadAppliesDefaultsWhenNoFileOrFlagsGiven(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nonexistent.yaml")

	cfg, err := Load([]string{"-config", missing})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ThreadingMode != "shared" {
		t.Fatalf("expected default threading mode, got %q", cfg.ThreadingMode)
	}
	if cfg.TermLength != 16*1024*1024 {
		t.Fatalf("expected default term length, got %d", cfg.TermLength)
	}
}

func TestLoadMergesYAMLThenFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowdriver.yaml")
	yaml := "threading-mode: dedicated\nlog-level: warn\nmax-counters: 64\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load([]string{"-config", path, "-log-level", "debug"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ThreadingMode != "dedicated" {
		t.Fatalf("expected YAML threading-mode to survive, got %q", cfg.ThreadingMode)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected flag to override YAML log-level, got %q", cfg.LogLevel)
	}
	if cfg.MaxCounters != 64 {
		t.Fatalf("expected YAML max-counters to survive, got %d", cfg.MaxCounters)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowdriver.yaml")
	if err := os.WriteFile(path, []byte("threading-mode: bogus\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load([]string{"-config", path}); err == nil {
		t.Fatal("expected Load to fail validation for an unknown threading-mode")
	}
}

func TestValidateCatchesBadFields(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Context)
	}{
		{"empty log buffer dir", func(c *Context) { c.LogBufferDir = "" }},
		{"non-positive max counters", func(c *Context) { c.MaxCounters = 0 }},
		{"term length not power of two", func(c *Context) { c.TermLength = 100 }},
		{"bad congestion control", func(c *Context) { c.CongestionControl = "quadratic" }},
		{"inverted congestion window", func(c *Context) { c.CongestionWindowMin = 100; c.CongestionWindowMax = 50 }},
		{"bad threading mode", func(c *Context) { c.ThreadingMode = "exclusive" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := defaultContext()
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected Validate to reject: %s", tc.name)
			}
		})
	}
}

func TestConductorConfigTranslatesMillisecondsAndPolicy(t *testing.T) {
	c := defaultContext()
	c.FlowControlOptimistic = true
	c.CongestionControl = "cubic"
	c.SweepIntervalMS = 2000

	cc := c.ConductorConfig()
	if cc.SweepInterval.Milliseconds() != 2000 {
		t.Fatalf("expected sweep interval to be 2000ms, got %s", cc.SweepInterval)
	}
	if cc.FlowControlPolicy != flowcontrol.Optimistic {
		t.Fatalf("expected optimistic flow-control policy, got %v", cc.FlowControlPolicy)
	}
	if !cc.UseCubicCongestion {
		t.Fatal("expected cubic congestion control to be selected")
	}
	if cc.Socket.ReceiveBufferBytes != c.SocketReceiveBufferBytes {
		t.Fatalf("expected socket config to be carried through unchanged")
	}
}
