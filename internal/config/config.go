// Package config loads driver-wide configuration: a YAML file holding
// structured defaults, overridable by flags, validated before the
// driver starts.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowdriver/flowdriver/internal/driver"
	"github.com/flowdriver/flowdriver/internal/endpoint"
	"github.com/flowdriver/flowdriver/internal/flowcontrol"
)

// Context is the driver's full startup configuration: resource limits,
// term/log-buffer defaults, agent timing, and socket tuning, loaded from
// YAML with flag overrides instead of environment variables.
type Context struct {
	LogBufferDir string `yaml:"log-buffer-dir"`

	MaxCounters   int32 `yaml:"max-counters"`
	TermLength    int32 `yaml:"term-length"`
	MTU           int32 `yaml:"mtu"`
	InitialTermID int32 `yaml:"initial-term-id"`

	SweepIntervalMS             int64 `yaml:"sweep-interval-ms"`
	ClientLivenessTimeoutMS     int64 `yaml:"client-liveness-timeout-ms"`
	PublicationLingerTimeoutMS  int64 `yaml:"publication-linger-timeout-ms"`
	PublicationUnblockTimeoutMS int64 `yaml:"publication-unblock-timeout-ms"`
	ImageInactivityTimeoutMS    int64 `yaml:"image-inactivity-timeout-ms"`
	ImageLingerTimeoutMS        int64 `yaml:"image-linger-timeout-ms"`

	FlowControlReceiverTimeoutMS int64  `yaml:"flow-control-receiver-timeout-ms"`
	FlowControlOptimistic        bool   `yaml:"flow-control-optimistic"`
	CongestionControl            string `yaml:"congestion-control"` // "static" or "cubic"
	CongestionWindowMin          int32  `yaml:"congestion-window-min"`
	CongestionWindowMax          int32  `yaml:"congestion-window-max"`

	LossCheckDelayMS int64 `yaml:"loss-check-delay-ms"`
	LossMaxBackoffMS int64 `yaml:"loss-max-backoff-ms"`

	HeartbeatIntervalMS       int64  `yaml:"heartbeat-interval-ms"`
	SetupIntervalMS           int64  `yaml:"setup-interval-ms"`
	RetransmitMaxConcurrent   int    `yaml:"retransmit-max-concurrent"`
	RetransmitDelayMS         int64  `yaml:"retransmit-delay-ms"`
	RetransmitLingerMS        int64  `yaml:"retransmit-linger-ms"`
	HeartbeatPPS              uint64 `yaml:"heartbeat-pps"`

	SocketReceiveBufferBytes int    `yaml:"socket-receive-buffer-bytes"`
	SocketSendBufferBytes    int    `yaml:"socket-send-buffer-bytes"`
	SocketMulticastTTL       int    `yaml:"socket-multicast-ttl"`
	SocketMulticastInterface string `yaml:"socket-multicast-interface"`

	ThreadingMode string `yaml:"threading-mode"` // "dedicated" or "shared"

	LogLevel string `yaml:"log-level"`
}

func defaultContext() Context {
	return Context{
		LogBufferDir:                 os.TempDir(),
		MaxCounters:                  1024,
		TermLength:                   16 * 1024 * 1024,
		MTU:                          1408,
		InitialTermID:                0,
		SweepIntervalMS:              1000,
		ClientLivenessTimeoutMS:      10_000,
		PublicationLingerTimeoutMS:   5_000,
		PublicationUnblockTimeoutMS:  15_000,
		ImageInactivityTimeoutMS:     5_000,
		ImageLingerTimeoutMS:         5_000,
		FlowControlReceiverTimeoutMS: 5_000,
		CongestionControl:            "static",
		CongestionWindowMin:          128 * 1024,
		CongestionWindowMax:          2 * 1024 * 1024,
		LossCheckDelayMS:             5,
		LossMaxBackoffMS:             1000,
		HeartbeatIntervalMS:          100,
		SetupIntervalMS:              100,
		RetransmitMaxConcurrent:      16,
		RetransmitDelayMS:            10,
		RetransmitLingerMS:           1000,
		ThreadingMode:                "shared",
		LogLevel:                     "info",
	}
}

// Load reads args (flags) and the YAML file they name, merging flag
// overrides on top of the file defaults.
func Load(args []string) (*Context, error) {
	fs := flag.NewFlagSet("flowdriverd", flag.ContinueOnError)
	fConfig := fs.String("config", "flowdriver.yaml", "path to config YAML file")
	fLogBufferDir := fs.String("logbuffer-dir", "", "directory for log buffer files")
	fThreadingMode := fs.String("threading-mode", "", "dedicated or shared agent scheduling")
	fLogLevel := fs.String("log-level", "", "zerolog level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	conf := defaultContext()
	if b, err := os.ReadFile(*fConfig); err == nil {
		if err := yaml.Unmarshal(b, &conf); err != nil {
			return nil, fmt.Errorf("config: parsing YAML %q: %w", *fConfig, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %q: %w", *fConfig, err)
	}

	if *fLogBufferDir != "" {
		conf.LogBufferDir = *fLogBufferDir
	}
	if *fThreadingMode != "" {
		conf.ThreadingMode = *fThreadingMode
	}
	if *fLogLevel != "" {
		conf.LogLevel = *fLogLevel
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate fails fast on an unusable configuration rather than letting
// a zero value surface deep in a hot path.
func (c *Context) Validate() error {
	if c.LogBufferDir == "" {
		return fmt.Errorf("config: log-buffer-dir must be set")
	}
	if c.MaxCounters <= 0 {
		return fmt.Errorf("config: max-counters must be positive, got %d", c.MaxCounters)
	}
	if c.TermLength <= 0 || c.TermLength&(c.TermLength-1) != 0 {
		return fmt.Errorf("config: term-length must be a positive power of two, got %d", c.TermLength)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("config: mtu must be positive, got %d", c.MTU)
	}
	switch c.CongestionControl {
	case "static", "cubic":
	default:
		return fmt.Errorf("config: congestion-control must be %q or %q, got %q", "static", "cubic", c.CongestionControl)
	}
	if c.CongestionWindowMin <= 0 || c.CongestionWindowMax < c.CongestionWindowMin {
		return fmt.Errorf("config: congestion-window-min/max must satisfy 0 < min <= max, got %d/%d", c.CongestionWindowMin, c.CongestionWindowMax)
	}
	switch c.ThreadingMode {
	case "dedicated", "shared":
	default:
		return fmt.Errorf("config: threading-mode must be %q or %q, got %q", "dedicated", "shared", c.ThreadingMode)
	}
	return nil
}

// ConductorConfig derives a driver.ConductorConfig from the loaded
// context, the one place milliseconds-as-int64 YAML fields become
// time.Duration and the congestion-control name becomes the matching
// boolean flag driver.Conductor's constructor expects.
func (c *Context) ConductorConfig() driver.ConductorConfig {
	policy := flowcontrol.FailOnEmpty
	if c.FlowControlOptimistic {
		policy = flowcontrol.Optimistic
	}
	return driver.ConductorConfig{
		LogBufferDir:  c.LogBufferDir,
		MaxCounters:   c.MaxCounters,
		TermLength:    c.TermLength,
		MTU:           c.MTU,
		InitialTermID: c.InitialTermID,

		SweepInterval:             ms(c.SweepIntervalMS),
		ClientLivenessTimeout:     ms(c.ClientLivenessTimeoutMS),
		PublicationLingerTimeout:  ms(c.PublicationLingerTimeoutMS),
		PublicationUnblockTimeout: ms(c.PublicationUnblockTimeoutMS),
		ImageInactivityTimeout:    ms(c.ImageInactivityTimeoutMS),
		ImageLingerTimeout:        ms(c.ImageLingerTimeoutMS),

		FlowControlReceiverTimeout: ms(c.FlowControlReceiverTimeoutMS),
		FlowControlPolicy:          policy,

		UseCubicCongestion:  c.CongestionControl == "cubic",
		CongestionWindowMin: c.CongestionWindowMin,
		CongestionWindowMax: c.CongestionWindowMax,

		LossCheckDelay: ms(c.LossCheckDelayMS),
		LossMaxBackoff: ms(c.LossMaxBackoffMS),

		Sender: driver.SenderConfig{
			MTU:                     c.MTU,
			HeartbeatInterval:       ms(c.HeartbeatIntervalMS),
			SetupInterval:           ms(c.SetupIntervalMS),
			RetransmitMaxConcurrent: c.RetransmitMaxConcurrent,
			RetransmitDelay:         ms(c.RetransmitDelayMS),
			RetransmitLinger:        ms(c.RetransmitLingerMS),
			HeartbeatPPS:            c.HeartbeatPPS,
		},
		Socket: endpoint.SocketConfig{
			ReceiveBufferBytes: c.SocketReceiveBufferBytes,
			SendBufferBytes:    c.SocketSendBufferBytes,
			MulticastTTL:       c.SocketMulticastTTL,
			MulticastInterface: c.SocketMulticastInterface,
		},
	}
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
