// Command flowdriverd runs the media driver: a standalone process that
// client libraries attach to via cnc.dat, exchanging commands and events
// over shared memory while publishers and subscribers move data frames
// directly between their own log buffers and the network.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowdriver/flowdriver/internal/agent"
	"github.com/flowdriver/flowdriver/internal/config"
	"github.com/flowdriver/flowdriver/internal/counters"
	"github.com/flowdriver/flowdriver/internal/driver"
	"github.com/flowdriver/flowdriver/internal/logging"
)

const (
	commandRingCapacity = 1 << 20 // 1 MiB
	broadcastCapacity   = 1 << 20
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogBufferDir, 0o755); err != nil {
		logging.FatalIf(logger, err, "create log buffer directory")
	}

	cncPath := filepath.Join(cfg.LogBufferDir, "cnc.dat")
	cnc, err := driver.OpenCnC(cncPath, commandRingCapacity, broadcastCapacity, ms(cfg.ClientLivenessTimeoutMS), time.Now())
	if err != nil {
		logging.FatalIf(logger, err, "open cnc.dat")
	}
	defer cnc.Close()
	logger.Info().Str("path", cncPath).Msg("cnc.dat ready")

	conductorCfg := cfg.ConductorConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errHook := func(agentName string, err error) {
		logger.Error().Err(err).Str("agent", agentName).Msg("agent DoWork error")
	}

	receiverProxy := driver.NewReceiverProxy()
	fromReceiver := driver.NewConductorProxy()

	// Under "shared" threading mode every agent, including Senders
	// spawned later for dynamically added egress channels, folds onto one
	// Runner; under "dedicated" mode each gets its own. A production
	// deployment picks dedicated only when the host has cores to spare.
	dedicated := cfg.ThreadingMode == "dedicated"

	var shared *agent.Runner
	if !dedicated {
		shared = agent.NewRunner("shared", agent.NewBackoffPark(time.Millisecond), errHook)
	}

	spawnSender := func(s *driver.Sender, channel string) {
		if dedicated {
			agent.NewRunner("sender:"+channel, agent.BusySpin{}, errHook, s).Start(ctx)
			return
		}
		shared.Add(s)
	}

	conductor := driver.NewConductor(cnc.Command, cnc.Events, receiverProxy, fromReceiver, spawnSender, conductorCfg, logger)
	receiver := driver.NewReceiver(receiverProxy, fromReceiver, conductorCfg.ImageInactivityTimeout, conductor.Counters(), logging.ForAgent(logger, "receiver"))

	if dedicated {
		agent.NewRunner("conductor", agent.NewBackoffPark(time.Millisecond), errHook, conductor).Start(ctx)
		agent.NewRunner("receiver", agent.BusySpin{}, errHook, receiver).Start(ctx)
	} else {
		shared.Add(conductor)
		shared.Add(receiver)
		shared.Start(ctx)
	}

	logger.Info().Str("threading-mode", cfg.ThreadingMode).Msg("flowdriverd started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining")

	// Give in-flight agent passes a moment to observe ctx.Done() and run
	// OnClose before the deferred cnc.dat unmap above runs.
	time.Sleep(50 * time.Millisecond)

	fmt.Fprintln(os.Stderr, "\nfinal counters report")
	if err := counters.PrintReport(os.Stderr, conductor.Counters()); err != nil {
		logger.Warn().Err(err).Msg("failed to print final counters report")
	}
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
