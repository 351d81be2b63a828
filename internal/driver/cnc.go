package driver

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flowdriver/flowdriver/internal/protocol"
	"github.com/flowdriver/flowdriver/internal/ringbuf"
	"github.com/flowdriver/flowdriver/internal/xmem"
)

// CnC owns the mmap'd cnc.dat file backing the client<->driver boundary:
// the command ring any client process writes into and the broadcast ring
// the Conductor publishes events on, both genuinely shared across process
// memory (unlike the Conductor<->Sender/Receiver channels in proxy.go,
// which never leave this process).
//
// Counter values stay process-local in counters.Manager rather than
// living in the region cnc.dat's header reserves for them: Manager's
// int64/int32/string slices have no fixed wire layout a client process
// could safely map, so clients instead learn counter ids and labels from
// ADD_COUNTER/REMOVE_COUNTER command/event traffic, the same ring already
// crossing the process boundary.
type CnC struct {
	file    *os.File
	mapped  []byte
	Header  protocol.CnCHeader
	Command *ringbuf.MPSC
	Events  *ringbuf.Broadcast
}

// OpenCnC creates (or truncates) the cnc.dat file at path, sized to hold a
// header plus a command ring and broadcast ring of the given capacities
// (each must be a power of two), and mmaps it MAP_SHARED so any client
// process opening the same path observes the same bytes.
func OpenCnC(path string, commandRingCapacity, broadcastCapacity int32, clientLivenessTimeout time.Duration, now time.Time) (*CnC, error) {
	if !xmem.IsPowerOfTwo(commandRingCapacity) {
		return nil, fmt.Errorf("driver: cnc command ring capacity must be a power of two, got %d", commandRingCapacity)
	}
	if !xmem.IsPowerOfTwo(broadcastCapacity) {
		return nil, fmt.Errorf("driver: cnc broadcast capacity must be a power of two, got %d", broadcastCapacity)
	}

	fileLength := int64(protocol.CnCHeaderLength) + int64(commandRingCapacity) + int64(broadcastCapacity)
	header := protocol.CnCHeader{
		Version:             protocol.CnCVersion,
		FileLength:          fileLength,
		CommandRingLength:   int64(commandRingCapacity),
		BroadcastLength:     int64(broadcastCapacity),
		ClientLivenessNanos: clientLivenessTimeout.Nanoseconds(),
		StartTimestampMs:    now.UnixMilli(),
		DriverPID:           int64(os.Getpid()),
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("driver: create cnc file: %w", err)
	}
	if err := f.Truncate(fileLength); err != nil {
		f.Close()
		return nil, fmt.Errorf("driver: truncate cnc file: %w", err)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(fileLength), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("driver: mmap cnc file: %w", err)
	}

	layout := protocol.ComputeLayout(header)
	protocol.PutCnCHeader(mapped, header)

	return &CnC{
		file:    f,
		mapped:  mapped,
		Header:  header,
		Command: ringbuf.NewMPSCOver(mapped[layout.CommandRing[0]:layout.CommandRing[1]]),
		Events:  ringbuf.NewBroadcastOver(mapped[layout.BroadcastRing[0]:layout.BroadcastRing[1]]),
	}, nil
}

// Close unmaps and closes the cnc.dat file. The file itself is left on
// disk, so a lingering cnc.dat lets a client distinguish "driver died
// without cleanup" from "driver never started".
func (c *CnC) Close() error {
	if err := unix.Munmap(c.mapped); err != nil {
		c.file.Close()
		return fmt.Errorf("driver: munmap cnc file: %w", err)
	}
	return c.file.Close()
}
