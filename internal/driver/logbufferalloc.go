package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

// LogBufferAllocator creates and maps the shared-memory file backing one
// publication's log buffer.
//
// Mapping is done through golang.org/x/sys/unix.Mmap, the higher-level
// wrapper over the same MAP_SHARED mmap afxdp/afxdp.go reaches for with a
// raw SYS_MMAP syscall for its RX/TX/FQ/CQ ring regions — this is a
// file-backed mapping rather than an anonymous one, so the convenience
// wrapper is the better fit.
type LogBufferAllocator struct {
	dir string
}

// NewLogBufferAllocator constructs an allocator that creates log buffer
// files under dir.
func NewLogBufferAllocator(dir string) *LogBufferAllocator {
	return &LogBufferAllocator{dir: dir}
}

// Allocate creates a new log buffer file sized for termLength-byte term
// partitions, maps it, and returns both the LogBuffer view and the file
// name a client should open to get the same mapping.
func (a *LogBufferAllocator) Allocate(registrationID int64, termLength, mtu, initialTermID int32) (*logbuffer.LogBuffer, string, error) {
	fileLength := int64(termLength)*int64(logbuffer.PartitionCount) + int64(logbuffer.MetadataLength)
	name := fmt.Sprintf("%d.logbuffer", registrationID)
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("driver: create log buffer file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(fileLength); err != nil {
		return nil, "", fmt.Errorf("driver: truncate log buffer file: %w", err)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(fileLength), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, "", fmt.Errorf("driver: mmap log buffer file: %w", err)
	}

	var terms [logbuffer.PartitionCount][]byte
	for i := int32(0); i < logbuffer.PartitionCount; i++ {
		terms[i] = mapped[int64(i)*int64(termLength) : int64(i+1)*int64(termLength)]
	}
	metaOffset := int64(termLength) * int64(logbuffer.PartitionCount)
	meta := logbuffer.NewMetadata(mapped[metaOffset : metaOffset+int64(logbuffer.MetadataLength)])
	meta.SetTermLength(termLength)
	meta.SetMTULength(mtu)
	meta.SetInitialTermID(initialTermID)
	meta.SetPageSize(int32(os.Getpagesize()))
	meta.SetEndOfStreamPositionOrdered(logbuffer.UnsetPosition)

	return logbuffer.NewLogBuffer(terms, meta), name, nil
}

// AllocateInMemory builds a LogBuffer backed by plain heap slices instead
// of a file, for IPC publications: those are shared only within this
// process, so there is nothing to mmap.
func AllocateInMemory(termLength, mtu, initialTermID int32) *logbuffer.LogBuffer {
	var terms [logbuffer.PartitionCount][]byte
	for i := range terms {
		terms[i] = make([]byte, termLength)
	}
	meta := logbuffer.NewMetadata(make([]byte, logbuffer.MetadataLength))
	meta.SetTermLength(termLength)
	meta.SetMTULength(mtu)
	meta.SetInitialTermID(initialTermID)
	meta.SetEndOfStreamPositionOrdered(logbuffer.UnsetPosition)
	return logbuffer.NewLogBuffer(terms, meta)
}
