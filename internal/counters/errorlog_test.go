package counters

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func TestDistinctErrorLogDeduplicatesAndCounts(t *testing.T) {
	log := NewDistinctErrorLog(zerolog.New(io.Discard), 16)

	log.Record("malformed frame: bad version")
	log.Record("malformed frame: bad version")
	log.Record("channel URI rejected: missing endpoint")

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	byDescription := make(map[string]ErrorEntry)
	for _, e := range entries {
		byDescription[e.Description] = e
	}
	if e := byDescription["malformed frame: bad version"]; e.ObservationCount != 2 {
		t.Fatalf("ObservationCount = %d, want 2", e.ObservationCount)
	}
	if e := byDescription["channel URI rejected: missing endpoint"]; e.ObservationCount != 1 {
		t.Fatalf("ObservationCount = %d, want 1", e.ObservationCount)
	}
}

func TestDistinctErrorLogEvictsOldestWhenFull(t *testing.T) {
	log := NewDistinctErrorLog(zerolog.New(io.Discard), 2)

	log.Record("error A")
	log.Record("error B")
	log.Record("error C") // should evict A

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Description == "error A" {
			t.Fatal("expected error A to have been evicted")
		}
	}
}
