package dispatcher

import (
	"testing"
	"time"

	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

type fakeRequester struct {
	requests []SetupInfo
}

func (f *fakeRequester) RequestImage(info SetupInfo) {
	f.requests = append(f.requests, info)
}

func newTestLogBuffer(termLength int32) *logbuffer.LogBuffer {
	var terms [logbuffer.PartitionCount][]byte
	for i := range terms {
		terms[i] = make([]byte, termLength)
	}
	meta := logbuffer.NewMetadata(make([]byte, logbuffer.MetadataLength))
	meta.SetTermLength(termLength)
	return logbuffer.NewLogBuffer(terms, meta)
}

func TestOnFrameIgnoresUninterestingSetup(t *testing.T) {
	req := &fakeRequester{}
	d := New(req)

	su := logbuffer.PutSetup(logbuffer.Setup{SessionID: 1, StreamID: 10, InitialTermID: 5, ActiveTermID: 5, TermLength: 64 * 1024, MTU: 1408})
	outcome := d.OnFrame(su, "127.0.0.1:40000", time.Now())
	if outcome != OutcomeIgnored {
		t.Fatalf("expected Ignored, got %v", outcome)
	}
	if len(req.requests) != 0 {
		t.Fatalf("expected no image request")
	}
}

func TestOnFrameQueuesSetupForInterestedStream(t *testing.T) {
	req := &fakeRequester{}
	d := New(req)
	d.Subscribe(10, Subscribable{StreamID: 10, Channel: "aeron:udp?endpoint=localhost:9000"})

	su := logbuffer.PutSetup(logbuffer.Setup{SessionID: 1, StreamID: 10, InitialTermID: 5, ActiveTermID: 5, TermLength: 64 * 1024, MTU: 1408})
	now := time.Now()
	outcome := d.OnFrame(su, "127.0.0.1:40000", now)
	if outcome != OutcomeSetupQueued {
		t.Fatalf("expected SetupQueued, got %v", outcome)
	}
	if len(req.requests) != 1 {
		t.Fatalf("expected one image request, got %d", len(req.requests))
	}
	if req.requests[0].InitialTermID != 5 {
		t.Fatalf("expected initial term id 5, got %d", req.requests[0].InitialTermID)
	}

	// A second SETUP within the debounce window must not re-request.
	outcome = d.OnFrame(su, "127.0.0.1:40000", now.Add(10*time.Millisecond))
	if outcome != OutcomeSetupQueued {
		t.Fatalf("expected SetupQueued on debounce, got %v", outcome)
	}
	if len(req.requests) != 1 {
		t.Fatalf("expected debounce to suppress second request, got %d", len(req.requests))
	}
}

func TestOnFrameRoutesDataToExistingImage(t *testing.T) {
	d := New(nil)
	lb := newTestLogBuffer(64 * 1024)
	img := image.NewImage(1, 1, 10, 5, "aeron:udp?endpoint=localhost:9000", "127.0.0.1:40000", lb, 0, nil, nil, 99)
	d.AddImage(img)

	hdr := logbuffer.Header{FrameLength: 64, Version: logbuffer.FrameVersion, Flags: logbuffer.FlagUnfragmented, Type: logbuffer.FrameTypeData, TermOffset: 0, SessionID: 1, StreamID: 10, TermID: 5}
	buf := make([]byte, 64)
	logbuffer.PutDataHeader(buf, 0, hdr, 0)

	before := img.LastActivityAt
	outcome := d.OnFrame(buf, "127.0.0.1:40000", time.Now())
	if outcome != OutcomeRouted {
		t.Fatalf("expected Routed, got %v", outcome)
	}
	if !img.LastActivityAt.After(before) {
		t.Fatalf("expected OnFrameReceived to bump activity timestamp")
	}
}

func TestOnFrameRejectsSetupWithMismatchedInitialTermID(t *testing.T) {
	d := New(nil)
	lb := newTestLogBuffer(64 * 1024)
	img := image.NewImage(1, 1, 10, 5, "aeron:udp?endpoint=localhost:9000", "127.0.0.1:40000", lb, 0, nil, nil, 99)
	d.AddImage(img)

	su := logbuffer.PutSetup(logbuffer.Setup{SessionID: 1, StreamID: 10, InitialTermID: 6, ActiveTermID: 6, TermLength: 64 * 1024, MTU: 1408})
	outcome := d.OnFrame(su, "127.0.0.1:40000", time.Now())
	if outcome != OutcomeRejected {
		t.Fatalf("expected Rejected, got %v", outcome)
	}
}

func TestOnFramePendingForDataWithoutImage(t *testing.T) {
	d := New(nil)
	d.Subscribe(10, Subscribable{StreamID: 10, Channel: "aeron:udp?endpoint=localhost:9000"})

	hdr := logbuffer.Header{FrameLength: 64, Version: logbuffer.FrameVersion, Flags: logbuffer.FlagUnfragmented, Type: logbuffer.FrameTypeData, TermOffset: 0, SessionID: 1, StreamID: 10, TermID: 5}
	buf := make([]byte, 64)
	logbuffer.PutDataHeader(buf, 0, hdr, 0)

	outcome := d.OnFrame(buf, "127.0.0.1:40000", time.Now())
	if outcome != OutcomePending {
		t.Fatalf("expected Pending, got %v", outcome)
	}
}
