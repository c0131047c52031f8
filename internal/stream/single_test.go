package stream

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/beamline"
)

const testChannel = "TST:CHAN:A"

// newTestSingle builds a stream on NC_HXR with a 60 Hz scripted rate,
// seeded so the newest history element carries pulse ID 600. With
// ticks_per_sample = 6 the first live update is expected at 600.
func newTestSingle(t *testing.T) (*SingleStream, *fakeTransport, *recordedGaps, beamline.Spec) {
	t.Helper()
	spec, err := beamline.Lookup(beamline.NCHXR)
	if err != nil {
		t.Fatalf("Lookup(NC_HXR) failed: %v", err)
	}

	tr := newFakeTransport(60.0)
	tr.seedHistory(spec.HistoryAddress(testChannel, 60.0), 600, 0)

	gaps := &recordedGaps{}
	logger, _ := zap.NewDevelopment()
	s, err := NewSingle(context.Background(), Config{Channel: testChannel, Beamline: beamline.NCHXR}, tr, gaps, logger)
	if err != nil {
		t.Fatalf("NewSingle failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, tr, gaps, spec
}

func TestInitSeedsFromHistory(t *testing.T) {
	s, tr, _, spec := newTestSingle(t)

	if !s.Running() {
		t.Fatal("stream not running after init")
	}
	if !tr.valueSubActive(testChannel) {
		t.Error("value subscription not attached")
	}
	if !tr.rateSubActive(spec.RateAddress) {
		t.Error("rate subscription not attached")
	}

	buf, id := s.Snapshot()
	if len(buf) != 2800 {
		t.Fatalf("snapshot length = %d, want 2800", len(buf))
	}
	if buf[0] != 0 || buf[2799] != 2799 {
		t.Errorf("snapshot ends = %f, %f, want 0, 2799", buf[0], buf[2799])
	}
	if id != 600 {
		t.Errorf("snapshot pulse ID = %d, want 600", id)
	}

	if got := s.SampleRate(); got != 60.0 {
		t.Errorf("SampleRate = %f, want 60", got)
	}
	if got := s.TicksPerSample(); got != 6.0 {
		t.Errorf("TicksPerSample = %f, want 6", got)
	}
	if got := s.BufferModulus(); got != 2730.0 {
		t.Errorf("BufferModulus = %f, want 2730", got)
	}
	if got := s.SampleSpacing(); got != 1.0/60.0 {
		t.Errorf("SampleSpacing = %f, want %f", got, 1.0/60.0)
	}
}

func TestSequentialUpdatesDoNotPad(t *testing.T) {
	s, tr, gaps, _ := newTestSingle(t)

	tr.pushValue(testChannel, 100, 600)
	tr.pushValue(testChannel, 101, 606)
	tr.pushValue(testChannel, 102, 612)

	buf, id := s.Snapshot()
	if id != 612 {
		t.Errorf("pulse ID = %d, want 612", id)
	}
	tail := buf[2797:]
	if tail[0] != 100 || tail[1] != 101 || tail[2] != 102 {
		t.Errorf("tail = %v, want [100 101 102]", tail)
	}
	for i, v := range buf {
		if math.IsNaN(v) {
			t.Fatalf("unexpected NaN at slot %d after sequential updates", i)
		}
	}
	if got := gaps.all(); len(got) != 0 {
		t.Errorf("gap reports = %v, want none", got)
	}
}

func TestMissedPulsesPaddedOnce(t *testing.T) {
	s, tr, gaps, _ := newTestSingle(t)

	tr.pushValue(testChannel, 50, 600)
	// Next update expected at 606; arriving 18 ticks late means three
	// pulses were missed.
	tr.pushValue(testChannel, 51, 624)

	buf, id := s.Snapshot()
	if id != 624 {
		t.Errorf("pulse ID = %d, want 624", id)
	}
	tail := buf[2795:]
	if tail[0] != 50 {
		t.Errorf("slot 2795 = %f, want 50", tail[0])
	}
	if !math.IsNaN(tail[1]) || !math.IsNaN(tail[2]) || !math.IsNaN(tail[3]) {
		t.Errorf("padded slots = %v, want three NaN", tail[1:4])
	}
	if tail[4] != 51 {
		t.Errorf("newest slot = %f, want 51", tail[4])
	}

	got := gaps.all()
	if len(got) != 1 {
		t.Fatalf("gap reports = %d, want 1", len(got))
	}
	if got[0].channel != testChannel || got[0].missed != 3 || got[0].from != 600 || got[0].to != 624 {
		t.Errorf("gap report = %+v, want {%s 3 600 624}", got[0], testChannel)
	}

	// The gap is accounted once: the next sequential update pads
	// nothing further.
	tr.pushValue(testChannel, 52, 630)
	buf, _ = s.Snapshot()
	if buf[2799] != 52 || buf[2798] != 51 {
		t.Errorf("tail after follow-up = %v, want [51 52]", buf[2798:])
	}
	if got := gaps.all(); len(got) != 1 {
		t.Errorf("gap reports after follow-up = %d, want still 1", len(got))
	}
}

func TestMissedCountTruncatesTowardZero(t *testing.T) {
	_, tr, gaps, _ := newTestSingle(t)

	tr.pushValue(testChannel, 1, 600)
	// Four ticks of jitter past the expected 606: 4/6 truncates to 0.
	tr.pushValue(testChannel, 2, 610)
	if got := gaps.all(); len(got) != 0 {
		t.Fatalf("gap reports after jitter = %v, want none", got)
	}

	// Eight ticks past the expected 616: 8/6 truncates to 1.
	tr.pushValue(testChannel, 3, 624)
	got := gaps.all()
	if len(got) != 1 || got[0].missed != 1 {
		t.Fatalf("gap reports = %v, want one report of 1", got)
	}
}

func TestRateZeroSuspendsWithoutTouchingBuffer(t *testing.T) {
	s, tr, _, spec := newTestSingle(t)

	before, beforeID := s.Snapshot()
	tr.pushRate(spec.RateAddress, 0)

	if got := s.SampleRate(); got != 0 {
		t.Errorf("SampleRate = %f, want 0", got)
	}
	if !math.IsNaN(s.SampleSpacing()) || !math.IsNaN(s.TicksPerSample()) || !math.IsNaN(s.BufferModulus()) {
		t.Error("derived quantities not NaN after rate dropped to zero")
	}

	after, afterID := s.Snapshot()
	if afterID != beforeID {
		t.Errorf("pulse ID changed from %d to %d on rate update", beforeID, afterID)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("buffer slot %d changed from %f to %f on rate update", i, before[i], after[i])
		}
	}

	// Updates arriving with no beam are dropped.
	tr.pushValue(testChannel, 99, 606)
	after, afterID = s.Snapshot()
	if afterID != beforeID || after[2799] == 99 {
		t.Error("update applied while rate was zero")
	}

	// Beam back: updates flow again.
	tr.pushRate(spec.RateAddress, 60)
	tr.pushValue(testChannel, 99, 606)
	after, _ = s.Snapshot()
	if after[2799] != 99 {
		t.Errorf("newest slot = %f, want 99 after rate restored", after[2799])
	}
}

func TestRateClampedToFacilityMax(t *testing.T) {
	s, tr, _, spec := newTestSingle(t)

	tr.pushRate(spec.RateAddress, 200)
	if got := s.SampleRate(); got != 120.0 {
		t.Errorf("SampleRate = %f, want clamped 120", got)
	}
	if got := s.TicksPerSample(); got != 3.0 {
		t.Errorf("TicksPerSample = %f, want 3", got)
	}
}

func TestStopDetachesAndIsIdempotent(t *testing.T) {
	s, tr, _, spec := newTestSingle(t)

	s.Stop()
	if s.Running() {
		t.Error("Running true after Stop")
	}
	if tr.valueSubActive(testChannel) {
		t.Error("value subscription still active after Stop")
	}
	if tr.rateSubActive(spec.RateAddress) {
		t.Error("rate subscription still active after Stop")
	}

	_, beforeID := s.Snapshot()
	tr.pushValue(testChannel, 7, 606)
	buf, afterID := s.Snapshot()
	if afterID != beforeID || buf[2799] == 7 {
		t.Error("update delivered after Stop")
	}

	s.Stop()
}

func TestInitFailureRaises(t *testing.T) {
	tr := newFakeTransport(60.0)
	logger, _ := zap.NewDevelopment()

	// No history seeded: the fetch fails and the constructor raises.
	_, err := NewSingle(context.Background(), Config{Channel: testChannel, Beamline: beamline.NCHXR}, tr, nil, logger)
	if err == nil {
		t.Fatal("expected error when history fetch fails")
	}
	if !errors.Is(err, ErrStreamInit) {
		t.Errorf("error = %v, want ErrStreamInit", err)
	}
}

func TestInitInvalidBeamline(t *testing.T) {
	tr := newFakeTransport(60.0)
	logger, _ := zap.NewDevelopment()

	_, err := NewSingle(context.Background(), Config{Channel: testChannel, Beamline: "CU_HXR"}, tr, nil, logger)
	if !errors.Is(err, beamline.ErrInvalidBeamline) {
		t.Errorf("error = %v, want ErrInvalidBeamline", err)
	}
}

func TestSetChannelFailureLeavesDisabled(t *testing.T) {
	s, tr, _, _ := newTestSingle(t)

	// No history exists for the new channel, so the non-raising rebuild
	// downgrades the failure and leaves the stream detached.
	s.SetChannel("TST:CHAN:MISSING")

	if s.Running() {
		t.Error("Running true after failed reconfiguration")
	}
	if got := s.Channel(); got != "TST:CHAN:MISSING" {
		t.Errorf("Channel = %q, want new channel retained", got)
	}
	if tr.valueSubActive(testChannel) {
		t.Error("old value subscription still active")
	}
}

func TestReconfigureRejectsInvalidBeamline(t *testing.T) {
	s, _, _, _ := newTestSingle(t)

	err := s.Reconfigure(context.Background(), Config{Channel: testChannel, Beamline: "NOPE"})
	if !errors.Is(err, beamline.ErrInvalidBeamline) {
		t.Errorf("error = %v, want ErrInvalidBeamline", err)
	}
	if !s.Running() {
		t.Error("stream should keep running after rejected reconfiguration")
	}
}

func TestReconfigureRebuilds(t *testing.T) {
	s, tr, _, spec := newTestSingle(t)

	const other = "TST:CHAN:B"
	tr.seedHistory(spec.HistoryAddress(other, 60.0), 900, 5000)

	if err := s.Reconfigure(context.Background(), Config{Channel: other, Beamline: beamline.NCHXR}); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}

	buf, id := s.Snapshot()
	if id != 900 {
		t.Errorf("pulse ID = %d, want 900 after reconfigure", id)
	}
	if buf[0] != 5000 {
		t.Errorf("oldest slot = %f, want 5000 after reconfigure", buf[0])
	}
	if tr.valueSubActive(testChannel) {
		t.Error("old channel subscription still active")
	}
	if !tr.valueSubActive(other) {
		t.Error("new channel subscription not attached")
	}
}
