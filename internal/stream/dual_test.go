package stream

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/beamline"
	"github.com/slaclab/bsastream/internal/pulse"
)

const (
	testCh1 = "TST:CHAN:A"
	testCh2 = "TST:CHAN:B"
)

// newTestDual builds a pair on NC_HXR at 60 Hz (ticks_per_sample 6,
// buffer_modulus 2730). Channel A's history holds 0..2799 and channel
// B's 10000..12799, so the alignment slices are distinguishable.
func newTestDual(t *testing.T, beamRate float64, pA, pB uint64) (*DualStream, *fakeTransport) {
	t.Helper()
	spec, err := beamline.Lookup(beamline.NCHXR)
	if err != nil {
		t.Fatalf("Lookup(NC_HXR) failed: %v", err)
	}

	tr := newFakeTransport(beamRate)
	tr.seedHistory(spec.HistoryAddress(testCh1, beamRate), pA, 0)
	tr.seedHistory(spec.HistoryAddress(testCh2, beamRate), pB, 10000)

	logger, _ := zap.NewDevelopment()
	d, err := NewDual(context.Background(), PairConfig{Ch1: testCh1, Ch2: testCh2, Beamline: beamline.NCHXR}, tr, nil, logger)
	if err != nil {
		t.Fatalf("NewDual failed: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, tr
}

func TestAlignIdenticalPulse(t *testing.T) {
	d, _ := newTestDual(t, 60, 600, 600)

	pair := d.Align()
	if pair.Points != 2800 {
		t.Fatalf("Points = %d, want 2800", pair.Points)
	}
	if pair.PulseID != 600 {
		t.Errorf("PulseID = %d, want 600", pair.PulseID)
	}
	if pair.A[0] != 0 || pair.A[2799] != 2799 {
		t.Errorf("A ends = %f, %f, want 0, 2799", pair.A[0], pair.A[2799])
	}
	if pair.B[0] != 10000 || pair.B[2799] != 12799 {
		t.Errorf("B ends = %f, %f, want 10000, 12799", pair.B[0], pair.B[2799])
	}
	if d.LatestSyncedPulseID() != 600 || d.SyncedPoints() != 2800 {
		t.Errorf("recorded sync = %d/%d, want 600/2800", d.LatestSyncedPulseID(), d.SyncedPoints())
	}
}

func TestAlignPositiveOffset(t *testing.T) {
	// B is 18 ticks (3 samples) ahead of A: A lags, so its oldest 3
	// elements have no partner.
	d, _ := newTestDual(t, 60, 600, 618)

	pair := d.Align()
	if pair.Points != 2797 {
		t.Fatalf("Points = %d, want 2797", pair.Points)
	}
	if len(pair.A) != 2797 || len(pair.B) != 2797 {
		t.Fatalf("lengths = %d, %d, want 2797", len(pair.A), len(pair.B))
	}
	if pair.A[0] != 3 {
		t.Errorf("A[0] = %f, want 3 (first three evicted)", pair.A[0])
	}
	if pair.B[0] != 10000 || pair.B[2796] != 12796 {
		t.Errorf("B ends = %f, %f, want 10000, 12796", pair.B[0], pair.B[2796])
	}
	if pair.PulseID != 600 {
		t.Errorf("PulseID = %d, want 600", pair.PulseID)
	}
}

func TestAlignNegativeOffset(t *testing.T) {
	d, _ := newTestDual(t, 60, 618, 600)

	pair := d.Align()
	if pair.Points != 2797 {
		t.Fatalf("Points = %d, want 2797", pair.Points)
	}
	if pair.A[0] != 0 || pair.A[2796] != 2796 {
		t.Errorf("A ends = %f, %f, want 0, 2796", pair.A[0], pair.A[2796])
	}
	if pair.B[0] != 10003 {
		t.Errorf("B[0] = %f, want 10003 (first three evicted)", pair.B[0])
	}
	if pair.PulseID != 600 {
		t.Errorf("PulseID = %d, want 600", pair.PulseID)
	}
}

func TestAlignResolvesWraparound(t *testing.T) {
	// Raw delta 16362 ticks reads as 2727 samples, but the counter
	// wraps every 2730 samples, so the true offset is 3 the other way.
	d, _ := newTestDual(t, 60, 10, 16372)

	pair := d.Align()
	if pair.Points != 2797 {
		t.Fatalf("Points = %d, want 2797", pair.Points)
	}
	// Offset resolved to -3: B lags A.
	if pair.A[0] != 0 {
		t.Errorf("A[0] = %f, want 0", pair.A[0])
	}
	if pair.B[0] != 10003 {
		t.Errorf("B[0] = %f, want 10003", pair.B[0])
	}
	if pair.PulseID != pulse.ID(10) {
		t.Errorf("PulseID = %d, want 10", pair.PulseID)
	}
}

func TestAlignResolvesWraparoundMirrored(t *testing.T) {
	d, _ := newTestDual(t, 60, 16372, 10)

	pair := d.Align()
	if pair.Points != 2797 {
		t.Fatalf("Points = %d, want 2797", pair.Points)
	}
	// Offset resolved to +3: A lags B.
	if pair.A[0] != 3 {
		t.Errorf("A[0] = %f, want 3", pair.A[0])
	}
	if pair.B[0] != 10000 {
		t.Errorf("B[0] = %f, want 10000", pair.B[0])
	}
}

func TestAlignNoBeam(t *testing.T) {
	// Rate source reads zero: the tick spacing is undefined and a
	// nonzero pulse distance cannot be interpreted.
	d, _ := newTestDual(t, 0, 600, 606)

	pair := d.Align()
	if pair.Points != 0 || len(pair.A) != 0 || len(pair.B) != 0 {
		t.Errorf("pair = %+v, want empty", pair)
	}
	if pair.PulseID != 600 {
		t.Errorf("PulseID = %d, want 600", pair.PulseID)
	}
	if d.SyncedPoints() != 0 {
		t.Errorf("SyncedPoints = %d, want 0", d.SyncedPoints())
	}
}

func TestAlignAfterStop(t *testing.T) {
	d, _ := newTestDual(t, 60, 600, 600)

	d.Stop()
	d.Stop()

	pair := d.Align()
	if pair.Points != 0 || pair.A != nil || pair.B != nil {
		t.Errorf("pair after stop = %+v, want zero value", pair)
	}
}

func TestPairStopDetachesBothStreams(t *testing.T) {
	d, tr := newTestDual(t, 60, 600, 600)

	d.Stop()
	if tr.valueSubActive(testCh1) || tr.valueSubActive(testCh2) {
		t.Error("value subscriptions still active after Stop")
	}
}

func TestPairReconfigureRejectsInvalidBeamline(t *testing.T) {
	d, _ := newTestDual(t, 60, 600, 600)

	err := d.Reconfigure(context.Background(), PairConfig{Ch1: testCh1, Ch2: testCh2, Beamline: "CU_HXR"})
	if !errors.Is(err, beamline.ErrInvalidBeamline) {
		t.Errorf("error = %v, want ErrInvalidBeamline", err)
	}
	// The running pair is untouched by the rejected config.
	if pair := d.Align(); pair.Points != 2800 {
		t.Errorf("Points = %d, want 2800 after rejected reconfiguration", pair.Points)
	}
}

func TestPairReconfigureSwapsChannels(t *testing.T) {
	d, tr := newTestDual(t, 60, 600, 600)

	spec, _ := beamline.Lookup(beamline.NCHXR)
	const other = "TST:CHAN:C"
	tr.seedHistory(spec.HistoryAddress(other, 60.0), 600, 20000)

	if err := d.Reconfigure(context.Background(), PairConfig{Ch1: testCh1, Ch2: other, Beamline: beamline.NCHXR}); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if got := d.Ch2(); got != other {
		t.Errorf("Ch2 = %q, want %q", got, other)
	}
	pair := d.Align()
	if pair.Points != 2800 || pair.B[0] != 20000 {
		t.Errorf("pair = Points %d B[0] %f, want 2800/20000", pair.Points, pair.B[0])
	}
	if !tr.valueSubActive(other) {
		t.Error("new channel subscription not attached")
	}
}
