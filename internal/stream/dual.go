package stream

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/beamline"
	"github.com/slaclab/bsastream/internal/pulse"
	"github.com/slaclab/bsastream/internal/transport"
)

// PairConfig identifies two channels sharing one beamline.
type PairConfig struct {
	Ch1      string
	Ch2      string
	Beamline beamline.Beamline
}

// AlignedPair is the time-aligned overlap of two stream buffers. A and
// B always have equal length Points; both may be empty when the
// streams are catastrophically desynchronized.
type AlignedPair struct {
	A       []float64
	B       []float64
	PulseID pulse.ID
	Points  int
}

// DualStream composes two SingleStreams and aligns their buffers on
// read. It never receives updates directly and holds no buffer of its
// own; alignment is computed fresh per call.
type DualStream struct {
	tr     transport.Transport
	gaps   GapObserver
	logger *zap.Logger

	mu           sync.Mutex
	cfg          PairConfig
	s1, s2       *SingleStream
	latestSynced pulse.ID
	syncedPoints int
}

// NewDual creates both underlying streams, raising on any failure.
func NewDual(ctx context.Context, cfg PairConfig, tr transport.Transport, gaps GapObserver, logger *zap.Logger) (*DualStream, error) {
	if _, err := beamline.Lookup(cfg.Beamline); err != nil {
		return nil, err
	}
	d := &DualStream{tr: tr, gaps: gaps, logger: logger, cfg: cfg}
	if err := d.rebuild(ctx, true); err != nil {
		return nil, err
	}
	return d, nil
}

// Reconfigure tears down and rebuilds both underlying streams with the
// new pair definition.
func (d *DualStream) Reconfigure(ctx context.Context, cfg PairConfig) error {
	if _, err := beamline.Lookup(cfg.Beamline); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return d.rebuild(ctx, true)
}

// SetCh1 changes the first channel and rebuilds both streams.
// Failures are logged, leaving the pair disabled.
func (d *DualStream) SetCh1(channel string) {
	d.mu.Lock()
	d.cfg.Ch1 = channel
	d.mu.Unlock()
	_ = d.rebuild(context.Background(), false)
}

// SetCh2 changes the second channel and rebuilds both streams.
func (d *DualStream) SetCh2(channel string) {
	d.mu.Lock()
	d.cfg.Ch2 = channel
	d.mu.Unlock()
	_ = d.rebuild(context.Background(), false)
}

// SetBeamline changes the beamline and rebuilds both streams. An
// unknown beamline is rejected synchronously.
func (d *DualStream) SetBeamline(line beamline.Beamline) error {
	if _, err := beamline.Lookup(line); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg.Beamline = line
	d.mu.Unlock()
	_ = d.rebuild(context.Background(), false)
	return nil
}

func (d *DualStream) rebuild(ctx context.Context, raise bool) error {
	d.Stop()

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	s1, err := NewSingle(ctx, Config{Channel: cfg.Ch1, Beamline: cfg.Beamline}, d.tr, d.gaps, d.logger)
	if err == nil {
		var s2 *SingleStream
		s2, err = NewSingle(ctx, Config{Channel: cfg.Ch2, Beamline: cfg.Beamline}, d.tr, d.gaps, d.logger)
		if err == nil {
			d.mu.Lock()
			d.s1, d.s2 = s1, s2
			d.mu.Unlock()
			return nil
		}
		s1.Stop()
	}

	if raise {
		return err
	}
	d.logger.Warn("pair left disabled after failed reconfiguration",
		zap.String("ch1", cfg.Ch1),
		zap.String("ch2", cfg.Ch2),
		zap.String("beamline", string(cfg.Beamline)),
		zap.Error(err),
	)
	return nil
}

// Align snapshots both streams and returns the mutually time-aligned
// overlap. The two snapshots are taken without a cross-stream lock, so
// they may be up to one update apart in wall-clock time; that bounded
// skew is accepted.
func (d *DualStream) Align() AlignedPair {
	d.mu.Lock()
	s1, s2 := d.s1, d.s2
	d.mu.Unlock()
	if s1 == nil || s2 == nil {
		return AlignedPair{}
	}

	b1, p1 := s1.Snapshot()
	b2, p2 := s2.Snapshot()

	dp := pulse.Delta(p1, p2)
	latest := pulse.Min(p1, p2)
	if dp == 0 {
		d.record(latest, len(b1))
		return AlignedPair{A: b1, B: b2, PulseID: latest, Points: len(b1)}
	}

	ticks := s1.TicksPerSample()
	modulus := s1.BufferModulus()
	if math.IsNaN(ticks) || ticks <= 0 || math.IsNaN(modulus) {
		// No beam on the reference stream: the pulse distance cannot
		// be interpreted. Tolerated as a degenerate read.
		d.record(latest, 0)
		return AlignedPair{PulseID: latest}
	}

	// The counter wraps every bufferModulus shots, so a large raw
	// delta is equivalent to a small one of opposite sign. Take
	// whichever interpretation implies fewer lag pulses, keeping that
	// interpretation's own sign.
	raw := int(float64(dp) / ticks)
	rollover := raw - int(modulus)
	if dp < 0 {
		rollover = raw + int(modulus)
	}
	offset := raw
	if abs(rollover) < abs(raw) {
		offset = rollover
	}

	points := len(b1) - abs(offset)
	if points <= 0 {
		// Catastrophic desync; the caller tolerates an empty result.
		d.record(latest, 0)
		return AlignedPair{PulseID: latest}
	}

	pair := AlignedPair{PulseID: latest, Points: points}
	if offset > 0 {
		// Stream 1 lags stream 2.
		pair.A = b1[offset:]
		pair.B = b2[:points]
	} else {
		pair.A = b1[:points]
		pair.B = b2[-offset:]
	}
	d.record(latest, points)
	return pair
}

func (d *DualStream) record(latest pulse.ID, points int) {
	d.mu.Lock()
	d.latestSynced = latest
	d.syncedPoints = points
	d.mu.Unlock()
}

// LatestSyncedPulseID returns the pulse ID of the most recent Align.
func (d *DualStream) LatestSyncedPulseID() pulse.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latestSynced
}

// SyncedPoints returns the overlap length of the most recent Align.
func (d *DualStream) SyncedPoints() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncedPoints
}

// Stop stops both underlying streams. Idempotent.
func (d *DualStream) Stop() {
	d.mu.Lock()
	s1, s2 := d.s1, d.s2
	d.s1, d.s2 = nil, nil
	d.mu.Unlock()

	if s1 != nil {
		s1.Stop()
	}
	if s2 != nil {
		s2.Stop()
	}
}

// Ch1 returns the first channel address.
func (d *DualStream) Ch1() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Ch1
}

// Ch2 returns the second channel address.
func (d *DualStream) Ch2() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Ch2
}

// BeamlineName returns the shared beamline.
func (d *DualStream) BeamlineName() beamline.Beamline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Beamline
}

// SampleRate reports the first stream's clamped rate; both streams
// share the beamline rate source.
func (d *DualStream) SampleRate() float64 {
	d.mu.Lock()
	s1 := d.s1
	d.mu.Unlock()
	if s1 == nil {
		return math.NaN()
	}
	return s1.SampleRate()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
