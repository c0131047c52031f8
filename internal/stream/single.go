// Package stream maintains pulse-ID-tagged sliding histories of
// beam-synchronous scalar channels and aligns channel pairs for
// correlation analysis.
package stream

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/beamline"
	"github.com/slaclab/bsastream/internal/pulse"
	"github.com/slaclab/bsastream/internal/transport"
)

// Config identifies one streamed channel.
type Config struct {
	// Channel is the data channel address, without event definition.
	Channel string
	// Beamline selects the rate source and history naming convention.
	Beamline beamline.Beamline
}

// GapObserver is notified whenever pulses were missed between two
// consecutive updates. Informational, never an error.
type GapObserver interface {
	MissedPulses(channel string, missed int, from, to pulse.ID)
}

// SingleStream owns one ring buffer and one pulse cursor for one
// channel. Value and rate updates arrive asynchronously on the
// transport's delivery goroutines; Snapshot may be called from any
// other goroutine.
type SingleStream struct {
	tr     transport.Transport
	gaps   GapObserver
	logger *zap.Logger

	// mu guards the buffer + cursor triple and the rate-derived
	// quantities, so a reader never sees a buffer whose contents and
	// pulse ID come from different updates.
	mu      sync.Mutex
	channel string
	line    beamline.Beamline
	spec    beamline.Spec
	ring    *Ring
	latest  pulse.ID
	// prev may be fractional right after a reseed, when it is set to
	// latest minus the (possibly non-integer) ticks per sample.
	prev    float64
	running bool

	sampleRate     float64
	sampleSpacing  float64
	ticksPerSample float64
	bufferModulus  float64

	valueSub transport.Subscription
	rateSub  transport.Subscription
}

// NewSingle creates a stream and performs a raising initialization:
// any subscription or history failure is returned as ErrStreamInit.
func NewSingle(ctx context.Context, cfg Config, tr transport.Transport, gaps GapObserver, logger *zap.Logger) (*SingleStream, error) {
	spec, err := beamline.Lookup(cfg.Beamline)
	if err != nil {
		return nil, err
	}
	s := &SingleStream{
		tr:      tr,
		gaps:    gaps,
		logger:  logger,
		channel: cfg.Channel,
		line:    cfg.Beamline,
		spec:    spec,
		ring:    NewRing(beamline.BufferLength),
	}
	s.clearRate()
	if err := s.reinit(ctx, true); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure validates the new config, tears down the current
// subscriptions and rebuilds the stream. Unlike the property setters
// it takes both fields at once, so a transient invalid combination
// cannot arise and failures are returned rather than downgraded.
func (s *SingleStream) Reconfigure(ctx context.Context, cfg Config) error {
	spec, err := beamline.Lookup(cfg.Beamline)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.channel = cfg.Channel
	s.line = cfg.Beamline
	s.spec = spec
	s.mu.Unlock()
	return s.reinit(ctx, true)
}

// SetChannel changes the data channel and re-initializes. Failures
// during the rebuild are logged, not returned, so a multi-field
// reconfiguration may pass through an invalid intermediate state.
func (s *SingleStream) SetChannel(channel string) {
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
	_ = s.reinit(context.Background(), false)
}

// SetBeamline changes the beamline and re-initializes. An unknown
// beamline is rejected synchronously; rebuild failures are logged.
func (s *SingleStream) SetBeamline(line beamline.Beamline) error {
	spec, err := beamline.Lookup(line)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.line = line
	s.spec = spec
	s.mu.Unlock()
	_ = s.reinit(context.Background(), false)
	return nil
}

// reinit tears down any live subscriptions, re-reads the rate, seeds
// the buffer from the history source and reattaches the value stream.
// Old subscriptions are detached first, so no update callback can run
// concurrently with the buffer replacement.
func (s *SingleStream) reinit(ctx context.Context, raise bool) error {
	s.teardown()

	err := s.initOnce(ctx)
	if err == nil {
		return nil
	}
	s.teardown()
	if raise {
		return fmt.Errorf("%w: %s on %s: %v", ErrStreamInit, s.Channel(), s.BeamlineName(), err)
	}
	s.logger.Warn("stream left disabled after failed reconfiguration",
		zap.String("channel", s.Channel()),
		zap.String("beamline", string(s.BeamlineName())),
		zap.Error(err),
	)
	return nil
}

func (s *SingleStream) initOnce(ctx context.Context) error {
	s.mu.Lock()
	channel := s.channel
	spec := s.spec
	s.mu.Unlock()

	rateSub, err := s.tr.SubscribeRate(spec.RateAddress, s.onRate)
	if err != nil {
		return fmt.Errorf("subscribe rate %s: %w", spec.RateAddress, err)
	}
	s.mu.Lock()
	s.rateSub = rateSub
	s.mu.Unlock()

	current, err := s.tr.ReadRate(spec.RateAddress)
	if err != nil {
		return fmt.Errorf("read rate %s: %w", spec.RateAddress, err)
	}
	s.mu.Lock()
	s.applyRate(current)
	clamped := s.sampleRate
	s.mu.Unlock()

	// Seed from whatever the fastest-populating history buffer is for
	// the current rate, then attach the live stream. The subscription
	// is opened while the lock is held, so the first update cannot
	// land before the snapshot is installed.
	histAddr := spec.HistoryAddress(channel, clamped)
	hist, err := s.tr.ReadHistory(ctx, histAddr)
	if err != nil {
		return fmt.Errorf("read history %s: %w", histAddr, err)
	}
	if len(hist.Values) == 0 {
		return fmt.Errorf("read history %s: %w", histAddr, transport.ErrNoHistory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Reseed(hist.Values)
	s.latest = pulse.FromNanos(hist.NewestNano)
	s.prev = float64(s.latest) - s.ticksPerSample
	valueSub, err := s.tr.Subscribe(channel, s.onValue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s.valueSub = valueSub
	s.running = true

	s.logger.Info("stream initialized",
		zap.String("channel", channel),
		zap.String("beamline", string(s.line)),
		zap.String("history", histAddr),
		zap.Float64("sampleRate", clamped),
	)
	return nil
}

// onValue is the live update path. It runs on the transport's delivery
// goroutine and must complete quickly without propagating errors.
func (s *SingleStream) onValue(value float64, timestampNanos uint64) {
	var gapMissed int
	var gapFrom, gapTo pulse.ID

	s.mu.Lock()
	if !s.running || math.IsNaN(s.ticksPerSample) || s.ticksPerSample <= 0 {
		// Rate not configured yet (or no beam): drop the update.
		s.mu.Unlock()
		return
	}
	newID := pulse.FromNanos(timestampNanos)
	expected := math.Mod(s.prev+s.ticksPerSample, pulse.Modulus)
	// Truncation toward zero, matching the counting the pulse IDs are
	// generated with. Jitter makes the quotient fractional. prev is
	// NaN when the stream was seeded without beam; the first update
	// then lands with no gap accounting.
	missed := 0
	if !math.IsNaN(expected) {
		missed = int((float64(newID) - expected) / s.ticksPerSample)
	}
	if missed > 0 {
		s.ring.PadMissing(missed)
		gapMissed, gapFrom, gapTo = missed, s.latest, newID
	}
	s.ring.Push(value)
	// prev tracks the pulse of the update just consumed, so a
	// sequential stream at exact tick spacing never pads and a gap is
	// accounted once, not re-counted on the following update.
	s.prev = float64(newID)
	s.latest = newID
	channel := s.channel
	s.mu.Unlock()

	if gapMissed > 0 {
		s.logger.Info("missed pulses",
			zap.String("channel", channel),
			zap.Int("missed", gapMissed),
			zap.Uint16("from", uint16(gapFrom)),
			zap.Uint16("to", uint16(gapTo)),
		)
		if s.gaps != nil {
			s.gaps.MissedPulses(channel, gapMissed, gapFrom, gapTo)
		}
	}
}

// onRate updates the sample rate and recomputes the derived timing
// quantities. The buffer is untouched.
func (s *SingleStream) onRate(value float64) {
	s.mu.Lock()
	s.applyRate(value)
	s.mu.Unlock()
}

// applyRate requires s.mu held.
func (s *SingleStream) applyRate(value float64) {
	s.sampleRate = math.Min(value, s.spec.MaxRate)
	if value == 0 || math.IsNaN(value) {
		// No beam: derived quantities are undefined, not an error.
		s.sampleSpacing = math.NaN()
		s.ticksPerSample = math.NaN()
		s.bufferModulus = math.NaN()
		return
	}
	s.sampleSpacing = 1.0 / s.sampleRate
	s.ticksPerSample = beamline.FiducialRate / s.sampleRate
	s.bufferModulus = math.Floor(pulse.Modulus / s.ticksPerSample)
}

func (s *SingleStream) clearRate() {
	s.sampleRate = 0
	s.sampleSpacing = math.NaN()
	s.ticksPerSample = math.NaN()
	s.bufferModulus = math.NaN()
}

// Snapshot returns an independent copy of the buffer and the pulse ID
// of its newest element, taken atomically with respect to updates.
func (s *SingleStream) Snapshot() ([]float64, pulse.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Snapshot(), s.latest
}

// Stop detaches both subscriptions. No update callback is delivered
// after Stop returns. Idempotent.
func (s *SingleStream) Stop() {
	s.teardown()
}

func (s *SingleStream) teardown() {
	s.mu.Lock()
	valueSub, rateSub := s.valueSub, s.rateSub
	s.valueSub, s.rateSub = nil, nil
	s.running = false
	s.mu.Unlock()

	// Cancel outside the lock: a callback already holding its delivery
	// lock may be waiting on s.mu.
	if valueSub != nil {
		valueSub.Cancel()
	}
	if rateSub != nil {
		rateSub.Cancel()
	}
}

// Running reports whether the stream is attached to a live source.
func (s *SingleStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Channel returns the configured data channel address.
func (s *SingleStream) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// BeamlineName returns the configured beamline.
func (s *SingleStream) BeamlineName() beamline.Beamline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.line
}

// SampleRate returns the clamped buffer event rate in Hz.
func (s *SingleStream) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// SampleSpacing returns seconds between samples, NaN when no beam.
func (s *SingleStream) SampleSpacing() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleSpacing
}

// TicksPerSample returns the pulse ID increment expected between
// consecutive updates, NaN when no beam.
func (s *SingleStream) TicksPerSample() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticksPerSample
}

// BufferModulus returns the number of pulses counted before the pulse
// ID rolls over at the current rate, NaN when no beam.
func (s *SingleStream) BufferModulus() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferModulus
}
