package transport

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/slaclab/bsastream/internal/beamline"
)

// SimConfig controls the simulated beam source.
type SimConfig struct {
	// BeamRate is the rate reported on rate addresses, in Hz. Also the
	// pacing of value delivery.
	BeamRate float64
	// Dropout is the per-sample probability that a pulse is silently
	// skipped, producing a gap in the stream.
	Dropout float64
	// Amplitude and Noise shape the synthetic waveform.
	Amplitude float64
	Noise     float64
	Seed      int64
}

// Sim is a simulated subscription layer. It paces synthetic samples at
// the configured beam rate and stamps them with a fiducial counter
// derived from wall time, so pulse IDs advance at 360 Hz like the real
// timing system.
type Sim struct {
	cfg    SimConfig
	logger *zap.Logger
	start  time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	subs   map[string]*simSub
	closed bool
}

// NewSim creates a simulated transport.
func NewSim(cfg SimConfig, logger *zap.Logger) *Sim {
	if cfg.BeamRate <= 0 {
		cfg.BeamRate = 120.0
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1.0
	}
	return &Sim{
		cfg:    cfg,
		logger: logger,
		start:  time.Now(),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		subs:   make(map[string]*simSub),
	}
}

// fiducialNanos returns the simulated timestamp for the current wall
// time. The low 14 bits carry the 360 Hz fiducial count.
func (s *Sim) fiducialNanos() uint64 {
	ticks := time.Since(s.start).Seconds() * beamline.FiducialRate
	return uint64(ticks)
}

func (s *Sim) sample(address string, nanos uint64) float64 {
	t := float64(nanos) / beamline.FiducialRate
	// Per-address phase so two channels are correlated but not equal.
	phase := float64(len(address) % 7)
	s.mu.Lock()
	noise := s.rng.NormFloat64() * s.cfg.Noise
	s.mu.Unlock()
	return s.cfg.Amplitude*math.Sin(2*math.Pi*0.1*t+phase) + noise
}

// Subscribe starts a pacing goroutine delivering synthetic samples.
func (s *Sim) Subscribe(address string, cb ValueCallback) (Subscription, error) {
	sub := s.newSub(address)
	go s.streamValues(sub, address, cb)
	return sub, nil
}

// SubscribeRate delivers the configured beam rate once, then repeats
// it periodically the way a rate readback channel does.
func (s *Sim) SubscribeRate(address string, cb RateCallback) (Subscription, error) {
	sub := s.newSub(address)
	go func() {
		sub.deliver(func() { cb(s.cfg.BeamRate) })
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sub.done:
				return
			case <-ticker.C:
				if !sub.deliver(func() { cb(s.cfg.BeamRate) }) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// ReadRate returns the configured beam rate.
func (s *Sim) ReadRate(address string) (float64, error) {
	return s.cfg.BeamRate, nil
}

// ReadHistory synthesizes a full buffer ending at the current fiducial
// count.
func (s *Sim) ReadHistory(ctx context.Context, address string) (History, error) {
	nanos := s.fiducialNanos()
	ticksPerSample := beamline.FiducialRate / s.cfg.BeamRate
	values := make([]float64, beamline.BufferLength)
	for i := range values {
		back := float64(len(values)-1-i) * ticksPerSample
		values[i] = s.sample(address, nanos-uint64(back))
	}
	return History{Values: values, NewestNano: nanos}, nil
}

// Close cancels every active subscription.
func (s *Sim) Close() error {
	s.mu.Lock()
	subs := make([]*simSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}

func (s *Sim) newSub(address string) *simSub {
	sub := &simSub{
		id:   uuid.New().String(),
		done: make(chan struct{}),
		onCancel: func(id string) {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		},
	}
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()

	s.logger.Debug("sim subscription opened",
		zap.String("address", address),
		zap.String("subID", sub.id),
	)
	return sub
}

func (s *Sim) streamValues(sub *simSub, address string, cb ValueCallback) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.BeamRate), 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.done
		cancel()
	}()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		s.mu.Lock()
		drop := s.cfg.Dropout > 0 && s.rng.Float64() < s.cfg.Dropout
		s.mu.Unlock()
		if drop {
			continue
		}

		nanos := s.fiducialNanos()
		value := s.sample(address, nanos)
		if !sub.deliver(func() { cb(value, nanos) }) {
			return
		}
	}
}

// simSub guards callback delivery so that no callback runs after
// Cancel returns.
type simSub struct {
	id       string
	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	onCancel func(id string)
}

func (s *simSub) ID() string { return s.id }

// deliver invokes fn under the cancellation lock. Returns false when
// the subscription has been cancelled.
func (s *simSub) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn()
	return true
}

func (s *simSub) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.onCancel(s.id)
}

var _ Transport = (*Sim)(nil)
