package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/stream"
)

// Streamer broadcasts buffer snapshots and aligned pairs to subscribed
// clients at a fixed interval. Groups are named after registry
// entries.
type Streamer struct {
	hub      *Hub
	registry *stream.Registry
	encoder  *Encoder
	interval time.Duration
	logger   *zap.Logger
}

// NewStreamer creates a new Streamer.
func NewStreamer(hub *Hub, registry *stream.Registry, interval time.Duration, logger *zap.Logger) (*Streamer, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, err
	}

	return &Streamer{
		hub:      hub,
		registry: registry,
		encoder:  enc,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run starts the streaming loop. Call in a goroutine.
// Returns when context is cancelled.
func (s *Streamer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("snapshot streamer started",
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot streamer stopping")
			s.encoder.Close()
			return

		case <-ticker.C:
			s.broadcastTick()
		}
	}
}

// broadcastTick sends the current snapshot to every active group.
func (s *Streamer) broadcastTick() {
	groups := s.hub.GetActiveGroups()
	if len(groups) == 0 {
		return
	}

	for _, group := range groups {
		frame, ok := s.buildFrame(group)
		if !ok {
			continue
		}
		payload, err := s.encoder.Encode(frame)
		if err != nil {
			s.logger.Debug("failed to encode frame",
				zap.String("group", group),
				zap.Error(err),
			)
			continue
		}
		s.hub.BroadcastData(group, payload)
	}
}

func (s *Streamer) buildFrame(group string) (interface{}, bool) {
	if single, ok := s.registry.Stream(group); ok {
		values, id := single.Snapshot()
		return &SnapshotFrame{
			Type:       "snapshot",
			Name:       group,
			Channel:    single.Channel(),
			PulseID:    id,
			SampleRate: single.SampleRate(),
			Values:     values,
		}, true
	}
	if pair, ok := s.registry.Pair(group); ok {
		aligned := pair.Align()
		return &AlignedFrame{
			Type:    "aligned",
			Name:    group,
			PulseID: aligned.PulseID,
			Points:  aligned.Points,
			A:       aligned.A,
			B:       aligned.B,
		}, true
	}
	return nil, false
}

// RegistryValidator builds the hub's subscription validator: a group
// is valid when it names a registry entry.
func RegistryValidator(registry *stream.Registry) GroupValidator {
	return func(group string) bool {
		if _, ok := registry.Stream(group); ok {
			return true
		}
		_, ok := registry.Pair(group)
		return ok
	}
}
