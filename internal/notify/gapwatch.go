package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/pulse"
)

// GapWatcher forwards missed-pulse reports to a Notifier when a single
// gap exceeds the burst threshold. It satisfies the stream package's
// GapObserver interface without the stream core depending on notify.
type GapWatcher struct {
	notifier Notifier
	burst    int
	logger   *zap.Logger
}

// NewGapWatcher creates a watcher. A burst of 0 disables alerting.
func NewGapWatcher(notifier Notifier, burst int, logger *zap.Logger) *GapWatcher {
	return &GapWatcher{notifier: notifier, burst: burst, logger: logger}
}

// MissedPulses is called from the update-delivery path; the alert is
// sent on its own goroutine so the delivery thread never blocks on an
// HTTP round trip.
func (g *GapWatcher) MissedPulses(channel string, missed int, from, to pulse.ID) {
	if g.burst <= 0 || missed < g.burst {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.notifier.MissedPulseBurst(ctx, channel, missed, from, to); err != nil {
			g.logger.Warn("gap alert failed",
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
	}()
}
