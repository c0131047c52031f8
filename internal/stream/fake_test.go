package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/slaclab/bsastream/internal/pulse"
	"github.com/slaclab/bsastream/internal/transport"
)

// fakeTransport is a scripted subscription layer for stream tests.
// Values and rates are pushed explicitly from the test body.
type fakeTransport struct {
	mu        sync.Mutex
	rate      float64
	rateErr   error
	histErr   error
	subErr    error
	histories map[string]transport.History
	valueSubs map[string]*fakeSub
	rateSubs  map[string]*fakeSub
	seq       int
}

type fakeSub struct {
	id      string
	active  bool
	tr      *fakeTransport
	valueCB transport.ValueCallback
	rateCB  transport.RateCallback
}

func (s *fakeSub) ID() string { return s.id }

func (s *fakeSub) Cancel() {
	s.tr.mu.Lock()
	s.active = false
	s.tr.mu.Unlock()
}

func newFakeTransport(rate float64) *fakeTransport {
	return &fakeTransport{
		rate:      rate,
		histories: make(map[string]transport.History),
		valueSubs: make(map[string]*fakeSub),
		rateSubs:  make(map[string]*fakeSub),
	}
}

func (f *fakeTransport) Subscribe(address string, cb transport.ValueCallback) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.seq++
	sub := &fakeSub{id: fmt.Sprintf("value-%d", f.seq), active: true, tr: f, valueCB: cb}
	f.valueSubs[address] = sub
	return sub, nil
}

func (f *fakeTransport) SubscribeRate(address string, cb transport.RateCallback) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sub := &fakeSub{id: fmt.Sprintf("rate-%d", f.seq), active: true, tr: f, rateCB: cb}
	f.rateSubs[address] = sub
	return sub, nil
}

func (f *fakeTransport) ReadRate(address string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateErr != nil {
		return 0, f.rateErr
	}
	return f.rate, nil
}

func (f *fakeTransport) ReadHistory(ctx context.Context, address string) (transport.History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return transport.History{}, f.histErr
	}
	hist, ok := f.histories[address]
	if !ok {
		return transport.History{}, transport.ErrNoHistory
	}
	return hist, nil
}

func (f *fakeTransport) Close() error { return nil }

// pushValue delivers a value update to the live subscriber of address,
// mimicking the transport's delivery goroutine.
func (f *fakeTransport) pushValue(address string, value float64, nanos uint64) {
	f.mu.Lock()
	sub := f.valueSubs[address]
	deliver := sub != nil && sub.active
	f.mu.Unlock()
	if deliver {
		sub.valueCB(value, nanos)
	}
}

// pushRate delivers a rate update to the rate subscriber of address.
func (f *fakeTransport) pushRate(address string, rate float64) {
	f.mu.Lock()
	sub := f.rateSubs[address]
	deliver := sub != nil && sub.active
	f.mu.Unlock()
	if deliver {
		sub.rateCB(rate)
	}
}

func (f *fakeTransport) valueSubActive(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.valueSubs[address]
	return sub != nil && sub.active
}

func (f *fakeTransport) rateSubActive(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.rateSubs[address]
	return sub != nil && sub.active
}

// seedHistory installs a history buffer whose newest element carries
// the given pulse ID and whose values are base, base+1, ...
func (f *fakeTransport) seedHistory(address string, newestID uint64, base float64) {
	values := make([]float64, 2800)
	for i := range values {
		values[i] = base + float64(i)
	}
	f.mu.Lock()
	f.histories[address] = transport.History{Values: values, NewestNano: newestID}
	f.mu.Unlock()
}

// recordedGaps collects gap reports for assertions.
type recordedGaps struct {
	mu      sync.Mutex
	reports []gapReport
}

type gapReport struct {
	channel  string
	missed   int
	from, to uint16
}

func (r *recordedGaps) MissedPulses(channel string, missed int, from, to pulse.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, gapReport{channel: channel, missed: missed, from: uint16(from), to: uint16(to)})
}

func (r *recordedGaps) all() []gapReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gapReport, len(r.reports))
	copy(out, r.reports)
	return out
}
