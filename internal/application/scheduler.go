package application

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// ModeSequential polls one project at a time and sleeps after each.
	ModeSequential Mode = "sequential"
	// ModeConcurrent polls every project on its own goroutine.
	ModeConcurrent Mode = "concurrent"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSequential, "":
		return ModeSequential, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	default:
		return "", fmt.Errorf("unknown poll mode %q", s)
	}
}

type Scheduler struct {
	log       *zap.Logger
	ind       domain.Indicator
	mode      Mode
	pauseFile string
	sleep     func(ctx context.Context, d time.Duration)

	mu       sync.RWMutex
	every    time.Duration
	trackers []*Tracker
	dropped  []*Tracker

	reload chan struct{}
}

func NewScheduler(l *zap.Logger, ind domain.Indicator, trackers []*Tracker, every time.Duration, mode Mode, pauseFile string) *Scheduler {
	return &Scheduler{
		log: l, ind: ind, trackers: trackers, every: every, mode: mode, pauseFile: pauseFile,
		sleep:  sleepCtx,
		reload: make(chan struct{}, 1),
	}
}

// UpdateTrackers swaps the tracked project set. Trackers whose project is
// unchanged are kept so their state survives; outputs of dropped projects
// are switched off.
func (s *Scheduler) UpdateTrackers(next []*Tracker) {
	s.mu.Lock()
	old := make(map[string]*Tracker, len(s.trackers))
	for _, t := range s.trackers {
		old[t.Project().Key()] = t
	}

	merged := make([]*Tracker, 0, len(next))
	for _, t := range next {
		key := t.Project().Key()
		if prev, ok := old[key]; ok {
			t = prev
			delete(old, key)
		}
		merged = append(merged, t)
	}
	s.trackers = merged
	for _, t := range old {
		s.dropped = append(s.dropped, t)
	}
	s.mu.Unlock()

	s.log.Info("projects reloaded", zap.Int("projects", len(merged)), zap.Int("dropped", len(old)))
	s.signalReload()
}

func (s *Scheduler) SetInterval(every time.Duration) {
	if every <= 0 {
		return
	}
	s.mu.Lock()
	s.every = every
	s.mu.Unlock()
}

func (s *Scheduler) Trackers() []*Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tracker, len(s.trackers))
	copy(out, s.trackers)
	return out
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.every
}

func (s *Scheduler) signalReload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled, then switches every managed output off
// and closes the device.
func (s *Scheduler) Run(ctx context.Context) error {
	s.lampTest()

	for {
		trackers := s.Trackers()
		genCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		go func() {
			defer close(done)
			s.runGeneration(genCtx, trackers)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return s.shutdown()
		case <-s.reload:
			cancel()
			<-done
			s.releaseDropped()
		}
	}
}

// releaseDropped switches off the outputs of projects removed by a reload
// and drops their cache entries. It runs between generations so no tracker
// can light them again.
func (s *Scheduler) releaseDropped() {
	s.mu.Lock()
	dropped := s.dropped
	s.dropped = nil
	s.mu.Unlock()

	for _, t := range dropped {
		if err := s.ind.AllOff(t.Project().Outputs.All()); err != nil {
			s.log.Warn("indicator", zap.Error(err))
		}
		t.forget(context.Background())
	}
}

func (s *Scheduler) runGeneration(ctx context.Context, trackers []*Tracker) {
	if len(trackers) == 0 {
		<-ctx.Done()
		return
	}

	if s.mode == ModeConcurrent {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range trackers {
			t := t // per-iteration copy; go directive is 1.21
			g.Go(func() error {
				for gctx.Err() == nil {
					s.pollOne(gctx, t)
					s.sleep(gctx, s.interval())
				}
				return nil
			})
		}
		_ = g.Wait()
		return
	}

	for ctx.Err() == nil {
		for _, t := range trackers {
			if ctx.Err() != nil {
				return
			}
			s.pollOne(ctx, t)
			s.sleep(ctx, s.interval())
		}
	}
}

func (s *Scheduler) pollOne(ctx context.Context, t *Tracker) {
	if s.isPaused() {
		s.log.Debug("paused: skipping poll", zap.String("project", t.Project().Label()))
		return
	}
	t.PollOnce(ctx)
	s.log.Debug("next check", zap.Duration("in", s.interval()))
}

func (s *Scheduler) isPaused() bool {
	if s.pauseFile == "" {
		return false
	}
	_, err := os.Stat(s.pauseFile)
	return err == nil
}

// lampTest lights every status LED until the first poll settles it.
func (s *Scheduler) lampTest() {
	for _, t := range s.Trackers() {
		for _, id := range t.Project().Outputs.Colors() {
			if err := s.ind.SetOutput(id, true); err != nil {
				s.log.Warn("lamp test", zap.Error(err))
				return
			}
		}
	}
}

// shutdown runs while the process is being torn down and must not log.
func (s *Scheduler) shutdown() error {
	s.mu.RLock()
	var ids []domain.OutputID
	for _, group := range [][]*Tracker{s.trackers, s.dropped} {
		for _, t := range group {
			ids = append(ids, t.Project().Outputs.All()...)
		}
	}
	s.mu.RUnlock()
	return multierr.Append(s.ind.AllOff(ids), s.ind.CloseUrgently())
}
