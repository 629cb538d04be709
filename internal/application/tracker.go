package application

import (
	"context"
	"sync"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Buzzer patterns.
const (
	alertPulse      = 500 * time.Millisecond
	praisePulses    = 2
	praisePulse     = 50 * time.Millisecond
	errorPulses     = 3
	errorPulse      = 300 * time.Millisecond
	urgencyNormal   = "normal"
	urgencyCritical = "critical"
)

// Tracker owns the state of one tracked project and mirrors it onto the
// project's outputs.
type Tracker struct {
	project domain.Project
	fetcher domain.BuildFetcher
	ind     domain.Indicator
	log     *zap.Logger

	note         domain.Notifier
	cache        domain.StatusCache
	onlyRedGreen bool
	sleep        func(ctx context.Context, d time.Duration)

	mu    sync.Mutex
	state domain.ProjectState
	last  domain.Build
}

type TrackerOption func(*Tracker)

func WithNotifier(n domain.Notifier) TrackerOption { return func(t *Tracker) { t.note = n } }

func WithCache(c domain.StatusCache) TrackerOption { return func(t *Tracker) { t.cache = c } }

// WithOnlyRedGreen leaves the outputs alone while a pipeline is pending.
func WithOnlyRedGreen(on bool) TrackerOption { return func(t *Tracker) { t.onlyRedGreen = on } }

func NewTracker(p domain.Project, f domain.BuildFetcher, ind domain.Indicator, l *zap.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		project: p,
		fetcher: f,
		ind:     ind,
		log:     l.With(zap.String("project", p.Label()), zap.String("ref", p.Ref.Ref)),
		sleep:   sleepCtx,
		state:   domain.InitialState(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) Project() domain.Project { return t.project }

func (t *Tracker) State() domain.ProjectState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PollOnce fetches the latest build and updates state and outputs. Fetch
// failures end up on the error indicator; nothing escapes.
func (t *Tracker) PollOnce(ctx context.Context) {
	log := t.log.With(zap.String("poll", uuid.NewString()))

	b, err := t.fetcher.LatestBuild(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("poll abandoned", zap.Error(err))
			return
		}
		t.fail(ctx, log, err)
		t.snapshot(ctx, log)
		return
	}

	t.succeed(ctx, log, b)
	t.snapshot(ctx, log)
}

func (t *Tracker) succeed(ctx context.Context, log *zap.Logger, b domain.Build) {
	t.mu.Lock()
	recovered := t.state.InError
	t.state.InError = false
	if domain.Classify(t.state.Current).Terminal() {
		t.state.Previous = t.state.Current
	}
	t.state.Current = b.Status
	t.last = b
	st := t.state
	t.mu.Unlock()

	status := domain.Classify(st.Current)
	color := domain.ColorFor(status)
	log.Info("build status",
		zap.String("status", st.Current),
		zap.String("color", string(color)),
		zap.Int64("pipeline", b.ID),
	)

	switch {
	case !(t.onlyRedGreen && status == domain.StatusPending):
		t.show(log, color)
	case recovered:
		if err := t.ind.AllOff(t.project.Outputs.Colors()); err != nil {
			log.Warn("indicator", zap.Error(err))
		}
	}

	switch {
	case status == domain.StatusFailed:
		log.Info("blame", zap.String("sha", b.ShortSHA()), zap.String("author", b.AuthorName))
		if st.Previous == domain.RawSuccess {
			t.pulse(ctx, log, 1, alertPulse)
			t.notify(ctx, log, domain.Notification{
				Title:   "❌ " + t.project.Label() + ": build failed",
				Body:    b.ShortSHA() + " by " + b.AuthorName,
				URL:     b.WebURL,
				Urgency: urgencyCritical,
			})
		}
	case status == domain.StatusSuccess && st.Previous == domain.RawFailed:
		log.Info("praise", zap.String("sha", b.ShortSHA()), zap.String("author", b.AuthorName))
		t.pulse(ctx, log, praisePulses, praisePulse)
		t.notify(ctx, log, domain.Notification{
			Title:   "✅ " + t.project.Label() + ": build fixed",
			Body:    b.ShortSHA() + " by " + b.AuthorName,
			URL:     b.WebURL,
			Urgency: urgencyNormal,
		})
	}
}

func (t *Tracker) fail(ctx context.Context, log *zap.Logger, err error) {
	t.mu.Lock()
	first := !t.state.InError
	t.state.InError = true
	t.mu.Unlock()

	log.Error("fetch failed", zap.Error(err))

	out := t.project.Outputs
	if e := t.ind.AllOff(out.Colors()); e != nil {
		log.Warn("indicator", zap.Error(e))
	}
	for _, c := range []domain.Color{domain.Yellow, domain.Red} {
		if e := t.ind.SetOutput(out.Color(c), true); e != nil {
			log.Warn("indicator", zap.Error(e))
		}
	}

	if first {
		t.pulse(ctx, log, errorPulses, errorPulse)
		t.notify(ctx, log, domain.Notification{
			Title:   "⚠️ " + t.project.Label() + ": cannot reach CI",
			Body:    err.Error(),
			Urgency: urgencyCritical,
		})
	}
}

// show lights exactly one color of this project's outputs.
func (t *Tracker) show(log *zap.Logger, c domain.Color) {
	out := t.project.Outputs
	if err := t.ind.AllOff(out.Colors()); err != nil {
		log.Warn("indicator", zap.Error(err))
	}
	if err := t.ind.SetOutput(out.Color(c), true); err != nil {
		log.Warn("indicator", zap.Error(err))
	}
}

func (t *Tracker) pulse(ctx context.Context, log *zap.Logger, count int, d time.Duration) {
	if err := Pulse(ctx, t.ind, t.project.Outputs.Buzzer, count, d, t.sleep); err != nil {
		log.Warn("buzzer", zap.Error(err))
	}
}

func (t *Tracker) notify(ctx context.Context, log *zap.Logger, n domain.Notification) {
	if t.note == nil {
		return
	}
	if err := t.note.Notify(ctx, n); err != nil {
		log.Debug("notify failed", zap.Error(err))
	}
}

func (t *Tracker) snapshot(ctx context.Context, log *zap.Logger) {
	if t.cache == nil {
		return
	}
	t.mu.Lock()
	s := domain.Snapshot{Project: t.project, State: t.state, Build: t.last, Retrieved: time.Now().Unix()}
	t.mu.Unlock()

	if err := t.cache.Write(ctx, s); err != nil {
		log.Warn("status cache write failed", zap.Error(err))
	}
}

// forget removes the project from the status cache once it is no longer
// tracked.
func (t *Tracker) forget(ctx context.Context) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Forget(ctx, t.project.Key()); err != nil {
		t.log.Warn("status cache forget failed", zap.Error(err))
	}
}

// Pulse sounds the buzzer count times, pausing d after each pulse.
func Pulse(ctx context.Context, ind domain.Indicator, buzzer domain.OutputID, count int, d time.Duration, sleep func(context.Context, time.Duration)) error {
	if buzzer == domain.NoOutput {
		return nil
	}
	for i := 0; i < count; i++ {
		if err := ind.Buzz(ctx, buzzer, d); err != nil {
			return err
		}
		if count > 1 {
			sleep(ctx, d)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
