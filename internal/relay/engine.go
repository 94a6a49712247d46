package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"path"
	"sync/atomic"
	"time"

	"hls-ftp-relay/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPollFallback is the poll interval used while the source declares no target duration.
	DefaultPollFallback = 2 * time.Second

	// DefaultSweepInterval is how often the retention sweep runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultRetentionWindow is the age after which a mirrored segment is deleted.
	DefaultRetentionWindow = time.Hour
)

// Options tune an Engine. Zero fields take the defaults above.
type Options struct {
	PollFallback    time.Duration
	SweepInterval   time.Duration
	RetentionWindow time.Duration

	// Now is the clock used by the retention sweep.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollFallback <= 0 {
		o.PollFallback = DefaultPollFallback
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = DefaultRetentionWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine relays one stream: a polling loop that mirrors new segments into the
// sink, and a retention sweeper that expires old ones. Both rebuild the
// destination playlist from the sink's listing.
type Engine struct {
	cfg       StreamConfig
	baseURL   *url.URL
	manifests ManifestSource
	segments  SegmentSource
	sink      Sink
	opts      Options
	log       *slog.Logger
	metrics   *metrics.Metrics

	// seen holds the resolved URL of every segment stored so far.
	// Only the polling goroutine touches it.
	seen map[string]struct{}

	state          atomic.Int32
	targetDuration atomic.Uint64 // math.Float64bits
	relayed        atomic.Int64
	lastPollAt     atomic.Int64 // unix nanoseconds
	startedAt      time.Time

	stopCtx     context.Context
	requestStop context.CancelFunc
	done        chan struct{}

	// onExit runs once the polling loop and the sweeper have both returned.
	onExit func()
}

// NewEngine builds an engine for cfg. It fails with a *ValidationError when
// the manifest URL cannot serve as a base for relative segment URIs.
func NewEngine(cfg StreamConfig, manifests ManifestSource, segments SegmentSource, sink Sink, opts Options, log *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	base, err := BaseURL(cfg.ManifestURL)
	if err != nil {
		return nil, &ValidationError{Fields: []string{"m3u8_url"}, Reason: err.Error()}
	}

	if log == nil {
		log = slog.Default()
	}
	stopCtx, requestStop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		baseURL:     base,
		manifests:   manifests,
		segments:    segments,
		sink:        sink,
		opts:        opts.withDefaults(),
		log:         log.With(slog.String("stream_id", string(cfg.ID))),
		metrics:     m,
		seen:        make(map[string]struct{}),
		startedAt:   time.Now().UTC(),
		stopCtx:     stopCtx,
		requestStop: requestStop,
		done:        make(chan struct{}),
	}
	e.state.Store(int32(StateRunning))
	return e, nil
}

// ID returns the stream id.
func (e *Engine) ID() StreamID { return e.cfg.ID }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Done is closed after the engine has fully exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// TargetDuration returns the most recently observed source target duration,
// or zero if the source does not declare one.
func (e *Engine) TargetDuration() float64 {
	return math.Float64frombits(e.targetDuration.Load())
}

func (e *Engine) setTargetDuration(d float64) {
	e.targetDuration.Store(math.Float64bits(d))
}

// Stats reports the engine's current counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		ID:             e.cfg.ID,
		ManifestURL:    e.cfg.ManifestURL,
		State:          e.State().String(),
		TargetDuration: e.TargetDuration(),
		Relayed:        e.relayed.Load(),
		StartedAt:      e.startedAt,
	}
	if ns := e.lastPollAt.Load(); ns != 0 {
		s.LastPollAt = time.Unix(0, ns).UTC()
	}
	return s
}

// Stop moves a running engine to Stopping and cancels its in-flight work.
// It does not wait; use Done for that. Stop is safe to call repeatedly.
func (e *Engine) Stop() {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		e.log.Info("stream stop requested")
	}
	e.requestStop()
}

// Run drives the stream until Stop is called or ctx is cancelled, then runs
// the exit hook, marks the engine Stopped and closes Done.
func (e *Engine) Run(ctx context.Context) {
	defer e.finish()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(e.stopCtx, cancel)
	defer release()

	e.log.Info("stream started", slog.String("m3u8_url", e.cfg.ManifestURL))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.sweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		e.pollLoop(gctx)
		// The sweeper lives only as long as the polling loop.
		cancel()
		return nil
	})
	// Both loops end only on cancellation and report no error.
	_ = g.Wait()
}

func (e *Engine) finish() {
	e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	e.requestStop()
	if e.onExit != nil {
		e.onExit()
	}
	e.state.Store(int32(StateStopped))
	e.log.Info("stream stopped", slog.Int64("segments_relayed", e.relayed.Load()))
	close(e.done)
}

func (e *Engine) pollLoop(ctx context.Context) {
	for e.State() == StateRunning && ctx.Err() == nil {
		e.poll(ctx)
		if !sleepCtx(ctx, e.pollInterval()) {
			return
		}
	}
}

// pollInterval is the source target duration, or the fallback when unknown.
func (e *Engine) pollInterval() time.Duration {
	if td := e.TargetDuration(); td > 0 {
		return time.Duration(td * float64(time.Second))
	}
	return e.opts.PollFallback
}

// poll runs one cycle: fetch the manifest, then relay every segment not yet
// seen, in manifest order. Every failure here is logged and left for the
// next cycle to retry.
func (e *Engine) poll(ctx context.Context) {
	e.lastPollAt.Store(time.Now().UnixNano())

	m, err := e.manifests.FetchManifest(ctx, e.cfg.ManifestURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.metrics.IncFailure(metrics.StageManifest)
		e.log.Warn("manifest unavailable",
			slog.Bool("parse_error", errors.Is(err, ErrManifestParse)),
			slog.String("error", err.Error()))
		return
	}
	e.setTargetDuration(m.TargetDuration)

	for _, seg := range m.Segments {
		if ctx.Err() != nil {
			return
		}
		ref, name, err := ResolveSegment(e.baseURL, seg.URI)
		if err != nil {
			e.log.Warn("skipping unresolvable segment",
				slog.String("uri", seg.URI),
				slog.String("error", err.Error()))
			continue
		}
		if _, ok := e.seen[ref]; ok {
			continue
		}
		e.relaySegment(ctx, ref, name)
	}
}

func (e *Engine) relaySegment(ctx context.Context, ref, name string) {
	data, err := e.segments.FetchSegment(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.metrics.IncFailure(metrics.StageDownload)
		e.log.Warn("segment download failed",
			slog.String("segment", ref),
			slog.String("error", err.Error()))
		return
	}

	if err := e.sink.Store(ctx, name, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.metrics.IncFailure(metrics.StageUpload)
		e.log.Warn("segment upload failed",
			slog.String("segment", name),
			slog.String("error", fmt.Errorf("%w: %w", ErrSinkWrite, err).Error()))
		return
	}

	e.seen[ref] = struct{}{}
	e.relayed.Add(1)
	e.metrics.IncSegmentsRelayed()
	e.log.Info("segment relayed", slog.String("segment", name), slog.Int("bytes", len(data)))

	_ = e.RebuildPlaylist(ctx)
}

// RebuildPlaylist rewrites the destination playlist from the sink's current
// listing. Failures are logged and returned.
func (e *Engine) RebuildPlaylist(ctx context.Context) error {
	n, err := rebuildPlaylist(ctx, e.sink, e.TargetDuration())
	if err != nil {
		if ctx.Err() == nil {
			e.metrics.IncFailure(metrics.StagePlaylist)
			e.log.Warn("playlist update failed", slog.String("error", err.Error()))
		}
		return err
	}
	e.metrics.IncPlaylistRebuilds()
	e.log.Debug("playlist updated", slog.Int("segments", n))
	return nil
}

// sleepCtx waits for d and reports whether it elapsed before ctx was done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// BaseURL returns the directory of manifestURL (scheme, host and the
// directory part of the path, with a trailing slash) against which relative
// segment URIs are resolved. Query and fragment are dropped.
func BaseURL(manifestURL string) (*url.URL, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("manifest url %q is not absolute", manifestURL)
	}

	dir := path.Dir(u.Path)
	if dir == "." || dir == "/" {
		dir = "/"
	} else {
		dir += "/"
	}
	return &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host, Path: dir}, nil
}

// ResolveSegment returns the absolute URL of a manifest segment URI and the
// destination filename for it (the basename of the URL path). Absolute URIs
// are returned unchanged.
func ResolveSegment(base *url.URL, uri string) (ref, name string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.IsAbs() {
		ref = uri
	} else {
		u = base.ResolveReference(u)
		ref = u.String()
	}

	name = path.Base(u.Path)
	if name == "." || name == "/" {
		return "", "", fmt.Errorf("segment uri %q has no file name", uri)
	}
	return ref, name, nil
}
