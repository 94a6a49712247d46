package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hls-ftp-relay/internal/platform/metrics"
)

// SweepResult summarises one retention sweep.
type SweepResult struct {
	Deleted []string
	Failed  int
}

// sweepLoop sweeps immediately and then every SweepInterval until ctx is done.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	e.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep deletes every segment older than the retention window from the sink
// and then rebuilds the playlist. Leftover temporary uploads past the window
// go too but are not reported in the result. Failures are logged; a failed
// delete does not stop the rest of the sweep. Entries without a known
// modification time are left alone.
//
// Expired segments stay in the seen set, so a segment that reappears in the
// source manifest after deletion is not mirrored again.
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	entries, err := e.sink.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.metrics.IncFailure(metrics.StageSweep)
			e.log.Warn("retention sweep list failed", slog.String("error", fmt.Errorf("%w: %w", ErrSinkList, err).Error()))
		}
		return res
	}

	now := e.opts.Now()
	for _, entry := range entries {
		temp := strings.HasSuffix(entry.Name, TempSuffix)
		if !temp && !strings.HasSuffix(entry.Name, SegmentSuffix) {
			continue
		}
		if ctx.Err() != nil {
			return res
		}
		if entry.ModTime.IsZero() {
			e.log.Debug("segment has no modification time", slog.String("segment", entry.Name))
			continue
		}
		if now.Sub(entry.ModTime) <= e.opts.RetentionWindow {
			continue
		}

		if err := e.sink.Delete(ctx, entry.Name); err != nil {
			res.Failed++
			e.metrics.IncFailure(metrics.StageSweep)
			e.log.Warn("expired segment delete failed",
				slog.String("segment", entry.Name),
				slog.String("error", fmt.Errorf("%w: %w", ErrSinkDelete, err).Error()))
			continue
		}
		if temp {
			e.log.Debug("deleted abandoned upload", slog.String("file", entry.Name))
			continue
		}
		res.Deleted = append(res.Deleted, entry.Name)
		e.log.Info("deleted expired segment", slog.String("segment", entry.Name))
	}
	e.metrics.AddSegmentsExpired(len(res.Deleted))

	_ = e.RebuildPlaylist(ctx)
	return res
}
