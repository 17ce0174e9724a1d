package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"
)

// Reap kills every process whose executable name matches the configured
// ffmpeg binary. It runs once at boot, before the engine accepts work: any
// encoder found at that point belongs to a previous run of this service and
// nothing tracks it any more, so a fresh engine starts from an empty
// registry and a clean process table.
//
// The match is by binary name, so unrelated ffmpeg jobs on a shared host
// would be caught too; deployments that share a host should point the
// engine at a dedicated binary name.
func Reap(ctx context.Context, ffmpegBin string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	want := filepath.Base(ffmpegBin)

	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	var killed atomic.Int64
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, p := range procs {
		p := p
		group.Go(func() error {
			name, err := p.NameWithContext(ctx)
			if err != nil || name != want {
				return nil
			}
			if err := p.KillWithContext(ctx); err != nil {
				logger.Warn("failed to kill orphaned encoder",
					slog.Int("pid", int(p.Pid)),
					slog.String("error", err.Error()))
				return nil
			}
			logger.Info("killed orphaned encoder", slog.Int("pid", int(p.Pid)))
			killed.Add(1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return int(killed.Load()), err
	}
	return int(killed.Load()), nil
}
