package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grafana/pyroscope-go/godeltaprof"
	"github.com/mileusna/crontab"

	"github.com/opskb/ragd/internal/config"
	"github.com/opskb/ragd/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ragd: config error:", err)
		os.Exit(2)
	}

	app, err := CreateApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ragd: startup error:", err)
		os.Exit(3)
	}

	ctab := crontab.New()

	if cfg.Observability.ProfilingEnabled {
		startProfiling(ctab, cfg.Observability.ProfilingDir)
	}

	startMaintenance(ctab, app)

	logging.GetLogger().WithField("addr", cfg.HTTP.Addr).Info("ragd: listening")
	if err := app.Start(); err != nil {
		logging.GetLogger().WithError(err).Error("ragd: server exited")
		os.Exit(4)
	}
}

// startProfiling wires the continuous-profiling agent behind the
// observability.profiling.enabled flag. The teacher's go.mod carries
// godeltaprof as a direct dependency with no call site in its own
// source; this is that dependency's first real caller. It snapshots a
// delta heap profile to dir on the same crontab used for cache
// maintenance, rather than shipping samples to a pyroscope server this
// gateway has no config surface for.
func startProfiling(ctab *crontab.Crontab, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.GetLogger().WithError(err).Warn("ragd: could not create profiling directory, profiling disabled")
		return
	}

	profiler := godeltaprof.NewHeapProfiler()
	snapshot := func() {
		path := filepath.Join(dir, fmt.Sprintf("heap-%d.pprof", time.Now().Unix()))
		f, err := os.Create(path)
		if err != nil {
			logging.GetLogger().WithError(err).Warn("ragd: failed to create heap profile snapshot file")
			return
		}
		defer f.Close()
		if err := profiler.Profile(f); err != nil {
			logging.GetLogger().WithError(err).Warn("ragd: failed to write heap profile snapshot")
		}
	}

	snapshot()
	if err := ctab.AddJob("*/5 * * * *", snapshot); err != nil {
		logging.GetLogger().WithError(err).Warn("ragd: failed to schedule heap profile snapshot job")
	}
	logging.GetLogger().WithField("dir", dir).Info("ragd: continuous profiling enabled")
}

// startMaintenance runs the cache's out-of-band expiry sweep once
// immediately, then every 2 minutes, grounded on the teacher's
// HealthcheckCrontabService.Start (run-once-then-schedule shape, same
// 2-minute cadence).
func startMaintenance(ctab *crontab.Crontab, app *Application) {
	sweep := func() {
		app.Cache.Sweep()
	}
	sweep()
	if err := ctab.AddJob("*/2 * * * *", sweep); err != nil {
		logging.GetLogger().WithError(err).Warn("ragd: failed to schedule cache sweep job")
	}
}
