package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fedepagnotta/lottery-server/internal/metrics"
)

// startMetricsLogger periodically logs a snapshot of the local counters, for
// deployments without a Prometheus scraper attached to -metrics-addr.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"batches_ok", humanize.Comma(int64(snap.BatchesOK)),
					"batches_failed", humanize.Comma(int64(snap.BatchesFailed)),
					"bets_stored", humanize.Comma(int64(snap.BetsStored)),
					"clients_connected", humanize.Comma(int64(snap.Connected)),
					"clients_finished", humanize.Comma(int64(snap.Finished)),
					"draws_run", snap.Draws,
					"errors", humanize.Comma(int64(snap.Errors)),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
