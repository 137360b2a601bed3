package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/notify"
	"github.com/alejandrodnm/arbfleet/internal/adapters/storage"
	"github.com/alejandrodnm/arbfleet/internal/application/executor"
	"github.com/alejandrodnm/arbfleet/internal/application/pipeline"
	"github.com/alejandrodnm/arbfleet/internal/application/supervisor"
)

// reporter imprime periódicamente el estado de la flota y del trading.
type reporter struct {
	sup     *supervisor.Supervisor
	pipe    *pipeline.Pipeline
	exec    *executor.Executor
	console *notify.Console
}

func (r *reporter) run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *reporter) report(ctx context.Context) {
	now := time.Now()
	cands, _ := r.pipe.Opportunities()
	stats := r.exec.Stats()
	rep := notify.Report{
		At:         now,
		Workers:    r.sup.Status(),
		Candidates: cands,
		Overall:    stats.Overall,
		BySymbol:   stats.BySymbol,
		Daily:      r.exec.Daily(now),
	}
	if err := r.console.Notify(ctx, rep); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

func printHistory(ctx context.Context, store *storage.SQLiteStorage, period time.Duration) error {
	now := time.Now()
	orders, err := store.GetOrders(ctx, now.Add(-period), now)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	notify.NewConsoleWriter(os.Stdout, true).PrintHistory(orders, period)
	return nil
}
