// Package main 异步任务执行器入口（job-worker）
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/config"
	"github.com/TheAccidentalTeacher/NovGen-sub000/internal/wire"
	"github.com/TheAccidentalTeacher/NovGen-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := wire.NewApp(ctx, cfg, "job-worker")
	if err != nil {
		logger.Fatal(ctx, "failed to assemble application", err)
	}
	defer cleanup()

	// 启动时对账,把崩溃进程留下的 in_progress 孤儿任务恢复为可执行。
	if err := app.Queue.Reconcile(ctx); err != nil {
		logger.Error(ctx, "startup reconcile failed", err)
	}

	// 周期清理过期终态任务。
	go cleanupLoop(ctx, app)

	logger.Info(ctx, "job-worker started", "poll_interval", cfg.Worker.PollInterval.String())
	if err := app.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "worker stopped with error", err)
	}
	logger.Info(ctx, "job-worker shutting down")
}

func cleanupLoop(ctx context.Context, app *wire.App) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Queue.Cleanup(ctx, app.Cfg.Worker.CleanupAfterDays); err != nil {
				logger.Error(ctx, "scheduled cleanup failed", err)
			}
		}
	}
}
