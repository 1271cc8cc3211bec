package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/authservice/internal/worker/cleanup"
)

// cleanupInterval はセッション削除ジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// startSessionCleanup はセッション削除ジョブをバックグラウンドで起動し、停止関数を返す。
// 停止関数はジョブの終了を待ってから戻るため、DBを閉じる前に呼ぶ。
func startSessionCleanup(ctx context.Context, retention time.Duration, pruner cleanup.SessionPruner) func() {
	if retention <= 0 {
		slog.Info("session cleanup disabled")
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	job := cleanup.NewCleanupJob(pruner, slog.Default())
	job.Retention = retention

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, cleanupInterval)
	}()

	return func() {
		cancel()
		<-done
	}
}
