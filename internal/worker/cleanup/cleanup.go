// Package cleanup は長期間使われていないデバイスセッションの削除ジョブを提供する。
// 保持期間（デフォルト180日）ログインも更新もないセッション行を日次バッチで削除する。
// 保持期間はトークンの有効期間より長いため、削除された行を参照する有効なトークンは存在しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention はセッション行の保持期間のデフォルト値。
const DefaultRetention = 180 * 24 * time.Hour

// SessionPruner は指定時刻より前から使われていないセッションを削除する。
// repository.DeviceSessionRepository が満たす。
type SessionPruner interface {
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したデバイスセッションの削除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	pruner    SessionPruner
	logger    *slog.Logger
	Retention time.Duration
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(pruner SessionPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		pruner:    pruner,
		logger:    logger,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run は保持期間を超過したセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	deleted, err := j.pruner.DeleteIdle(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			j.logger.Info("session cleanup interrupted",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to prune idle sessions: %w", err)
		}
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("failed to prune idle sessions: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降はintervalごとに実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup started",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// Runは失敗をログに出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
