// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は有効期限を過ぎたセッションを削除するジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	// Grace は有効期限を過ぎてから削除するまでの猶予。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
	}
}

// Run はexpires_atがGraceより前のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-j.Grace).UTC()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get deleted session count: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Duration("grace", j.Grace),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
