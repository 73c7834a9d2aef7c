// Package mailer はジョブキューからメール送信ジョブを取り出して配送するワーカーを提供する。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hitoshi/saaskit/internal/mail"
	"github.com/hitoshi/saaskit/internal/metrics"
	"github.com/hitoshi/saaskit/internal/queue"
)

const (
	// MaxAttempts はジョブを再投入する上限回数。
	MaxAttempts = 3
	// sendTries は1回の処理でSMTP送信を試行する回数。
	sendTries = 3

	defaultPollTimeout   = 5 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
	dequeueErrorDelay    = 2 * time.Second
)

// JobQueue はConsumerが必要とするキュー操作。
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Requeue(ctx context.Context, job *queue.Job) error
}

// Consumer はメール送信ジョブのコンシューマー。
// 送信失敗時は指数バックオフで再試行し、それでも失敗した場合はキューへ戻す。
// 試行回数がMaxAttemptsに達したジョブは破棄する。
type Consumer struct {
	queue   JobQueue
	sender  mail.Sender
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	PollTimeout   time.Duration
	RetryInterval time.Duration
}

// NewConsumer は新しいConsumerを生成する。
func NewConsumer(q JobQueue, sender mail.Sender, collector metrics.MetricsCollector, logger *slog.Logger) *Consumer {
	return &Consumer{
		queue:         q,
		sender:        sender,
		metrics:       collector,
		logger:        logger,
		PollTimeout:   defaultPollTimeout,
		RetryInterval: defaultRetryInterval,
	}
}

// Start はコンテキストがキャンセルされるまでジョブを処理し続ける。
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("mail consumer started", slog.Duration("poll_timeout", c.PollTimeout))

	for {
		if ctx.Err() != nil {
			c.logger.Info("mail consumer stopped")
			return
		}

		job, err := c.queue.Dequeue(ctx, c.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to dequeue job", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(dequeueErrorDelay):
			}
			continue
		}
		if job == nil {
			continue
		}

		c.Handle(ctx, job)
	}
}

// Handle は1件のジョブを処理する。
// 一時的な失敗は試行回数を増やして再投入し、恒久的な失敗はログとメトリクスに記録して破棄する。
func (c *Consumer) Handle(ctx context.Context, job *queue.Job) {
	logger := c.logger.With(
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
	)

	msg, err := buildMessage(job)
	if err != nil {
		if errors.Is(err, errUnknownKind) {
			logger.Warn("dropping job of unknown kind")
			return
		}
		logger.Error("dropping undecodable job", slog.String("error", err.Error()))
		c.metrics.RecordEmailFailed(job.Kind)
		return
	}

	err = c.send(ctx, msg)
	if err == nil {
		c.metrics.RecordEmailSent(job.Kind)
		logger.Info("email sent")
		return
	}

	if !errors.Is(err, mail.ErrInvalidHeader) && job.Attempts+1 < MaxAttempts {
		// 停止中でもジョブを失わないよう、再投入はキャンセルを引き継がない
		rqErr := c.queue.Requeue(context.WithoutCancel(ctx), job)
		if rqErr == nil {
			logger.Warn("email delivery failed, job requeued", slog.String("error", err.Error()))
			return
		}
		logger.Error("failed to requeue job", slog.String("error", rqErr.Error()))
	}

	c.metrics.RecordEmailFailed(job.Kind)
	logger.Error("email delivery failed permanently", slog.String("error", err.Error()))
}

// send はバックオフ付きでメールを送信する。ヘッダー不正は再試行しない。
func (c *Consumer) send(ctx context.Context, msg mail.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.sender.Send(ctx, msg); err != nil {
			if errors.Is(err, mail.ErrInvalidHeader) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(sendTries))
	return err
}

var errUnknownKind = errors.New("unknown job kind")

func buildMessage(job *queue.Job) (mail.Message, error) {
	var payload queue.MailPayload
	switch job.Kind {
	case queue.KindConfirmEmail, queue.KindResetEmail:
	default:
		return mail.Message{}, fmt.Errorf("%w: %s", errUnknownKind, job.Kind)
	}
	if err := job.Decode(&payload); err != nil {
		return mail.Message{}, err
	}
	if payload.To == "" || payload.URL == "" {
		return mail.Message{}, fmt.Errorf("failed to build message: empty recipient or url")
	}

	if job.Kind == queue.KindConfirmEmail {
		return mail.ConfirmationMessage(payload.To, payload.URL), nil
	}
	return mail.ResetMessage(payload.To, payload.URL), nil
}
