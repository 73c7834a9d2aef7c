// Package queue は非同期ジョブのキューを提供する。
// 呼び出し側はEnqueuerだけに依存し、配送は別プロセスのワーカーが行う。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultKey はジョブを積むRedisリストのキー。
const DefaultKey = "saaskit:jobs"

// ジョブ種別
const (
	KindConfirmEmail = "mail.confirm"
	KindResetEmail   = "mail.reset"
)

// MailPayload はメール送信ジョブのペイロード。
type MailPayload struct {
	To  string `json:"to"`
	URL string `json:"url"`
}

// Enqueuer はジョブ投入のインターフェース。
// 投入は同期的に行い、処理は非同期に委ねる。
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

// Job はキューに積まれる1件のジョブ。
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode はPayloadを指定の型にデコードする。
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}

// RedisQueue はRedisのリストを使ったキュー。
// LPUSHで投入し、BRPOPで取り出す。配送は少なくとも1回であり、順序は保証しない。
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue は新しいRedisQueueを生成する。
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: DefaultKey}
}

// Connect はRedis URLからクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Enqueue はジョブをキューに投入する。
func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}
	return q.push(ctx, &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
}

// Requeue は処理に失敗したジョブの試行回数を増やして再投入する。
func (q *RedisQueue) Requeue(ctx context.Context, job *Job) error {
	next := *job
	next.Attempts++
	return q.push(ctx, &next)
}

func (q *RedisQueue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Dequeue はジョブを1件取り出す。timeout以内にジョブがなければnilを返す。
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	// result[0]はキー名、result[1]が値
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Len はキューに残っているジョブ数を返す。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ Enqueuer = (*RedisQueue)(nil)
