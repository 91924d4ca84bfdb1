// Package queue owns the task contract between the dispatcher and the worker
// and wraps the asynq client used to enqueue work.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	// TaskTypeProcessFile is scheduled once per upload. New task variants get
	// their own type constant and payload struct; consumers route on the type
	// string so existing handlers are unaffected.
	TaskTypeProcessFile = "file:process"
)

// ProcessFilePayload is serialized into the task so the worker knows which
// file to process. It is the only channel of processing inputs to the worker;
// attempt accounting stays inside asynq.
type ProcessFilePayload struct {
	FileID       int64  `json:"fileId"`
	FilePath     string `json:"filePath"`
	OriginalName string `json:"originalName"`
}

// RetryPolicy describes how many times a task may run and how redelivery is
// spaced out.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first delivery included.
	MaxAttempts int
	// BaseDelay is the wait before the first retry; each further retry doubles it.
	BaseDelay time.Duration
}

// Delay returns the backoff before the next attempt given how many retries
// have already happened (0 for the first retry).
func (p RetryPolicy) Delay(retried int) time.Duration {
	if retried < 0 {
		retried = 0
	}
	return p.BaseDelay << uint(retried)
}

// Enqueuer is the dispatcher's view of the queue.
type Enqueuer interface {
	EnqueueProcessFile(ctx context.Context, payload ProcessFilePayload) error
}

// Client wraps an asynq.Client with the pipeline's retry policy.
type Client struct {
	client  *asynq.Client
	policy  RetryPolicy
	timeout time.Duration
}

// NewClient builds a queue client. timeout bounds a single attempt; a
// consumer that exceeds it loses the attempt and the task is redelivered
// under the same policy.
func NewClient(opt asynq.RedisClientOpt, policy RetryPolicy, timeout time.Duration) *Client {
	return &Client{
		client:  asynq.NewClient(opt),
		policy:  policy,
		timeout: timeout,
	}
}

var _ Enqueuer = (*Client)(nil)

// EnqueueProcessFile enqueues one processing task for a file.
func (c *Client) EnqueueProcessFile(ctx context.Context, payload ProcessFilePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeProcessFile, data)
	opts := []asynq.Option{
		// asynq counts retries after the first delivery.
		asynq.MaxRetry(c.policy.MaxAttempts - 1),
		asynq.Timeout(c.timeout),
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping verifies the queue's redis backend is reachable before a binary
// commits to serving.
func Ping(ctx context.Context, addr, password string, db int) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return nil
}
