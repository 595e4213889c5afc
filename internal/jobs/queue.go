package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

type EnqueueResult int

const (
	Skipped EnqueueResult = iota
	Queued
	Replaced
)

func (r EnqueueResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Replaced:
		return "replaced"
	default:
		return "skipped"
	}
}

// enqueueScript stores the payload and schedules the id unless the id is
// leased by a worker or already completed. Returns 0 skipped, 1 queued,
// 2 replaced.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then
  return 0
end
if redis.call('ZSCORE', KEYS[2], ARGV[3]) then
  return 0
end
local existed = redis.call('ZSCORE', KEYS[1], ARGV[3])
redis.call('SET', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
if existed then
  return 2
end
return 1
`)

// claimScript first returns expired leases to the queue, then moves up to
// ARGV[2] due ids into the lease set, leased until ARGV[4], and returns their
// payloads.
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  if redis.call('EXISTS', ARGV[3] .. id) == 1 then
    redis.call('ZADD', KEYS[1], ARGV[1], id)
  end
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local payload = redis.call('GET', ARGV[3] .. id)
  if payload then
    redis.call('ZADD', KEYS[2], ARGV[4], id)
    table.insert(out, payload)
  end
end
return out
`)

type QueueOptions struct {
	Prefix string
	// DoneTTL is how long a completed id refuses re-enqueue.
	DoneTTL time.Duration
	// Lease is how long a claimed job may run before another worker may
	// claim it again.
	Lease      time.Duration
	DeadLimit  int64
	MaxRetries uint64
	Now        func() time.Time
}

func (o *QueueOptions) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "jobs"
	}
	if o.DoneTTL == 0 {
		o.DoneTTL = 7 * 24 * time.Hour
	}
	if o.Lease == 0 {
		o.Lease = 5 * time.Minute
	}
	if o.DeadLimit == 0 {
		o.DeadLimit = 1000
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Queue is a set of named, Redis backed delayed queues with id based
// deduplication.
type Queue struct {
	client *redis.Client
	opts   QueueOptions
	now    func() time.Time
}

func NewQueue(client *redis.Client, opts QueueOptions) *Queue {
	opts.setDefaults()
	return &Queue{client: client, opts: opts, now: opts.Now}
}

func (q *Queue) queueKey(queue string) string  { return q.opts.Prefix + ":queue:" + queue }
func (q *Queue) activeKey(queue string) string { return q.opts.Prefix + ":active:" + queue }
func (q *Queue) deadKey(queue string) string   { return q.opts.Prefix + ":dead:" + queue }
func (q *Queue) jobPrefix() string             { return q.opts.Prefix + ":job:" }
func (q *Queue) doneKey(id string) string      { return q.opts.Prefix + ":done:" + id }

// Enqueue schedules job at job.RunAt, or now when unset. A pending job with
// the same id is replaced; a leased one, or a completed Once job, is left
// alone.
func (q *Queue) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	if job.ID == "" || job.Type == "" || job.Queue == "" {
		return Skipped, fmt.Errorf("job id, type and queue are required")
	}
	if job.RunAt.IsZero() {
		job.RunAt = q.now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Skipped, fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	keys := []string{q.queueKey(job.Queue), q.activeKey(job.Queue), q.jobPrefix() + job.ID, q.doneKey(job.ID)}
	var code int64
	err = q.retry(ctx, func() error {
		var runErr error
		code, runErr = enqueueScript.Run(ctx, q.client, keys, payload, score(job.RunAt), job.ID).Int64()
		return runErr
	})
	if err != nil {
		getMetrics().enqueueTotal.WithLabelValues(job.Queue, "error").Inc()
		return Skipped, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	result := EnqueueResult(code)
	getMetrics().enqueueTotal.WithLabelValues(job.Queue, result.String()).Inc()
	return result, nil
}

// Claim leases up to limit due jobs from queue.
func (q *Queue) Claim(ctx context.Context, queue string, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	keys := []string{q.queueKey(queue), q.activeKey(queue)}
	now := q.now()
	var raw []string
	err := q.retry(ctx, func() error {
		var runErr error
		raw, runErr = claimScript.Run(ctx, q.client, keys,
			score(now), limit, q.jobPrefix(), score(now.Add(q.opts.Lease))).StringSlice()
		if errors.Is(runErr, redis.Nil) {
			return nil
		}
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}

	claimed := make([]Job, 0, len(raw))
	for _, payload := range raw {
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return claimed, fmt.Errorf("decode claimed job: %w", err)
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete releases the lease. Once jobs are also marked done for DoneTTL.
func (q *Queue) Complete(ctx context.Context, job Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.activeKey(job.Queue), job.ID)
		pipe.Del(ctx, q.jobPrefix()+job.ID)
		if job.Once {
			pipe.Set(ctx, q.doneKey(job.ID), q.now().Unix(), q.opts.DoneTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	return nil
}

// Reschedule puts a leased job back on its queue at runAt.
func (q *Queue) Reschedule(ctx context.Context, job Job, runAt time.Time) error {
	job.RunAt = runAt
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.activeKey(job.Queue), job.ID)
		pipe.Set(ctx, q.jobPrefix()+job.ID, payload, 0)
		pipe.ZAdd(ctx, q.queueKey(job.Queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", job.ID, err)
	}
	return nil
}

// Bury moves a leased job to the dead list of its queue.
func (q *Queue) Bury(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.activeKey(job.Queue), job.ID)
		pipe.Del(ctx, q.jobPrefix()+job.ID)
		pipe.LPush(ctx, q.deadKey(job.Queue), payload)
		pipe.LTrim(ctx, q.deadKey(job.Queue), 0, q.opts.DeadLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bury %s: %w", job.ID, err)
	}
	return nil
}

// Pending lists jobs waiting in queue ordered by run time.
func (q *Queue) Pending(ctx context.Context, queue string) ([]Job, error) {
	ids, err := q.client.ZRange(ctx, q.queueKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", queue, err)
	}
	getMetrics().pending.WithLabelValues(queue).Set(float64(len(ids)))
	if len(ids) == 0 {
		return []Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobPrefix() + id
	}
	payloads, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s jobs: %w", queue, err)
	}
	items := make([]Job, 0, len(payloads))
	for _, p := range payloads {
		s, ok := p.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		items = append(items, job)
	}
	return items, nil
}

func (q *Queue) Dead(ctx context.Context, queue string) ([]Job, error) {
	payloads, err := q.client.LRange(ctx, q.deadKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s: %w", queue, err)
	}
	items := make([]Job, 0, len(payloads))
	for _, p := range payloads {
		var job Job
		if err := json.Unmarshal([]byte(p), &job); err != nil {
			return nil, fmt.Errorf("decode dead job: %w", err)
		}
		items = append(items, job)
	}
	return items, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// retry runs op with bounded exponential backoff. Context errors stop it.
func (q *Queue) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, q.opts.MaxRetries), ctx))
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
