// Package queue is a Redis-backed durable work queue for crawl jobs with
// at-least-once delivery, bounded retries and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hermes/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrPermanent marks a job failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
	// ErrJobNotFound is returned by Status for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")
)

// Options tunes retry and bookkeeping behaviour.
type Options struct {
	Name        string
	MaxAttempts int
	BackoffBase time.Duration
	ResultTTL   time.Duration
	// Consumer names this process's processing list. Random when empty.
	Consumer string
	// LeaseTTL is how long a consumer may go without a heartbeat before
	// other consumers reclaim its jobs.
	LeaseTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "scraper-queue"
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = 24 * time.Hour
	}
	if o.Consumer == "" {
		o.Consumer = uuid.NewString()
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	return o
}

// envelope is what actually sits in Redis.
type envelope struct {
	ID         string         `json:"id"`
	Job        model.CrawlJob `json:"job"`
	Attempts   int            `json:"attempts"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Delivery is one dequeued job. It must be settled with Ack or Fail.
type Delivery struct {
	ID       string
	Job      model.CrawlJob
	Attempts int // previous failed attempts

	raw string
}

// RedisQueue implements the broker on plain Redis lists:
//
//	<name>                  ready jobs (LPUSH / BRPOPLPUSH)
//	<name>:processing:<c>   jobs handed to consumer c and not yet settled
//	<name>:consumer:<c>     heartbeat of consumer c, expires after LeaseTTL
//	<name>:consumers        set of consumers that may hold jobs
//	<name>:delayed          zset of retries scored by their due time
//	<name>:dead             jobs that exhausted their attempts
//	<name>:job:<id>         JSON JobStatus
//
// A consumer whose heartbeat expired is presumed dead and its processing
// list is moved back to ready by whichever consumer notices first.
type RedisQueue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

func New(rdb *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{rdb: rdb, opts: opts.withDefaults(), now: time.Now}
}

func (q *RedisQueue) readyKey() string     { return q.opts.Name }
func (q *RedisQueue) delayedKey() string   { return q.opts.Name + ":delayed" }
func (q *RedisQueue) deadKey() string      { return q.opts.Name + ":dead" }
func (q *RedisQueue) consumersKey() string { return q.opts.Name + ":consumers" }
func (q *RedisQueue) processingKey() string {
	return q.processingKeyOf(q.opts.Consumer)
}
func (q *RedisQueue) processingKeyOf(consumer string) string {
	return q.opts.Name + ":processing:" + consumer
}
func (q *RedisQueue) heartbeatKey(consumer string) string {
	return q.opts.Name + ":consumer:" + consumer
}
func (q *RedisQueue) statusKey(id string) string {
	return q.opts.Name + ":job:" + id
}

// Enqueue appends a job and returns its id. The job is visible to workers
// as soon as this returns.
func (q *RedisQueue) Enqueue(ctx context.Context, job model.CrawlJob) (string, error) {
	env := envelope{
		ID:         uuid.NewString(),
		Job:        job,
		EnqueuedAt: q.now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	status, err := q.statusJSON(model.JobStatus{ID: env.ID, Job: job, State: model.JobQueued})
	if err != nil {
		return "", err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.statusKey(env.ID), status, q.opts.ResultTTL)
	pipe.LPush(ctx, q.readyKey(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return env.ID, nil
}

// Dequeue waits up to timeout for a job. It returns (nil, nil) when the wait
// elapses with nothing to do. The job stays on the processing list until
// settled, so a crash never loses it.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if err := q.Heartbeat(ctx); err != nil {
		return nil, err
	}
	if err := q.PromoteDue(ctx); err != nil {
		return nil, err
	}

	raw, err := q.rdb.BRPopLPush(ctx, q.readyKey(), q.processingKey(), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Poison message: park it where a human can look at it.
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, raw)
		pipe.LPush(ctx, q.deadKey(), raw)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}

	d := &Delivery{ID: env.ID, Job: env.Job, Attempts: env.Attempts, raw: raw}
	if err := q.setStatus(ctx, model.JobStatus{
		ID: env.ID, Job: env.Job, State: model.JobRunning, Attempts: env.Attempts,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// Ack settles a successful job and records what it produced.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery, articles []model.ScrapedArticle) error {
	status, err := q.statusJSON(model.JobStatus{
		ID: d.ID, Job: d.Job, State: model.JobSucceeded, Attempts: d.Attempts + 1, Articles: articles,
	})
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.Set(ctx, q.statusKey(d.ID), status, q.opts.ResultTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail settles a failed job: it is scheduled for a retry with exponential
// backoff, or dead-lettered once attempts are exhausted or the error wraps
// ErrPermanent.
func (q *RedisQueue) Fail(ctx context.Context, d *Delivery, cause error) error {
	attempts := d.Attempts + 1
	env := envelope{ID: d.ID, Job: d.Job, Attempts: attempts, EnqueuedAt: q.now().UTC()}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	dead := errors.Is(cause, ErrPermanent) || attempts >= q.opts.MaxAttempts
	state := model.JobFailed
	if dead {
		state = model.JobDead
	}
	status, err := q.statusJSON(model.JobStatus{
		ID: d.ID, Job: d.Job, State: state, Attempts: attempts, LastError: cause.Error(),
	})
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	if dead {
		pipe.LPush(ctx, q.deadKey(), raw)
	} else {
		due := q.now().Add(q.backoff(attempts))
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: string(raw)})
	}
	pipe.Set(ctx, q.statusKey(d.ID), status, q.opts.ResultTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// backoff doubles per attempt: base, 2*base, 4*base...
func (q *RedisQueue) backoff(attempts int) time.Duration {
	delay := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// promoteScript moves every due retry onto the ready list in one step, so
// a crash never drops a job between the two collections.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, raw in ipairs(due) do
	redis.call('ZREM', KEYS[1], raw)
	redis.call('LPUSH', KEYS[2], raw)
end
return #due
`)

// reclaimScript drains a consumer's processing list back to ready. With
// ARGV[2] == "expired" it does nothing while the consumer's heartbeat is
// still alive.
var reclaimScript = redis.NewScript(`
if ARGV[2] == 'expired' and redis.call('EXISTS', KEYS[3]) == 1 then
	return -1
end
local n = 0
while redis.call('RPOPLPUSH', KEYS[1], KEYS[2]) do
	n = n + 1
end
redis.call('DEL', KEYS[3])
redis.call('SREM', KEYS[4], ARGV[1])
return n
`)

// PromoteDue moves retries whose backoff has elapsed back onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) error {
	upper := strconv.FormatInt(q.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, upper).Err()
}

// Heartbeat registers this consumer and renews its lease. Consumers that
// hold jobs for longer than LeaseTTL must call it periodically.
func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, q.consumersKey(), q.opts.Consumer)
	pipe.Set(ctx, q.heartbeatKey(q.opts.Consumer), q.now().UTC().Format(time.RFC3339), q.opts.LeaseTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// HeartbeatInterval is how often Heartbeat should run to keep the lease.
func (q *RedisQueue) HeartbeatInterval() time.Duration {
	return q.opts.LeaseTTL / 3
}

// Recover re-queues the jobs of every other consumer whose lease expired
// and returns how many were moved. Jobs of live consumers are untouched.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	consumers, err := q.rdb.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, c := range consumers {
		if c == q.opts.Consumer {
			continue
		}
		n, err := q.reclaim(ctx, c, "expired")
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Release hands this consumer's unsettled jobs back to the ready list and
// drops its lease. Call it when no job of this consumer is running: at
// startup, for a restarted consumer with a fixed name, and after shutdown.
func (q *RedisQueue) Release(ctx context.Context) (int, error) {
	return q.reclaim(ctx, q.opts.Consumer, "always")
}

func (q *RedisQueue) reclaim(ctx context.Context, consumer, mode string) (int, error) {
	keys := []string{q.processingKeyOf(consumer), q.readyKey(), q.heartbeatKey(consumer), q.consumersKey()}
	n, err := reclaimScript.Run(ctx, q.rdb, keys, consumer, mode).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim jobs of consumer %s: %w", consumer, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Status returns the last recorded state of a job.
func (q *RedisQueue) Status(ctx context.Context, id string) (*model.JobStatus, error) {
	val, err := q.rdb.Get(ctx, q.statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var status model.JobStatus
	if err := json.Unmarshal(val, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Depth reports the queue sizes, for health output. processing sums the
// lists of all registered consumers.
func (q *RedisQueue) Depth(ctx context.Context) (ready, processing, delayed, dead int64, err error) {
	consumers, err := q.rdb.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return
	}

	pipe := q.rdb.Pipeline()
	r := pipe.LLen(ctx, q.readyKey())
	dl := pipe.ZCard(ctx, q.delayedKey())
	dd := pipe.LLen(ctx, q.deadKey())
	lists := make([]*redis.IntCmd, len(consumers))
	for i, c := range consumers {
		lists[i] = pipe.LLen(ctx, q.processingKeyOf(c))
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return
	}
	for _, l := range lists {
		processing += l.Val()
	}
	return r.Val(), processing, dl.Val(), dd.Val(), nil
}

func (q *RedisQueue) setStatus(ctx context.Context, s model.JobStatus) error {
	data, err := q.statusJSON(s)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.statusKey(s.ID), data, q.opts.ResultTTL).Err()
}

func (q *RedisQueue) statusJSON(s model.JobStatus) ([]byte, error) {
	s.UpdatedAt = q.now().UTC()
	return json.Marshal(s)
}
