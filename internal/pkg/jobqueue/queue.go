package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// Stats counters kept in the stats hash.
const (
	statEnqueued  = "enqueued"
	statCompleted = "completed"
	statFailed    = "failed"
	statRetried   = "retried"
	statStalled   = "stalled"
)

// Handler processes a single job. Returning an error hands the job back to
// the retry policy; wrap it with Permanent to skip the remaining attempts.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// DeadLetterSink receives jobs that exhausted their attempts.
type DeadLetterSink interface {
	Archive(ctx context.Context, job *Job) error
}

// Options configures a Queue
type Options struct {
	Name          string
	Concurrency   int
	MaxAttempts   int
	BackoffDelay  time.Duration
	KeepCompleted int64
	KeepFailed    int64
	// LockDuration is the liveness window of a claimed job. The lock is
	// renewed at half this interval while the handler runs.
	LockDuration    time.Duration
	StalledInterval time.Duration
	MaxStalled      int
	PromoteInterval time.Duration
	PollTimeout     time.Duration
	JobTTL          time.Duration
}

// OptionsFromConfig maps the queue section of the service config.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		Name:          cfg.Name,
		Concurrency:   cfg.Concurrency,
		MaxAttempts:   cfg.MaxAttempts,
		BackoffDelay:  cfg.BackoffDelay,
		KeepCompleted: cfg.KeepCompleted,
		KeepFailed:    cfg.KeepFailed,
		LockDuration:  cfg.LockDuration,
		MaxStalled:    cfg.MaxStalled,
	}
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = 30 * time.Second
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = 50
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = 100
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = 30 * time.Second
	}
	if o.MaxStalled < 0 {
		o.MaxStalled = 0
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
	if o.PollTimeout < time.Second {
		o.PollTimeout = time.Second
	}
	if o.JobTTL <= 0 {
		o.JobTTL = 7 * 24 * time.Hour
	}
	return o
}

// Backoff returns the delay before the next attempt after `failures` failed
// attempts: BackoffDelay * 2^(failures-1).
func (o Options) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	shift := failures - 1
	if shift > 20 {
		shift = 20
	}
	return o.BackoffDelay * time.Duration(1<<uint(shift))
}

// Queue is a Redis-backed job queue with at-least-once delivery. Claiming is
// atomic (BRPOPLPUSH from the waiting list into the active list); everything
// after the claim must be idempotent.
type Queue struct {
	client     *redis.Client
	opts       Options
	deadLetter DeadLetterSink
	now        func() time.Time

	// ids seen without a lock on the previous stalled sweep
	sweepMu  sync.Mutex
	suspects map[string]struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a queue bound to client. The same queue value can be used
// for producing only (API) or for consuming as well (worker).
func NewQueue(client *redis.Client, opts Options) *Queue {
	return &Queue{
		client:   client,
		opts:     opts.withDefaults(),
		now:      time.Now,
		suspects: make(map[string]struct{}),
	}
}

// SetDeadLetterSink installs the archive for permanently failed jobs.
func (q *Queue) SetDeadLetterSink(sink DeadLetterSink) {
	q.deadLetter = sink
}

func (q *Queue) Name() string     { return q.opts.Name }
func (q *Queue) Options() Options { return q.opts }

func (q *Queue) key(suffix string) string {
	return "queue:" + q.opts.Name + ":" + suffix
}

func (q *Queue) waitingKey() string   { return q.key("waiting") }
func (q *Queue) activeKey() string    { return q.key("active") }
func (q *Queue) delayedKey() string   { return q.key("delayed") }
func (q *Queue) completedKey() string { return q.key("completed") }
func (q *Queue) failedKey() string    { return q.key("failed") }
func (q *Queue) statsKey() string     { return q.key("stats") }
func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}
func (q *Queue) lockKey(id string) string {
	return q.key("lock:" + id)
}

// Enqueue persists a new job and makes it available to workers.
func (q *Queue) Enqueue(ctx context.Context, name string, payload interface{}) (*Job, error) {
	job, err := newJob(uuid.New().String(), q.opts.Name, name, payload, q.opts.MaxAttempts, q.now())
	if err != nil {
		return nil, err
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), jobData, q.opts.JobTTL)
	pipe.LPush(ctx, q.waitingKey(), job.ID)
	pipe.HIncrBy(ctx, q.statsKey(), statEnqueued, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Queue: %s, Name: %s)", job.ID, q.opts.Name, job.Name)
	return job, nil
}

// Start launches Concurrency workers that feed claimed jobs to h.
func (q *Queue) Start(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers on queue %s", q.opts.Concurrency, q.opts.Name)

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i, h)
	}
}

// Stop stops claiming new jobs and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(id int, h Handler) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	// In-flight jobs run to completion on shutdown.
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		if _, err := q.ProcessNext(ctx, h); err != nil {
			log.Errorf("[JobQueue] Worker %d: %v", id, err)
			select {
			case <-q.stopCh:
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessNext claims at most one job, runs h on it and records the outcome.
// It blocks up to PollTimeout waiting for work and reports whether a job ran.
func (q *Queue) ProcessNext(ctx context.Context, h Handler) (bool, error) {
	id, err := q.client.BRPopLPush(ctx, q.waitingKey(), q.activeKey(), q.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	token := uuid.NewString()
	if err := q.client.Set(ctx, q.lockKey(id), token, q.opts.LockDuration).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to lock job %s: %v", id, err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		// Nothing to run; drop the dangling id.
		q.client.LRem(ctx, q.activeKey(), 1, id)
		q.client.Del(ctx, q.lockKey(id))
		return false, fmt.Errorf("failed to load claimed job %s: %w", id, err)
	}

	job.MarkAsActive(q.now())
	q.saveJob(ctx, job)

	log.Infof("[JobQueue] Processing job %s (Name: %s, Attempt %d/%d)", job.ID, job.Name, job.AttemptNumber(), job.MaxAttempts)

	stopRenew := q.keepLock(job.ID)
	herr := q.runHandler(ctx, h, job)
	stopRenew()

	if herr != nil {
		q.handleFailure(ctx, job, token, herr)
	} else {
		q.handleSuccess(ctx, job, token)
	}
	return true, nil
}

func (q *Queue) runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

// keepLock renews the job lock until the returned stop func is called.
func (q *Queue) keepLock(id string) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(q.opts.LockDuration / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := q.client.Expire(context.Background(), q.lockKey(id), q.opts.LockDuration).Err(); err != nil {
					log.Warnf("[JobQueue] Failed to renew lock of job %s: %v", id, err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ReportProgress stores the handler's progress and extends the job lock.
func (q *Queue) ReportProgress(ctx context.Context, job *Job, progress int) {
	job.Progress = progress
	job.UpdatedAt = q.now()
	q.saveJob(ctx, job)
	q.client.Expire(ctx, q.lockKey(job.ID), q.opts.LockDuration)
}

// finishScript settles a claimed job in one step: it drops the id from the
// active list, stores the job and files it under its outcome. It does nothing
// and returns 0 when another claim holds the lock or the sweeper already took
// the id back.
//
// KEYS: lock, active, job, destination, stats
// ARGV: claim token, id, job data, ttl ms, "list" or "zset", score, stat field
var finishScript = redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if held and held ~= ARGV[1] then
	return 0
end
if redis.call("LREM", KEYS[2], 1, ARGV[2]) == 0 then
	return 0
end
redis.call("DEL", KEYS[1])
if tonumber(ARGV[4]) > 0 then
	redis.call("SET", KEYS[3], ARGV[3], "PX", ARGV[4])
else
	redis.call("SET", KEYS[3], ARGV[3])
end
if ARGV[5] == "zset" then
	redis.call("ZADD", KEYS[4], ARGV[6], ARGV[2])
else
	redis.call("LPUSH", KEYS[4], ARGV[2])
end
redis.call("HINCRBY", KEYS[5], ARGV[7], 1)
return 1
`)

// outcome is where a finished job goes.
type outcome struct {
	key   string
	zset  bool
	score int64
	stat  string
}

// finish records the outcome of the claim holding token. It reports false
// when the claim was lost, in which case nothing was written. On a Redis
// error the job stays active and locked until the sweeper recovers it.
func (q *Queue) finish(ctx context.Context, job *Job, token string, out outcome) (bool, error) {
	jobData, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	mode := "list"
	if out.zset {
		mode = "zset"
	}
	keys := []string{q.lockKey(job.ID), q.activeKey(), q.jobKey(job.ID), out.key, q.statsKey()}
	n, err := finishScript.Run(ctx, q.client, keys,
		token, job.ID, jobData, q.opts.JobTTL.Milliseconds(), mode, out.score, out.stat).Int()
	if err != nil {
		return false, err
	}
	if n == 0 {
		log.Warnf("[JobQueue] Job %s was reclaimed while running, discarding this result", job.ID)
		return false, nil
	}
	return true, nil
}

func (q *Queue) handleSuccess(ctx context.Context, job *Job, token string) {
	job.MarkAsCompleted(q.now())
	done, err := q.finish(ctx, job, token, outcome{key: q.completedKey(), stat: statCompleted})
	if err != nil {
		log.Errorf("[JobQueue] Failed to record completion of job %s: %v", job.ID, err)
		return
	}
	if !done {
		return
	}

	log.Infof("[JobQueue] Job %s completed successfully", job.ID)
	q.trimHistory(ctx, q.completedKey(), q.opts.KeepCompleted)
}

func (q *Queue) handleFailure(ctx context.Context, job *Job, token string, herr error) {
	now := q.now()
	job.MarkAsFailed(now, herr.Error())

	if IsPermanent(herr) || !job.CanRetry() {
		job.MarkAsTerminal(now)
		done, err := q.finish(ctx, job, token, outcome{key: q.failedKey(), stat: statFailed})
		if err != nil {
			log.Errorf("[JobQueue] Failed to move job %s to failed list: %v", job.ID, err)
			return
		}
		if !done {
			return
		}
		if IsPermanent(herr) {
			log.Warnf("[JobQueue] Job %s failed permanently, not retrying: %v", job.ID, herr)
		} else {
			log.Errorf("[JobQueue] Job %s failed after %d attempts: %v", job.ID, job.Attempts, herr)
		}
		q.afterFailed(ctx, job)
		return
	}

	delay := q.opts.Backoff(job.Attempts)
	runAt := now.Add(delay)
	job.MarkAsDelayed(now, runAt)

	done, err := q.finish(ctx, job, token, outcome{
		key:   q.delayedKey(),
		zset:  true,
		score: runAt.UnixMilli(),
		stat:  statRetried,
	})
	if err != nil {
		log.Errorf("[JobQueue] Failed to schedule retry of job %s: %v", job.ID, err)
		return
	}
	if done {
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying in %s: %v", job.ID, job.Attempts, job.MaxAttempts, delay, herr)
	}
}

// moveToFailed parks an unclaimed job in the failed list for manual
// inspection.
func (q *Queue) moveToFailed(ctx context.Context, job *Job) {
	job.MarkAsTerminal(q.now())
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), jobData, q.opts.JobTTL)
	pipe.Del(ctx, q.lockKey(job.ID))
	pipe.LPush(ctx, q.failedKey(), job.ID)
	pipe.HIncrBy(ctx, q.statsKey(), statFailed, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to move job %s to failed list: %v", job.ID, err)
		return
	}
	q.afterFailed(ctx, job)
}

func (q *Queue) afterFailed(ctx context.Context, job *Job) {
	q.trimHistory(ctx, q.failedKey(), q.opts.KeepFailed)

	if q.deadLetter != nil {
		if err := q.deadLetter.Archive(ctx, job); err != nil {
			log.Errorf("[JobQueue] Failed to archive job %s to dead letter: %v", job.ID, err)
		}
	}
}

// trimHistory keeps the newest `keep` ids of a history list and deletes the
// job data of the evicted ones.
func (q *Queue) trimHistory(ctx context.Context, listKey string, keep int64) {
	evicted, err := q.client.LRange(ctx, listKey, keep, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Failed to read history %s: %v", listKey, err)
		return
	}
	if len(evicted) == 0 {
		return
	}

	pipe := q.client.TxPipeline()
	pipe.LTrim(ctx, listKey, 0, keep-1)
	for _, id := range evicted {
		pipe.Del(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to trim history %s: %v", listKey, err)
		return
	}
	log.Debugf("[JobQueue] Pruned %d jobs from %s", len(evicted), listKey)
}

// PromoteDelayed moves delayed jobs whose retry time has come back to the
// waiting list. Several processes may run it concurrently; ZREM decides which
// one owns each job.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to take delayed job %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dropping delayed job %s: %v", id, err)
			continue
		}
		job.MarkAsWaiting(q.now())
		q.saveJob(ctx, job)
		if err := q.client.LPush(ctx, q.waitingKey(), id).Err(); err != nil {
			return promoted, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		promoted++
	}

	if promoted > 0 {
		log.Debugf("[JobQueue] Promoted %d delayed jobs", promoted)
	}
	return promoted, nil
}

// SweepStalled returns active jobs whose lock expired on two consecutive
// sweeps to the waiting list. A job that stalled more than MaxStalled times
// fails terminally.
func (q *Queue) SweepStalled(ctx context.Context) (int, error) {
	q.sweepMu.Lock()
	defer q.sweepMu.Unlock()

	ids, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read active jobs: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	recovered := 0
	for _, id := range ids {
		locked, err := q.client.Exists(ctx, q.lockKey(id)).Result()
		if err != nil {
			log.Errorf("[JobQueue] Sweeper lock check error for %s: %v", id, err)
			continue
		}
		if locked > 0 {
			continue
		}
		if _, suspected := q.suspects[id]; !suspected {
			// A fresh claim may not hold its lock yet.
			seen[id] = struct{}{}
			continue
		}

		removed, err := q.client.LRem(ctx, q.activeKey(), 1, id).Result()
		if err != nil || removed == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Warnf("[JobQueue] Dropping stalled job %s without data: %v", id, err)
			continue
		}

		recovered++
		job.StalledCount++
		q.client.HIncrBy(ctx, q.statsKey(), statStalled, 1)

		if job.StalledCount > q.opts.MaxStalled {
			log.Errorf("[JobQueue] Job %s stalled %d times, failing it", job.ID, job.StalledCount)
			job.LastError = "job stalled more than allowable limit"
			job.ErrorHistory = append(job.ErrorHistory, job.LastError)
			q.moveToFailed(ctx, job)
			continue
		}

		log.Warnf("[JobQueue] Recovering stalled job %s (Name: %s)", job.ID, job.Name)
		job.MarkAsWaiting(q.now())
		q.saveJob(ctx, job)
		if err := q.client.RPush(ctx, q.waitingKey(), id).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to requeue stalled job %s: %v", id, err)
		}
	}

	q.suspects = seen
	return recovered, nil
}

// RetryFailed moves a permanently failed job back to waiting with a fresh
// attempt budget.
func (q *Queue) RetryFailed(ctx context.Context, id string) (*Job, error) {
	removed, err := q.client.LRem(ctx, q.failedKey(), 1, id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to take job %s from failed list: %w", id, err)
	}
	if removed == 0 {
		return nil, ErrNotFailed
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Attempts = 0
	job.StalledCount = 0
	job.FinishedAt = nil
	job.MarkAsWaiting(q.now())
	q.saveJob(ctx, job)

	if err := q.client.LPush(ctx, q.waitingKey(), id).Err(); err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	log.Infof("[JobQueue] Job %s manually moved back to waiting", id)
	return job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), jobData, q.opts.JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	jobData, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// ListFailed returns up to limit of the most recently failed jobs.
func (q *Queue) ListFailed(ctx context.Context, limit int64) ([]*Job, error) {
	return q.listJobs(ctx, q.failedKey(), limit)
}

// ListCompleted returns up to limit of the most recently completed jobs.
func (q *Queue) ListCompleted(ctx context.Context, limit int64) ([]*Job, error) {
	return q.listJobs(ctx, q.completedKey(), limit)
}

func (q *Queue) listJobs(ctx context.Context, listKey string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := q.client.LRange(ctx, listKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats returns list sizes and lifetime counters of the queue.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey())
	active := pipe.LLen(ctx, q.activeKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	completed := pipe.LLen(ctx, q.completedKey())
	failed := pipe.LLen(ctx, q.failedKey())
	totals := pipe.HGetAll(ctx, q.statsKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	stats := &Stats{
		Queue:     q.opts.Name,
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Totals:    make(map[string]int64),
	}
	for name, count := range totals.Val() {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			stats.Totals[name] = n
		}
	}
	return stats, nil
}

// Ping checks that the backing store answers.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
