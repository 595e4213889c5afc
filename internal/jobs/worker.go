package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Handler executes one job. Returning an error wrapped with Permanent sends
// the job to the dead list without further attempts.
type Handler func(ctx context.Context, job Job) error

var ErrNoHandler = errors.New("no handler registered")

func Permanent(err error) error {
	return backoff.Permanent(err)
}

type WorkerOptions struct {
	Queues       []string
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	MaxBackoff   time.Duration
	JitterMax    time.Duration
	Timeout      time.Duration
	LastErrorLen int

	Logger *logrus.Entry
}

func (o *WorkerOptions) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.PollInterval == 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.JitterMax == 0 {
		o.JitterMax = 500 * time.Millisecond
	}
	if o.Timeout == 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.LastErrorLen == 0 {
		o.LastErrorLen = 1024
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

type Worker struct {
	queue    *Queue
	opts     WorkerOptions
	handlers map[string]Handler
	m        *metrics
}

func NewWorker(queue *Queue, opts WorkerOptions) *Worker {
	opts.setDefaults()
	return &Worker{queue: queue, opts: opts, handlers: map[string]Handler{}, m: getMetrics()}
}

// Handle registers h for jobType. Not safe to call once Run has started.
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

func (w *Worker) Run(ctx context.Context) error {
	w.opts.Logger.WithField("queues", w.opts.Queues).Info("jobs: worker started")
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.opts.Logger.WithError(err).Warn("jobs: poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims due jobs from every queue, in order, and runs them with
// bounded concurrency. It returns how many jobs ran.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, w.opts.Concurrency)
		ran  int
		errs []error
	)
	for _, name := range w.opts.Queues {
		claimed, err := w.queue.Claim(ctx, name, w.opts.Concurrency)
		if err != nil {
			errs = append(errs, err)
		}
		for _, job := range claimed {
			ran++
			sem <- struct{}{}
			wg.Add(1)
			go func(job Job) {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, job)
			}(job)
		}
	}
	wg.Wait()
	return ran, errors.Join(errs...)
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := w.opts.Logger.WithFields(logrus.Fields{"job_id": job.ID, "job_type": job.Type, "queue": job.Queue})
	start := time.Now()
	err := w.execute(ctx, job)
	latency := time.Since(start)

	if err == nil {
		w.m.processedTotal.WithLabelValues(job.Type, "success").Inc()
		w.m.duration.WithLabelValues(job.Type, "success").Observe(latency.Seconds())
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			log.WithError(cerr).Warn("jobs: complete failed")
		}
		log.WithField("latency", latency).Debug("jobs: done")
		return
	}

	w.m.processedTotal.WithLabelValues(job.Type, "error").Inc()
	w.m.duration.WithLabelValues(job.Type, "error").Observe(latency.Seconds())
	job.Attempts++
	job.LastError = truncate(err.Error(), w.opts.LastErrorLen)
	log = log.WithError(err).WithField("attempts", job.Attempts)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) || errors.Is(err, ErrNoHandler) || job.Attempts >= w.opts.MaxAttempts {
		w.m.deadTotal.WithLabelValues(job.Type).Inc()
		if berr := w.queue.Bury(ctx, job); berr != nil {
			log.WithField("bury_error", berr).Error("jobs: bury failed")
			return
		}
		log.Error("jobs: job dead")
		return
	}

	delay := retryDelay(job.Attempts, w.opts.MaxBackoff) + jitter(w.opts.JitterMax)
	if rerr := w.queue.Reschedule(ctx, job, w.queue.now().Add(delay)); rerr != nil {
		log.WithField("reschedule_error", rerr).Error("jobs: reschedule failed")
		return
	}
	log.WithField("retry_in", delay).Warn("jobs: job failed, retrying")
}

func (w *Worker) execute(ctx context.Context, job Job) (err error) {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("%w for %q", ErrNoHandler, job.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

func retryDelay(attempts int, maxDelay time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempts-1)) * float64(time.Second))
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func jitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(maxJitter) + 1))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
