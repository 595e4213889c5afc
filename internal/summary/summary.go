// Package summary generates task summaries out of band. Task and comment
// writes enqueue a job; the worker posts the task with its comments to the
// summarizer, stores the result and drops the summary's cache key.
package summary

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dotproj/api/internal/cache"
	"dotproj/api/internal/jobs"
	"dotproj/api/internal/store"
)

const (
	Queue   = "workspace-summary"
	JobType = "task_summary"

	endpoint = "/workspace-task-summary"
)

type Store interface {
	GetTaskWithComments(ctx context.Context, taskID string) (store.Task, []store.TaskComment, error)
	SaveTaskSummary(ctx context.Context, taskID, summary string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) (jobs.EnqueueResult, error)
}

type Dropper interface {
	Drop(ctx context.Context, path string) error
}

type Options struct {
	URL     string
	Timeout time.Duration
	// Delay postpones the job so bursts of writes coalesce into one run.
	Delay  time.Duration
	Client *http.Client
	Logger *logrus.Entry
	Now    func() time.Time
}

type Summarizer struct {
	store       Store
	queue       Enqueuer
	invalidator Dropper
	url         string
	client      *http.Client
	delay       time.Duration
	log         *logrus.Entry
	now         func() time.Time
}

func New(st Store, queue Enqueuer, invalidator Dropper, opts Options) *Summarizer {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Summarizer{
		store:       st,
		queue:       queue,
		invalidator: invalidator,
		url:         strings.TrimRight(opts.URL, "/"),
		client:      opts.Client,
		delay:       opts.Delay,
		log:         opts.Logger.WithField("component", "summary"),
		now:         opts.Now,
	}
}

func (s *Summarizer) Enabled() bool {
	return s != nil && s.url != ""
}

type jobArgs struct {
	TaskID string `json:"taskId"`
}

func JobID(taskID string) string {
	return "task-summary." + taskID
}

// Request enqueues a summary run for taskID. Pending runs for the same task
// are replaced. A disabled summarizer does nothing.
func (s *Summarizer) Request(ctx context.Context, taskID string) error {
	if !s.Enabled() {
		return nil
	}
	job, err := jobs.NewJob(JobID(taskID), JobType, Queue, jobArgs{TaskID: taskID}, s.now().Add(s.delay))
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, job)
	return err
}

func (s *Summarizer) Register(w *jobs.Worker) {
	w.Handle(JobType, func(ctx context.Context, job jobs.Job) error {
		var args jobArgs
		if err := job.Decode(&args); err != nil {
			return jobs.Permanent(err)
		}
		return s.Generate(ctx, args.TaskID)
	})
}

type commentPayload struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type taskPayload struct {
	ID          string           `json:"id"`
	Workspace   string           `json:"workspace"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Stage       string           `json:"stage"`
	Owner       string           `json:"owner,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Comments    []commentPayload `json:"comments"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Generate summarizes one task. The task is read and the summary written
// under the owning role.
func (s *Summarizer) Generate(ctx context.Context, taskID string) error {
	ctx = store.Privileged(ctx)
	task, comments, err := s.store.GetTaskWithComments(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Permanent(fmt.Errorf("task %s no longer exists", taskID))
	}
	if err != nil {
		return err
	}

	payload := taskPayload{
		ID:          task.ID,
		Workspace:   task.WorkspaceID,
		Title:       task.Title,
		Description: task.Description,
		Category:    task.CategoryKey,
		Stage:       task.StageKey,
		Owner:       task.OwnerID,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
		Comments:    make([]commentPayload, 0, len(comments)),
	}
	for _, c := range comments {
		payload.Comments = append(payload.Comments, commentPayload{ID: c.ID, Author: c.AuthorID, Content: c.Content, CreatedAt: c.CreatedAt})
	}

	text, err := s.summarize(ctx, payload)
	if err != nil {
		return err
	}
	if err := s.store.SaveTaskSummary(ctx, task.ID, text); err != nil {
		return err
	}
	if s.invalidator != nil {
		if err := s.invalidator.Drop(ctx, cache.SummaryPath(task.WorkspaceID, task.ID)); err != nil {
			s.log.WithError(err).WithField("task_id", task.ID).Warn("drop summary cache key")
		}
	}
	s.log.WithField("task_id", task.ID).Info("task summary updated")
	return nil
}

func (s *Summarizer) summarize(ctx context.Context, payload taskPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode summary request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("summarizer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", jobs.Permanent(err)
		}
		return "", err
	}

	var out summaryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode summary response: %w", err)
	}
	return out.Summary, nil
}
