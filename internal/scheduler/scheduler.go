// Package scheduler materializes chore assignments from cron schedules.
//
// A cron driver enqueues one tick per interval. The tick fans out a manage
// job per workspace, and each manage job enqueues a create job per
// (chore, responsible user) at the chore's next occurrence. Every job id is
// derived from its inputs, so repeated ticks collapse onto the same jobs.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"dotproj/api/internal/cache"
	"dotproj/api/internal/jobs"
	"dotproj/api/internal/store"
)

const (
	QueueScheduler = "workspace-scheduler"
	QueueChore     = "workspace-chore"
	QueueAssigned  = "workspace-assigned"

	TypeScheduleChores    = "schedule_chores_jobs"
	TypeManageAssignments = "manage_assignments_schedules"
	TypeCreateAssignment  = "create_assignment"

	tickJobID = "schedule-chores-jobs"
)

type Store interface {
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
	ListChoreSchedules(ctx context.Context, workspaceID string) ([]store.ChoreSchedule, error)
	CreateAssignment(ctx context.Context, item store.Assignment) (store.Assignment, bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) (jobs.EnqueueResult, error)
}

type Invalidator interface {
	Touch(ctx context.Context, path string) ([]string, error)
}

type Options struct {
	Location *time.Location
	Logger   *logrus.Entry
	Now      func() time.Time
}

type Scheduler struct {
	store       Store
	queue       Enqueuer
	invalidator Invalidator
	loc         *time.Location
	log         *logrus.Entry
	now         func() time.Time
}

func New(st Store, queue Enqueuer, invalidator Invalidator, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:       st,
		queue:       queue,
		invalidator: invalidator,
		loc:         opts.Location,
		log:         opts.Logger.WithField("component", "scheduler"),
		now:         opts.Now,
	}
}

type manageArgs struct {
	WorkspaceID string `json:"workspaceId"`
}

// Occurrence is one scheduled instant of a chore for one responsible user.
type Occurrence struct {
	WorkspaceID string    `json:"workspaceId"`
	ChoreID     string    `json:"choreId"`
	UserID      string    `json:"userId"`
	At          time.Time `json:"at"`
}

// ErrInvalidSchedule wraps cron parse failures.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ParseSchedule accepts standard five field cron expressions and the
// @hourly/@daily/@weekly style descriptors.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

func ManageJobID(workspaceID string) string {
	return "schedule-chores-jobs." + workspaceID
}

func CreateJobID(choreID, userID string, occurrence time.Time) string {
	return fmt.Sprintf("schedule-assignments-jobs.%s.%s.%d", choreID, userID, occurrence.Unix())
}

// Register binds the scheduler's job types to w.
func (s *Scheduler) Register(w *jobs.Worker) {
	w.Handle(TypeScheduleChores, func(ctx context.Context, _ jobs.Job) error {
		_, err := s.Tick(ctx)
		return err
	})
	w.Handle(TypeManageAssignments, func(ctx context.Context, job jobs.Job) error {
		var args manageArgs
		if err := job.Decode(&args); err != nil {
			return jobs.Permanent(err)
		}
		_, err := s.ManageAssignments(ctx, args.WorkspaceID)
		return err
	})
	w.Handle(TypeCreateAssignment, func(ctx context.Context, job jobs.Job) error {
		var args Occurrence
		if err := job.Decode(&args); err != nil {
			return jobs.Permanent(err)
		}
		_, err := s.CreateAssignment(ctx, args)
		return err
	})
}

// EnqueueTick enqueues the fan-out job. Concurrent drivers replace each
// other's pending tick.
func (s *Scheduler) EnqueueTick(ctx context.Context) error {
	job, err := jobs.NewJob(tickJobID, TypeScheduleChores, QueueScheduler, struct{}{}, s.now())
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, job)
	return err
}

// Tick enqueues one manage job per workspace and returns how many were
// accepted by the queue.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ids, err := s.store.ListWorkspaceIDs(store.Privileged(ctx))
	if err != nil {
		return 0, err
	}
	enqueued := 0
	var errs []error
	for _, id := range ids {
		job, err := jobs.NewJob(ManageJobID(id), TypeManageAssignments, QueueChore, manageArgs{WorkspaceID: id}, s.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res != jobs.Skipped {
			enqueued++
		}
	}
	s.log.WithFields(logrus.Fields{"workspaces": len(ids), "enqueued": enqueued}).Debug("scheduler tick")
	return enqueued, errors.Join(errs...)
}

// ManageAssignments enqueues a create job at the next occurrence of every
// (chore, responsible) pair in the workspace. A bad schedule skips its pairs
// only.
func (s *Scheduler) ManageAssignments(ctx context.Context, workspaceID string) (int, error) {
	schedules, err := s.store.ListChoreSchedules(store.Privileged(ctx), workspaceID)
	if err != nil {
		return 0, err
	}

	now := s.now().In(s.loc)
	enqueued := 0
	var errs []error
	for _, item := range schedules {
		log := s.log.WithFields(logrus.Fields{"workspace_id": workspaceID, "chore_id": item.ChoreID})
		for _, userID := range item.UserIDs {
			sched, err := ParseSchedule(item.Schedule)
			if err != nil {
				log.WithError(err).WithField("user_id", userID).Warn("skipping chore with invalid schedule")
				continue
			}
			next := sched.Next(now)
			if next.IsZero() {
				log.WithField("schedule", item.Schedule).Warn("schedule has no next occurrence")
				continue
			}
			args := Occurrence{WorkspaceID: item.WorkspaceID, ChoreID: item.ChoreID, UserID: userID, At: next}
			job, err := jobs.NewJob(CreateJobID(item.ChoreID, userID, next), TypeCreateAssignment, QueueAssigned, args, next)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			job.Once = true
			res, err := s.queue.Enqueue(ctx, job)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if res != jobs.Skipped {
				enqueued++
			}
		}
	}
	return enqueued, errors.Join(errs...)
}

// CreateAssignment materializes one occurrence. The assignment id is derived
// from the occurrence, so a repeated run reports created=false.
func (s *Scheduler) CreateAssignment(ctx context.Context, args Occurrence) (store.Assignment, error) {
	item, created, err := s.store.CreateAssignment(store.Privileged(ctx), store.Assignment{
		ID:         store.AssignmentID(args.ChoreID, args.UserID, args.At),
		ChoreID:    args.ChoreID,
		UserID:     args.UserID,
		AssignedAt: args.At,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.Assignment{}, jobs.Permanent(fmt.Errorf("chore %s no longer exists", args.ChoreID))
	}
	if err != nil {
		return store.Assignment{}, err
	}

	log := s.log.WithFields(logrus.Fields{"assignment_id": item.ID, "chore_id": item.ChoreID, "user_id": args.UserID})
	if !created {
		log.Debug("assignment already materialized")
		return item, nil
	}
	if s.invalidator != nil {
		for _, path := range []string{cache.AssignmentsPath(item.WorkspaceID), cache.ChorePath(item.WorkspaceID, item.ChoreID)} {
			if _, err := s.invalidator.Touch(ctx, path); err != nil {
				log.WithError(err).WithField("path", path).Warn("invalidate assignment cache")
			}
		}
	}
	log.Info("assignment created")
	return item, nil
}
