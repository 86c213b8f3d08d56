package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wb-go/wbf/logger"
	"golang.org/x/sync/errgroup"
)

// Task is a periodic sweep. Run reports how many items it touched.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

type Scheduler struct {
	tasks  []Task
	logger logger.Logger
}

func New(tasks []Task, logger logger.Logger) *Scheduler {
	return &Scheduler{
		tasks:  tasks,
		logger: logger,
	}
}

// Start runs every task on its own ticker and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}

	s.logger.Info("scheduler started", logger.Int("tasks", len(s.tasks)))
	_ = g.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t Task) {
	start := time.Now()
	n, err := t.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled task failed",
			logger.String("task", t.Name),
			logger.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		s.logger.Info("scheduled task done",
			logger.String("task", t.Name),
			logger.Int("count", n),
			logger.Duration("took", time.Since(start)),
		)
	}
}

// RunOnce runs every task a single time in order. A failing task does not stop the rest.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, t := range s.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		s.logger.Info("task finished", logger.String("task", t.Name), logger.Int("count", n))
	}
	return errors.Join(errs...)
}
