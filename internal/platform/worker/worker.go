// Package worker runs the periodic background jobs: feed collection and
// partition rebuilds.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFieldWorker = "worker"
	logFieldTask   = "task"
)

// Task is a job fired on its own ticker.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run. Zero means no bound beyond the loop context.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Config configures a task loop.
type Config struct {
	// Name identifies the loop for logging.
	Name  string
	Tasks []Task

	// RunOnStart fires every task once before the first tick.
	RunOnStart bool

	// OnStop is called once when the loop exits.
	OnStop func()

	Logger *zerolog.Logger
}

// Loop runs every task on its own ticker until ctx is canceled. A failing or
// panicking run is logged and the task keeps its schedule. Runs of one task
// never overlap; different tasks may run concurrently.
func Loop(ctx context.Context, cfg Config) error {
	logger := getLogger(cfg.Logger)
	logger.Info().Str(logFieldWorker, cfg.Name).Int("tasks", len(cfg.Tasks)).Msg("starting task loop")

	defer func() {
		if cfg.OnStop != nil {
			cfg.OnStop()
		}

		logger.Info().Str(logFieldWorker, cfg.Name).Msg("task loop stopped")
	}()

	var wg sync.WaitGroup

	for _, task := range cfg.Tasks {
		if task.Run == nil || task.Interval <= 0 {
			logger.Warn().Str(logFieldTask, task.Name).Msg("task disabled")

			continue
		}

		wg.Add(1)

		go func(task Task) {
			defer wg.Done()

			runTask(ctx, task, cfg.RunOnStart, logger)
		}(task)
	}

	<-ctx.Done()
	wg.Wait()

	return fmt.Errorf("task loop %s: %w", cfg.Name, ctx.Err())
}

func runTask(ctx context.Context, task Task, runOnStart bool, logger *zerolog.Logger) {
	if runOnStart {
		RunOnce(ctx, task, logger)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug().Str(logFieldTask, task.Name).Msg("ticker fired")
			RunOnce(ctx, task, logger)
		}
	}
}

// RunOnce executes one run of task with its timeout, recovering panics.
// It reports whether the run succeeded.
func RunOnce(ctx context.Context, task Task, logger *zerolog.Logger) (ok bool) {
	logger = getLogger(logger)

	defer RecoverPanic(logger, task.Name)

	run := task.Run
	if task.Timeout > 0 {
		run = func(ctx context.Context) error {
			return RunWithTimeout(ctx, task.Timeout, task.Run)
		}
	}

	start := time.Now()

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Str(logFieldTask, task.Name).Msg("task failed")

		return false
	}

	logger.Debug().Str(logFieldTask, task.Name).Dur("duration", time.Since(start)).Msg("task finished")

	return true
}

// Wait blocks until duration elapses or context is canceled.
// Returns a wrapped context error if context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RunWithTimeout runs fn with a timeout derived from the parent context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(timeoutCtx)
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}

func getLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()

		return &nop
	}

	return logger
}
