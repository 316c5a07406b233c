// Package queue is a named-task worker queue on the shared cache's list
// primitives. Producers enqueue JSON envelopes; workers pop and dispatch to
// registered handlers under soft and hard time limits.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

const (
	defaultConcurrency = 4
	defaultSoftLimit   = 240 * time.Second
	defaultHardLimit   = 300 * time.Second
	popTimeout         = 5 * time.Second
	unavailableBackoff = 3 * time.Second
)

// Task is the wire envelope for one unit of work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Handler executes one task. The context carries the soft time limit; on
// expiry the handler must persist a terminal state and return.
type Handler func(ctx context.Context, args json.RawMessage) error

// Queue produces and consumes named tasks from one list key.
type Queue struct {
	key         string
	cache       cache.SharedCache
	concurrency int64
	softLimit   time.Duration
	hardLimit   time.Duration
	logger      logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a queue from config. The soft limit must stay below the hard
// limit; the loader validates that.
func New(cfg config.QueueConfig, sc cache.SharedCache, log logger.Logger) *Queue {
	name := cfg.Name
	if name == "" {
		name = "remedy"
	}
	concurrency := int64(cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	soft := time.Duration(cfg.SoftLimitSeconds) * time.Second
	if soft <= 0 {
		soft = defaultSoftLimit
	}
	hard := time.Duration(cfg.HardLimitSeconds) * time.Second
	if hard <= soft {
		hard = defaultHardLimit
		if hard <= soft {
			hard = soft + time.Minute
		}
	}
	return &Queue{
		key:         "queue:" + name,
		cache:       sc,
		concurrency: concurrency,
		softLimit:   soft,
		hardLimit:   hard,
		logger:      log,
		handlers:    make(map[string]Handler),
	}
}

// Register binds a handler to a task name. Must happen before Run.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	q.handlers[name] = h
	q.mu.Unlock()
}

// Enqueue pushes one task.
func (q *Queue) Enqueue(ctx context.Context, name string, args interface{}) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal task args: %w", err)
	}
	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := q.cache.LPush(ctx, q.key, payload); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	q.logger.Debug("task enqueued", "task", name, "task_id", task.ID)
	return task.ID, nil
}

// Run consumes tasks until the context is cancelled, dispatching up to the
// configured concurrency in parallel.
func (q *Queue) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(q.concurrency)
	var wg sync.WaitGroup

	for ctx.Err() == nil {
		data, err := q.cache.BRPop(ctx, popTimeout, q.key)
		if err != nil {
			if errors.Is(err, cache.ErrCacheMiss) || errors.Is(err, context.Canceled) {
				continue
			}
			q.logger.Warn("queue pop failed", "error", err)
			select {
			case <-time.After(unavailableBackoff):
			case <-ctx.Done():
			}
			continue
		}

		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			q.logger.Error("discarding undecodable task", "error", err)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer sem.Release(1)
			q.dispatch(ctx, task)
		}(task)
	}
	wg.Wait()
}

// dispatch runs one task under the soft limit, with the hard limit as a
// backstop that abandons the goroutine's wait.
func (q *Queue) dispatch(ctx context.Context, task Task) {
	q.mu.RLock()
	handler, ok := q.handlers[task.Name]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no handler for task", "task", task.Name, "task_id", task.ID)
		return
	}

	softCtx, cancel := context.WithTimeout(ctx, q.softLimit)
	defer cancel()

	done := make(chan error, 1)
	started := time.Now()
	go func() {
		done <- handler(softCtx, task.Args)
	}()

	select {
	case err := <-done:
		if err != nil {
			q.logger.Error("task failed",
				"task", task.Name, "task_id", task.ID,
				"duration", time.Since(started).String(), "error", err)
			return
		}
		q.logger.Info("task completed",
			"task", task.Name, "task_id", task.ID,
			"duration", time.Since(started).String())
	case <-time.After(q.hardLimit):
		q.logger.Error("task exceeded hard limit, abandoning",
			"task", task.Name, "task_id", task.ID, "hard_limit", q.hardLimit.String())
	}
}
