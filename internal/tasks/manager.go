package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Handler executes one task. A nil return marks the task COMPLETED, any
// error marks it FAILED with the error text.
type Handler func(ctx context.Context, task *domain.Task) error

// DefaultTaskTimeout bounds a single handler execution.
const DefaultTaskTimeout = 30 * time.Minute

// Manager dispatches pending tasks to registered handlers with bounded
// concurrency. The persisted queue is the source of truth; the manager keeps
// only the in-flight view in memory, so a restart loses nothing.
type Manager struct {
	repo          *Repository
	maxConcurrent int
	interval      time.Duration
	timeout       time.Duration
	log           zerolog.Logger

	handlers map[domain.TaskType]Handler

	trigger chan struct{}
	done    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	inFlight map[string]string // task id -> symbol
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewManager creates a task manager polling at interval with at most
// maxConcurrent tasks running at once.
func NewManager(repo *Repository, maxConcurrent int, interval time.Duration, log zerolog.Logger) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Manager{
		repo:          repo,
		maxConcurrent: maxConcurrent,
		interval:      interval,
		timeout:       DefaultTaskTimeout,
		log:           log.With().Str("component", "task_manager").Logger(),
		handlers:      make(map[domain.TaskType]Handler),
		trigger:       make(chan struct{}, 1),
		done:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
		inFlight:      make(map[string]string),
	}
}

// SetTimeout overrides the per-task execution timeout.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// Register binds a handler to a task type. Must be called before Run.
func (m *Manager) Register(taskType domain.TaskType, handler Handler) {
	m.handlers[taskType] = handler
}

// CreateTask persists a task and wakes the dispatch loop. Returns the id of
// the created task, or of the existing non-terminal duplicate.
func (m *Manager) CreateTask(taskType domain.TaskType, symbol string, priority int, metadata string) (string, error) {
	id, err := m.repo.Create(taskType, symbol, priority, metadata)
	if err != nil {
		return "", err
	}
	m.Trigger()
	return id, nil
}

// Cancel cancels a task. Pending tasks never run; running tasks finish
// their handler but their completion write becomes a no-op.
func (m *Manager) Cancel(id string) error {
	return m.repo.Cancel(id)
}

// Running returns the ids of tasks currently executing, sorted for stable
// output. The view derives from dispatch slot occupancy, not from polling
// the database.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.inFlight))
	for id := range m.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run starts the dispatch loop. Blocks until Stop is called.
func (m *Manager) Run() {
	defer close(m.stopped)

	m.log.Info().
		Int("max_concurrent", m.maxConcurrent).
		Dur("interval", m.interval).
		Msg("Task manager started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.dispatch()
		case <-m.trigger:
			m.dispatch()
		case <-m.done:
			m.dispatch()
		}
	}
}

// Stop stops the dispatch loop and waits for in-flight handlers to finish.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.stopped
	m.wg.Wait()
	m.log.Info().Msg("Task manager stopped")
}

// Trigger wakes the dispatch loop without waiting for the next tick.
// Non-blocking; safe from any goroutine.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
		// wakeup already pending
	}
}

// dispatch fills free execution slots with the highest-priority pending
// tasks. The MarkRunning claim is the race guard: a task that was cancelled
// or claimed between the query and the claim is simply skipped.
func (m *Manager) dispatch() {
	m.mu.Lock()
	free := m.maxConcurrent - len(m.inFlight)
	m.mu.Unlock()
	if free <= 0 {
		return
	}

	pending, err := m.repo.NextPending(free)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to query pending tasks")
		return
	}

	for _, task := range pending {
		handler, ok := m.handlers[task.Type]
		if !ok {
			m.failUnhandled(task)
			continue
		}

		if err := m.repo.MarkRunning(task.ID); err != nil {
			if !errors.Is(err, domain.ErrTaskNotPending) {
				m.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to claim task")
			}
			continue
		}

		m.mu.Lock()
		m.inFlight[task.ID] = task.Symbol
		m.mu.Unlock()

		m.wg.Add(1)
		go m.execute(task, handler)
	}
}

// execute runs one claimed task and records its outcome. The deferred block
// is the single cleanup path for success, failure and panic alike.
func (m *Manager) execute(task domain.Task, handler Handler) {
	start := time.Now()
	var execErr error

	defer func() {
		if p := recover(); p != nil {
			execErr = fmt.Errorf("panic in task handler: %v", p)
		}

		if execErr != nil {
			m.log.Error().Err(execErr).
				Str("task_id", task.ID).
				Str("type", string(task.Type)).
				Str("symbol", task.Symbol).
				Msg("Task failed")
			if err := m.repo.MarkFailed(task.ID, execErr.Error()); err != nil {
				// Task was cancelled mid-flight; the terminal state wins.
				m.log.Debug().Err(err).Str("task_id", task.ID).Msg("Completion write skipped")
			}
		} else {
			m.log.Info().
				Str("task_id", task.ID).
				Str("type", string(task.Type)).
				Str("symbol", task.Symbol).
				Dur("elapsed", time.Since(start)).
				Msg("Task completed")
			if err := m.repo.MarkCompleted(task.ID); err != nil {
				m.log.Debug().Err(err).Str("task_id", task.ID).Msg("Completion write skipped")
			}
		}

		m.mu.Lock()
		delete(m.inFlight, task.ID)
		m.mu.Unlock()

		select {
		case m.done <- struct{}{}:
		default:
		}

		m.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	execErr = handler(ctx, &task)
	if execErr != nil && ctx.Err() == context.DeadlineExceeded {
		execErr = fmt.Errorf("task timed out after %s: %w", m.timeout, execErr)
	}
}

// failUnhandled retires a task whose type has no registered handler so it
// cannot clog the front of the queue.
func (m *Manager) failUnhandled(task domain.Task) {
	m.log.Error().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Msg("No handler registered for task type")

	if err := m.repo.MarkRunning(task.ID); err != nil {
		return
	}
	_ = m.repo.MarkFailed(task.ID, fmt.Sprintf("no handler registered for type %s", task.Type))
}
