package tasks

import (
	"github.com/calvia/stockdeck/internal/domain"
)

// EnqueueJob is a scheduler job that enqueues one task each time it fires.
// Dedup in the store makes overlapping firings harmless.
type EnqueueJob struct {
	manager  *Manager
	name     string
	taskType domain.TaskType
	symbol   string
	priority int
}

// NewEnqueueJob creates a job that enqueues the given task on each firing.
func NewEnqueueJob(manager *Manager, name string, taskType domain.TaskType, symbol string, priority int) *EnqueueJob {
	return &EnqueueJob{
		manager:  manager,
		name:     name,
		taskType: taskType,
		symbol:   symbol,
		priority: priority,
	}
}

// Name identifies the job to the scheduler.
func (j *EnqueueJob) Name() string {
	return j.name
}

// Run enqueues the task.
func (j *EnqueueJob) Run() error {
	_, err := j.manager.CreateTask(j.taskType, j.symbol, j.priority, "")
	return err
}
