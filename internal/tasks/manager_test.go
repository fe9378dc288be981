package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
)

func newTestManager(t *testing.T, maxConcurrent int) (*Manager, *Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "manager")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)
	manager := NewManager(repo, maxConcurrent, 50*time.Millisecond, log)
	return manager, repo, cleanup
}

func waitForStatus(t *testing.T, repo *Repository, id string, want domain.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := repo.Get(id)
		return err == nil && task.Status == want
	}, 5*time.Second, 20*time.Millisecond, "task %s never reached %s", id, want)
}

func TestManager_ExecutesByPriority(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 1)
	defer cleanup()

	var mu sync.Mutex
	var order []string
	manager.Register(domain.TaskGenerateReport, func(ctx context.Context, task *domain.Task) error {
		mu.Lock()
		order = append(order, task.Symbol)
		mu.Unlock()
		return nil
	})

	// Created before the loop starts, so dispatch sees all three at once.
	_, err := repo.Create(domain.TaskGenerateReport, "P5.SZ", 5, "")
	require.NoError(t, err)
	_, err = repo.Create(domain.TaskGenerateReport, "P1.SZ", 1, "")
	require.NoError(t, err)
	_, err = repo.Create(domain.TaskGenerateReport, "P3.SZ", 3, "")
	require.NoError(t, err)

	go manager.Run()
	defer manager.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"P1.SZ", "P3.SZ", "P5.SZ"}, order)
}

func TestManager_BoundsConcurrency(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 2)
	defer cleanup()

	release := make(chan struct{})
	started := make(chan string, 4)
	manager.Register(domain.TaskFetchData, func(ctx context.Context, task *domain.Task) error {
		started <- task.Symbol
		<-release
		return nil
	})

	for _, symbol := range []string{"A.SZ", "B.SZ", "C.SZ", "D.SZ"} {
		_, err := repo.Create(domain.TaskFetchData, symbol, domain.PriorityDefault, "")
		require.NoError(t, err)
	}

	go manager.Run()
	defer manager.Stop()
	released := false
	defer func() {
		if !released {
			close(release)
		}
	}()

	// Two slots fill, the third handler must not start.
	<-started
	<-started
	select {
	case sym := <-started:
		t.Fatalf("third task %s started beyond the concurrency bound", sym)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Len(t, manager.Running(), 2)

	close(release)
	released = true

	require.Eventually(t, func() bool {
		counts, err := repo.CountByStatus()
		return err == nil && counts[domain.TaskCompleted] == 4
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, manager.Running())
}

func TestManager_RecordsFailureAndReleasesSlot(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 1)
	defer cleanup()

	manager.Register(domain.TaskFetchData, func(ctx context.Context, task *domain.Task) error {
		if task.Symbol == "BAD.SZ" {
			return errors.New("provider exploded")
		}
		return nil
	})

	badID, err := repo.Create(domain.TaskFetchData, "BAD.SZ", 1, "")
	require.NoError(t, err)
	goodID, err := repo.Create(domain.TaskFetchData, "GOOD.SZ", 5, "")
	require.NoError(t, err)

	go manager.Run()
	defer manager.Stop()

	waitForStatus(t, repo, badID, domain.TaskFailed)
	waitForStatus(t, repo, goodID, domain.TaskCompleted)

	bad, err := repo.Get(badID)
	require.NoError(t, err)
	assert.Contains(t, bad.ErrorMessage, "provider exploded")
	assert.NotNil(t, bad.CompletedAt)
	assert.Empty(t, manager.Running())
}

func TestManager_RecoversFromHandlerPanic(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 1)
	defer cleanup()

	manager.Register(domain.TaskFetchData, func(ctx context.Context, task *domain.Task) error {
		panic("handler bug")
	})

	id, err := repo.Create(domain.TaskFetchData, "A.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)

	go manager.Run()
	defer manager.Stop()

	waitForStatus(t, repo, id, domain.TaskFailed)

	task, err := repo.Get(id)
	require.NoError(t, err)
	assert.Contains(t, task.ErrorMessage, "panic")
	assert.Empty(t, manager.Running())
}

func TestManager_CancelRunningKeepsTerminalState(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 1)
	defer cleanup()

	release := make(chan struct{})
	started := make(chan struct{})
	manager.Register(domain.TaskFetchData, func(ctx context.Context, task *domain.Task) error {
		close(started)
		<-release
		return nil
	})

	id, err := repo.Create(domain.TaskFetchData, "A.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)

	go manager.Run()
	defer manager.Stop()

	<-started
	require.NoError(t, manager.Cancel(id))

	// The handler finishes after the cancel; its success write must not
	// overwrite the terminal state.
	close(release)
	time.Sleep(200 * time.Millisecond)

	task, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.Status)
	assert.Equal(t, domain.CancelledMessage, task.ErrorMessage)
}

func TestManager_CreateTaskTriggersImmediateDispatch(t *testing.T) {
	manager, repo, cleanup := newTestManager(t, 1)
	defer cleanup()

	done := make(chan struct{})
	manager.Register(domain.TaskGenerateReport, func(ctx context.Context, task *domain.Task) error {
		close(done)
		return nil
	})

	go manager.Run()
	defer manager.Stop()

	id, err := manager.CreateTask(domain.TaskGenerateReport, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was never dispatched")
	}

	waitForStatus(t, repo, id, domain.TaskCompleted)
}
