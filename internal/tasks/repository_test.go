package tasks

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
)

func newTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "tasks")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db.Conn(), log), cleanup
}

func TestCreate_DeduplicatesActiveTasks(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	first, err := repo.Create(domain.TaskGenerateReport, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Same (symbol, type) while the first is still pending returns the
	// existing id.
	second, err := repo.Create(domain.TaskGenerateReport, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A different symbol is a separate task.
	other, err := repo.Create(domain.TaskGenerateReport, "000001.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	// Dedup also applies while running.
	require.NoError(t, repo.MarkRunning(first))
	third, err := repo.Create(domain.TaskGenerateReport, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)
	assert.Equal(t, first, third)

	// Once terminal, a fresh task may be created.
	require.NoError(t, repo.MarkCompleted(first))
	fourth, err := repo.Create(domain.TaskGenerateReport, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)
	assert.NotEqual(t, first, fourth)
}

func TestCreate_RejectsUnknownType(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	_, err := repo.Create(domain.TaskType("mystery"), "600519.SH", domain.PriorityDefault, "")
	assert.Error(t, err)
}

func TestNextPending_OrdersByPriorityThenAge(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	mid, err := repo.Create(domain.TaskGenerateReport, "AAA.SZ", 5, "")
	require.NoError(t, err)
	high, err := repo.Create(domain.TaskGenerateReport, "BBB.SZ", 1, "")
	require.NoError(t, err)
	low, err := repo.Create(domain.TaskGenerateReport, "CCC.SZ", 3, "")
	require.NoError(t, err)

	pending, err := repo.NextPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, high, pending[0].ID)
	assert.Equal(t, low, pending[1].ID)
	assert.Equal(t, mid, pending[2].ID)

	// Equal priority falls back to creation order.
	older, err := repo.Create(domain.TaskFetchData, "AAA.SZ", 1, "")
	require.NoError(t, err)
	newer, err := repo.Create(domain.TaskFetchData, "BBB.SZ", 1, "")
	require.NoError(t, err)

	pending, err = repo.NextPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	assert.Equal(t, high, pending[0].ID)
	assert.Equal(t, older, pending[1].ID)
	assert.Equal(t, newer, pending[2].ID)
}

func TestMarkRunning_OnlyClaimsPending(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	id, err := repo.Create(domain.TaskFetchData, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)

	require.NoError(t, repo.MarkRunning(id))

	// Second claim fails.
	err = repo.MarkRunning(id)
	assert.ErrorIs(t, err, domain.ErrTaskNotPending)

	task, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, task.Status)
	assert.NotNil(t, task.StartedAt)
}

func TestFinish_RecordsOutcome(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	okID, err := repo.Create(domain.TaskFetchData, "AAA.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)
	failID, err := repo.Create(domain.TaskFetchData, "BBB.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)

	require.NoError(t, repo.MarkRunning(okID))
	require.NoError(t, repo.MarkRunning(failID))

	require.NoError(t, repo.MarkCompleted(okID))
	require.NoError(t, repo.MarkFailed(failID, "source unavailable"))

	done, err := repo.Get(okID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorMessage)

	failed, err := repo.Get(failID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, failed.Status)
	assert.Equal(t, "source unavailable", failed.ErrorMessage)

	// Terminal tasks never transition again.
	assert.Error(t, repo.MarkCompleted(okID))
	assert.Error(t, repo.MarkFailed(okID, "again"))
}

func TestCancel_PendingAndRunning(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	pendingID, err := repo.Create(domain.TaskFetchData, "AAA.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)
	runningID, err := repo.Create(domain.TaskFetchData, "BBB.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(runningID))

	require.NoError(t, repo.Cancel(pendingID))
	require.NoError(t, repo.Cancel(runningID))

	for _, id := range []string{pendingID, runningID} {
		task, err := repo.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskFailed, task.Status)
		assert.Equal(t, domain.CancelledMessage, task.ErrorMessage)
		assert.NotNil(t, task.CompletedAt)
	}

	// A cancelled task is terminal; cancelling again fails.
	err = repo.Cancel(pendingID)
	assert.ErrorIs(t, err, domain.ErrTaskTerminal)

	// The running task's eventual completion attempt is a no-op error.
	assert.Error(t, repo.MarkCompleted(runningID))

	err = repo.Cancel("no-such-task")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequeueStaleRunning(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	staleID, err := repo.Create(domain.TaskFetchData, "AAA.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)
	freshID, err := repo.Create(domain.TaskFetchData, "BBB.SZ", domain.PriorityDefault, "")
	require.NoError(t, err)

	require.NoError(t, repo.MarkRunning(staleID))
	require.NoError(t, repo.MarkRunning(freshID))

	// Backdate the stale task's start timestamp.
	past := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	_, err = repo.db.Exec(`UPDATE tasks SET started_at = ? WHERE id = ?`, past, staleID)
	require.NoError(t, err)

	n, err := repo.RequeueStaleRunning(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := repo.Get(staleID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, stale.Status)
	assert.Nil(t, stale.StartedAt)

	fresh, err := repo.Get(freshID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, fresh.Status)
}

func TestGet_NotFound(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	_, err := repo.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
