package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/credit"
	"github.com/wqooops/report-card-comments/internal/db"
	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// fakeRepo embeds the Repository interface so only the methods the runner
// touches need real bodies.
type fakeRepo struct {
	db.Repository

	mu            sync.Mutex
	items         []model.BatchItem
	batchStatuses []model.BatchStatus
	savedReports  []string
	insertErr     error
}

func (f *fakeRepo) GetBatchItems(_ context.Context, _ string) ([]model.BatchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.BatchItem, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeRepo) UpdateBatchStatus(_ context.Context, _ string, status model.BatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchStatuses = append(f.batchStatuses, status)
	return nil
}

func (f *fakeRepo) UpdateBatchItem(_ context.Context, itemID int64, status model.BatchItemStatus, result, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == itemID {
			f.items[i].Status = status
			f.items[i].Result = result
			f.items[i].ErrorMessage = errorMessage
		}
	}
	return nil
}

func (f *fakeRepo) InsertStudentReport(_ context.Context, _ *model.Student, report *model.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.savedReports = append(f.savedReports, report.Content)
	return nil
}

type fakeLedger struct {
	credit.Ledger

	mu      sync.Mutex
	balance int
}

func (f *fakeLedger) Consume(_ context.Context, _ string, amount int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < amount {
		return pkgerrors.ErrInsufficientCredits
	}
	f.balance -= amount
	return nil
}

// scriptedGenerator returns the scripted outcome for each successive call.
type scriptedGenerator struct {
	outcomes []error
	calls    int
}

func (g *scriptedGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	idx := g.calls
	g.calls++
	if idx < len(g.outcomes) && g.outcomes[idx] != nil {
		return "", g.outcomes[idx]
	}
	return fmt.Sprintf("comment %d", idx), nil
}

func newTestRunner(repo *fakeRepo, ledger *fakeLedger, gen Generator) (*Runner, *[]time.Duration) {
	logger.Init("error", "json")

	cfg := config.BatchConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
	}

	r := NewRunner(cfg, 10, ledger, gen, repo)

	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func pendingItems(n int) []model.BatchItem {
	items := make([]model.BatchItem, n)
	for i := range items {
		items[i] = model.BatchItem{
			ID:         int64(i + 1),
			BatchID:    "b1",
			Position:   i,
			GradeLevel: "5th Grade",
			Pronouns:   "she/her",
			Strength:   "reading",
			Status:     model.BatchItemStatusPending,
		}
	}
	return items
}

func testBatch() *model.Batch {
	return &model.Batch{ID: "b1", UserID: "u1", Status: model.BatchStatusQueued}
}

func TestRunAllSucceed(t *testing.T) {
	repo := &fakeRepo{items: pendingItems(3)}
	ledger := &fakeLedger{balance: 100}
	runner, slept := newTestRunner(repo, ledger, &scriptedGenerator{})

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Succeeded: 3}, result)
	assert.Empty(t, *slept)
	assert.Equal(t, 70, ledger.balance)
	assert.Len(t, repo.savedReports, 3)
	assert.Equal(t, []model.BatchStatus{model.BatchStatusRunning, model.BatchStatusCompleted}, repo.batchStatuses)

	for _, item := range repo.items {
		assert.Equal(t, model.BatchItemStatusCompleted, item.Status)
		require.NotNil(t, item.Result)
	}
}

func TestRunStopsQueueWhenCreditsRunOut(t *testing.T) {
	repo := &fakeRepo{items: pendingItems(5)}
	// Enough for exactly two records at cost 10.
	ledger := &fakeLedger{balance: 25}
	runner, slept := newTestRunner(repo, ledger, &scriptedGenerator{})

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Succeeded: 2, Failed: 1, Skipped: 2}, result)
	assert.Empty(t, *slept)
	assert.Equal(t, 5, ledger.balance)

	assert.Equal(t, model.BatchItemStatusCompleted, repo.items[0].Status)
	assert.Equal(t, model.BatchItemStatusCompleted, repo.items[1].Status)

	assert.Equal(t, model.BatchItemStatusError, repo.items[2].Status)
	require.NotNil(t, repo.items[2].ErrorMessage)
	assert.Equal(t, "Insufficient credits", *repo.items[2].ErrorMessage)

	// Records after the exhaustion point are never attempted.
	assert.Equal(t, model.BatchItemStatusPending, repo.items[3].Status)
	assert.Equal(t, model.BatchItemStatusPending, repo.items[4].Status)

	// The batch itself still completes.
	assert.Equal(t, []model.BatchStatus{model.BatchStatusRunning, model.BatchStatusCompleted}, repo.batchStatuses)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	repo := &fakeRepo{items: pendingItems(1)}
	ledger := &fakeLedger{balance: 100}
	gen := &scriptedGenerator{outcomes: []error{
		pkgerrors.NewRetryableError(fmt.Errorf("HTTP 503"), "generation service unavailable"),
		nil,
	}}
	runner, slept := newTestRunner(repo, ledger, gen)

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Succeeded: 1}, result)
	assert.Equal(t, 2, gen.calls)
	// One backoff before the second attempt: base 1s doubled once.
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	// Both attempts consumed credits; the failed one is not refunded.
	assert.Equal(t, 80, ledger.balance)
}

func TestRunExhaustsRetries(t *testing.T) {
	repo := &fakeRepo{items: pendingItems(1)}
	ledger := &fakeLedger{balance: 100}
	transient := pkgerrors.NewRetryableError(fmt.Errorf("HTTP 503"), "generation service unavailable")
	gen := &scriptedGenerator{outcomes: []error{transient, transient, transient}}
	runner, slept := newTestRunner(repo, ledger, gen)

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, result)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)

	assert.Equal(t, model.BatchItemStatusError, repo.items[0].Status)
	require.NotNil(t, repo.items[0].ErrorMessage)
	assert.Contains(t, *repo.items[0].ErrorMessage, "HTTP 503")
}

func TestRunSkipsAlreadyCompletedItems(t *testing.T) {
	items := pendingItems(2)
	items[0].Status = model.BatchItemStatusCompleted
	repo := &fakeRepo{items: items}
	ledger := &fakeLedger{balance: 100}
	gen := &scriptedGenerator{}
	runner, _ := newTestRunner(repo, ledger, gen)

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Succeeded: 2}, result)
	// Only the pending record hit the generator or the ledger.
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 90, ledger.balance)
}

func TestRunSurvivesReportPersistenceFailure(t *testing.T) {
	repo := &fakeRepo{items: pendingItems(1), insertErr: fmt.Errorf("db down")}
	ledger := &fakeLedger{balance: 100}
	runner, _ := newTestRunner(repo, ledger, &scriptedGenerator{})

	result, err := runner.Run(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, Result{Succeeded: 1}, result)
	assert.Equal(t, model.BatchItemStatusCompleted, repo.items[0].Status)
}

func TestBackoffIsCapped(t *testing.T) {
	runner, _ := newTestRunner(&fakeRepo{}, &fakeLedger{}, &scriptedGenerator{})

	assert.Equal(t, 2*time.Second, runner.backoff(1))
	assert.Equal(t, 4*time.Second, runner.backoff(2))
	assert.Equal(t, 5*time.Second, runner.backoff(3))
	assert.Equal(t, 5*time.Second, runner.backoff(10))
}
