package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wqooops/report-card-comments/internal/logger"
)

func init() {
	logger.Init("error", "json")
}

func TestPoolRunsEverySubmittedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(2)
	p.Start(ctx)

	// Far more jobs than the queue holds; submissions must block instead
	// of dropping work on the floor.
	const jobs = 50
	var mu sync.Mutex
	ran := 0
	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		err := p.Submit(ctx, func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	wg.Wait()
	p.Stop()

	assert.Equal(t, jobs, ran)
}

func TestSubmitReturnsWhenCallerIsCancelled(t *testing.T) {
	// No workers started, so the queue fills and stays full.
	p := NewPool(1)

	noop := func(context.Context) error { return nil }
	filling := true
	for filling {
		select {
		case p.jobChan <- noop:
		default:
			filling = false
		}
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(cancelled, noop)
	assert.ErrorIs(t, err, context.Canceled)
}
