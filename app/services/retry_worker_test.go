package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"verifactu/app/config"
)

func TestRetryWorkerDelayFollowsBackoff(t *testing.T) {
	worker := NewRetryWorker(nil, config.RetryConfig{
		MaxAttempts:    3,
		BackoffSeconds: []int{60, 300, 600},
	}, 10)

	assert.Equal(t, 60*time.Second, worker.nextDelay())

	worker.failedPasses = 1
	assert.Equal(t, 300*time.Second, worker.nextDelay())

	worker.failedPasses = 2
	assert.Equal(t, 600*time.Second, worker.nextDelay())

	// beyond the schedule the last delay is reused
	worker.failedPasses = 7
	assert.Equal(t, 600*time.Second, worker.nextDelay())
}

func TestRetryWorkerDefaultBatchSize(t *testing.T) {
	worker := NewRetryWorker(nil, config.RetryConfig{}, 0)
	assert.Equal(t, 50, worker.batchSize)
}

func TestRetryWorkerStartStop(t *testing.T) {
	db := openTestDB(t)
	registrar := newTestRegistrar(t, db, "")
	worker := NewRetryWorker(registrar, testConfig().Retry, 10)

	worker.Start()
	worker.Start() // second start must not spawn a second loop
	assert.True(t, worker.isRunning.Load())

	done := make(chan struct{})
	go func() {
		worker.Stop()
		worker.Stop() // idempotent
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, worker.isRunning.Load())
}
