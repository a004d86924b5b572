package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"verifactu/app/config"
	"verifactu/internal/logger"
)

// RetryWorker periodically resubmits pending and failed registries in the
// background. The wait between passes follows the configured backoff
// schedule, so repeated failures slow the worker down.
type RetryWorker struct {
	registrar *InvoiceRegistrar
	retryCfg  config.RetryConfig
	batchSize int
	isRunning atomic.Bool
	stopChan  chan bool
	log       zerolog.Logger

	failedPasses int
}

// NewRetryWorker creates a worker driving the given registrar.
func NewRetryWorker(registrar *InvoiceRegistrar, retryCfg config.RetryConfig, batchSize int) *RetryWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &RetryWorker{
		registrar: registrar,
		retryCfg:  retryCfg,
		batchSize: batchSize,
		stopChan:  make(chan bool),
		log:       logger.WithComponent("retry_worker"),
	}
}

// Start launches the worker loop in its own goroutine. A second Start while
// the worker runs is a no-op.
func (w *RetryWorker) Start() {
	if !w.isRunning.CompareAndSwap(false, true) {
		return
	}
	go w.run()
	w.log.Info().
		Int("batch_size", w.batchSize).
		Int("max_attempts", w.retryCfg.MaxAttempts).
		Msg("Retry worker started")
}

// run is the main worker loop
func (w *RetryWorker) run() {
	// Initial pass
	w.performPass()

	for {
		timer := time.NewTimer(w.nextDelay())
		select {
		case <-timer.C:
			w.performPass()
		case <-w.stopChan:
			timer.Stop()
			w.log.Info().Msg("Retry worker stopped")
			return
		}
	}
}

// Stop stops the worker loop and waits for it to acknowledge. Stopping a
// worker that is not running is a no-op.
func (w *RetryWorker) Stop() {
	if !w.isRunning.CompareAndSwap(true, false) {
		return
	}
	w.stopChan <- true
}

// nextDelay walks the backoff schedule based on consecutive failed passes.
func (w *RetryWorker) nextDelay() time.Duration {
	return w.retryCfg.BackoffFor(w.failedPasses + 1)
}

// performPass runs one retry pass over the eligible registries.
func (w *RetryWorker) performPass() {
	start := time.Now()

	result, err := w.registrar.RetryFailed(context.Background(), w.batchSize)
	if err != nil {
		w.failedPasses++
		w.log.Error().Err(err).Msg("Retry pass failed")
		return
	}

	if result.Failed > 0 {
		w.failedPasses++
	} else {
		w.failedPasses = 0
	}

	w.log.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Retry pass completed")
}
