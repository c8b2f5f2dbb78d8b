// Package trace implements the span collection pipeline: a buffered channel
// fed by non-blocking Record calls, drained by a worker pool into the trace
// repository, with a Flush that guarantees delivery before shutdown.
package trace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/lumetrace/lumetrace/services"
	"go.uber.org/zap"
)

// CollectorService handles asynchronous span persistence
type CollectorService struct {
	traceRepo   repositories.TraceRepository
	logger      *zap.Logger
	spanChan    chan *models.Span
	workerCount int
	bufferSize  int
	pending     atomic.Int64
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool

	// mu guards started and the channel lifecycle: Record holds a read lock
	// across the send so Stop cannot close the channel under a sender.
	mu sync.RWMutex
}

// Config holds configuration for the CollectorService
type Config struct {
	BufferSize  int // Size of the span buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
	}
}

// NewCollectorService creates a new CollectorService instance
func NewCollectorService(traceRepo repositories.TraceRepository, logger *zap.Logger, config Config) *CollectorService {
	ctx, cancel := context.WithCancel(context.Background())

	return &CollectorService{
		traceRepo:   traceRepo,
		logger:      logger,
		spanChan:    make(chan *models.Span, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
		started:     false,
	}
}

// Start starts the background workers
func (s *CollectorService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("trace collector already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started trace collector",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the collector, waiting for all pending spans
func (s *CollectorService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("trace collector not started")
	}
	s.started = false
	// Closing under the write lock: every in-flight Record holds the read
	// lock across its send, so no goroutine can be sending here.
	close(s.spanChan)
	s.mu.Unlock()

	s.logger.Info("stopping trace collector", zap.Int("pending_spans", int(s.pending.Load())))

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("trace collector stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("trace collector stop timeout after %v", timeout)
	}
}

// Record enqueues a span without blocking. A full buffer drops the span and
// reports the failure to the caller.
func (s *CollectorService) Record(span *models.Span) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return services.ErrCollectorStopped
	}

	// Count before the send so a concurrent Flush never observes an
	// accepted span as already drained.
	s.pending.Add(1)
	select {
	case s.spanChan <- span:
		return nil
	default:
		s.pending.Add(-1)
		s.logger.Warn("span buffer full, dropping span",
			zap.String("name", span.Name),
			zap.String("trace_id", span.TraceID.String()))
		return services.ErrBufferFull
	}
}

// RecordBlocking enqueues a span, waiting until buffer space is available
// or the context is cancelled
func (s *CollectorService) RecordBlocking(ctx context.Context, span *models.Span) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return services.ErrCollectorStopped
	}

	s.pending.Add(1)
	select {
	case s.spanChan <- span:
		return nil
	case <-ctx.Done():
		s.pending.Add(-1)
		return ctx.Err()
	case <-s.ctx.Done():
		s.pending.Add(-1)
		return services.ErrCollectorStopped
	}
}

// Flush blocks until every accepted span has been persisted or the context
// expires. Callers invoke it before process exit to guarantee delivery.
func (s *CollectorService) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush interrupted with %d spans pending: %w", s.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetTrace retrieves all spans of a trace
func (s *CollectorService) GetTrace(ctx context.Context, traceID uuid.UUID) ([]*models.Span, error) {
	return s.traceRepo.GetByTraceID(ctx, traceID)
}

// worker persists spans from the channel
func (s *CollectorService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("trace worker started", zap.Int("worker_id", id))

	for span := range s.spanChan {
		if err := s.persistSpan(span); err != nil {
			s.logger.Error("failed to persist span",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("name", span.Name),
				zap.String("trace_id", span.TraceID.String()))
		}
		s.pending.Add(-1)
	}

	s.logger.Debug("trace worker stopped", zap.Int("worker_id", id))
}

// persistSpan writes a single span with its own timeout
func (s *CollectorService) persistSpan(span *models.Span) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.traceRepo.InsertSpan(ctx, span); err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}

	return nil
}

// GetStats returns statistics about the collector
func (s *CollectorService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:   s.bufferSize,
		PendingSpans: int(s.pending.Load()),
		WorkerCount:  s.workerCount,
		Started:      s.started,
	}
}

// Stats represents collector statistics
type Stats struct {
	BufferSize   int
	PendingSpans int
	WorkerCount  int
	Started      bool
}
