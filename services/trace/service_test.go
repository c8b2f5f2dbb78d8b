package trace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTraceRepository is a mock implementation of TraceRepository
type MockTraceRepository struct {
	mock.Mock
	mu            sync.Mutex
	insertedSpans []*models.Span
}

func (m *MockTraceRepository) InsertSpan(ctx context.Context, span *models.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, span)
	m.insertedSpans = append(m.insertedSpans, span)
	return args.Error(0)
}

func (m *MockTraceRepository) GetByTraceID(ctx context.Context, traceID uuid.UUID) ([]*models.Span, error) {
	args := m.Called(ctx, traceID)
	if spans := args.Get(0); spans != nil {
		return spans.([]*models.Span), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTraceRepository) WithTx(tx repositories.Transaction) repositories.TraceRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.TraceRepository)
}

func (m *MockTraceRepository) GetInsertedSpans() []*models.Span {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertedSpans
}

func newTestSpan() *models.Span {
	return models.NewSpan(uuid.New(), nil, "test-span")
}

func TestCollectorService_StartStop(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)
	config := Config{
		BufferSize:  10,
		WorkerCount: 2,
	}

	service := NewCollectorService(mockRepo, logger, config)

	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	err = service.Start()
	assert.Error(t, err)

	err = service.Stop(5 * time.Second)
	require.NoError(t, err)

	// Cannot stop again
	err = service.Stop(5 * time.Second)
	assert.Error(t, err)
}

func TestCollectorService_Record(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	span := newTestSpan()
	err := service.Record(span)
	require.NoError(t, err)

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	inserted := mockRepo.GetInsertedSpans()
	require.Len(t, inserted, 1)
	assert.Equal(t, span.TraceID, inserted[0].TraceID)
}

func TestCollectorService_RecordBeforeStart(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, DefaultConfig())

	err := service.Record(newTestSpan())
	assert.Error(t, err)
}

func TestCollectorService_RecordBlocking(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	err := service.RecordBlocking(context.Background(), newTestSpan())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, len(mockRepo.GetInsertedSpans()), 1)
}

func TestCollectorService_Flush(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	spanCount := 50
	for i := 0; i < spanCount; i++ {
		require.NoError(t, service.Record(newTestSpan()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := service.Flush(ctx)
	require.NoError(t, err)

	// Every accepted span was persisted before Flush returned
	assert.Len(t, mockRepo.GetInsertedSpans(), spanCount)
	assert.Equal(t, 0, service.GetStats().PendingSpans)
}

func TestCollectorService_FlushTimeout(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 100, WorkerCount: 1})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	// Slow down persistence so spans stay pending
	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(500 * time.Millisecond)
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, service.Record(newTestSpan()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := service.Flush(ctx)
	assert.Error(t, err)
}

func TestCollectorService_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	goroutineCount := 10
	spansPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < spansPerGoroutine; j++ {
				_ = service.Record(newTestSpan())
			}
		}()
	}

	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, service.Flush(ctx))

	assert.Len(t, mockRepo.GetInsertedSpans(), goroutineCount*spansPerGoroutine)
}

func TestCollectorService_BufferFull(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 5, WorkerCount: 1})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	// Slow down processing so the buffer backs up
	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	})

	successCount := 0
	for i := 0; i < 20; i++ {
		if err := service.Record(newTestSpan()); err == nil {
			successCount++
		}
	}

	// Some records were dropped, none blocked
	assert.Less(t, successCount, 20)

	time.Sleep(2 * time.Second)
}

func TestCollectorService_FlushRacesRecord(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	spanCount := 200
	accepted := make(chan int, 1)
	go func() {
		n := 0
		for i := 0; i < spanCount; i++ {
			if err := service.Record(newTestSpan()); err == nil {
				n++
			}
		}
		accepted <- n
	}()

	// Flush repeatedly while the producer is still recording; the pending
	// count must never dip below zero
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case n := <-accepted:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, service.Flush(ctx))
			assert.Len(t, mockRepo.GetInsertedSpans(), n)
			assert.Equal(t, 0, service.GetStats().PendingSpans)
			return
		default:
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = service.Flush(ctx)
			cancel()
			assert.GreaterOrEqual(t, service.GetStats().PendingSpans, 0)
		}
	}
	t.Fatal("producer did not finish in time")
}

func TestCollectorService_StopDuringRecord(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())

	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil)

	// Hammer Record from several goroutines while Stop closes the channel;
	// a send on the closed channel would panic and fail the test
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = service.Record(newTestSpan())
			}
		}()
	}

	require.NoError(t, service.Stop(5*time.Second))
	wg.Wait()

	// Records after shutdown are refused
	assert.Error(t, service.Record(newTestSpan()))
}

func TestCollectorService_GetTrace(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, DefaultConfig())

	traceID := uuid.New()
	expected := []*models.Span{models.NewSpan(traceID, nil, "root")}
	mockRepo.On("GetByTraceID", mock.Anything, traceID).Return(expected, nil)

	spans, err := service.GetTrace(context.Background(), traceID)
	require.NoError(t, err)
	assert.Equal(t, expected, spans)
}

func TestCollectorService_StopTimeout(t *testing.T) {
	logger := zap.NewNop()
	mockRepo := new(MockTraceRepository)

	service := NewCollectorService(mockRepo, logger, Config{BufferSize: 100, WorkerCount: 1})
	require.NoError(t, service.Start())

	// Very slow persistence
	mockRepo.On("InsertSpan", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(10 * time.Second)
	})

	_ = service.Record(newTestSpan())

	err := service.Stop(100 * time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10000, config.BufferSize)
	assert.Equal(t, 4, config.WorkerCount)
}
