package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpan(t *testing.T) {
	traceID := uuid.New()
	parentID := uuid.New()

	span := NewSpan(traceID, &parentID, "registry.compile")

	assert.NotEqual(t, uuid.Nil, span.ID)
	assert.Equal(t, traceID, span.TraceID)
	require.NotNil(t, span.ParentID)
	assert.Equal(t, parentID, *span.ParentID)
	assert.Equal(t, "registry.compile", span.Name)
	assert.Equal(t, SpanStatusOK, span.Status)
	assert.False(t, span.StartedAt.IsZero())
	assert.True(t, span.EndedAt.IsZero())
}

func TestSpan_Finish(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		span := NewSpan(uuid.New(), nil, "work")
		span.StartedAt = time.Now().Add(-150 * time.Millisecond)

		span.Finish(nil)

		assert.Equal(t, SpanStatusOK, span.Status)
		assert.Nil(t, span.ErrorMessage)
		assert.False(t, span.EndedAt.IsZero())
		assert.GreaterOrEqual(t, span.DurationMs, int64(150))
	})

	t.Run("failure records the error", func(t *testing.T) {
		span := NewSpan(uuid.New(), nil, "work")

		span.Finish(errors.New("upstream timeout"))

		assert.Equal(t, SpanStatusError, span.Status)
		require.NotNil(t, span.ErrorMessage)
		assert.Equal(t, "upstream timeout", *span.ErrorMessage)
	})
}
