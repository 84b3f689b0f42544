package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/scheduler"
)

func TestReadPayload(t *testing.T) {
	t.Run("blank selects default task", func(t *testing.T) {
		p, err := readPayload(strings.NewReader("  \n"))
		require.NoError(t, err)
		assert.Empty(t, p.Task)
		assert.Nil(t, p.ReferenceTime)
	})

	t.Run("task and reference time", func(t *testing.T) {
		p, err := readPayload(strings.NewReader(`{"task":"sweep_due_runs","reference_time":"2026-06-01T09:00:00Z"}`))
		require.NoError(t, err)
		assert.Equal(t, scheduler.TaskSweepDueRuns, p.Task)
		require.NotNil(t, p.ReferenceTime)
		assert.True(t, p.ReferenceTime.Equal(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := readPayload(strings.NewReader("{task"))
		assert.Error(t, err)
	})
}
