package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestHealthHistoryOrder tests newest-first retrieval with a limit
func TestHealthHistoryOrder(t *testing.T) {
	c := newTestCache(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, score := range []int{90, 75, 60} {
		err := c.RecordHealth(HealthSample{Score: score, RecordedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	history, err := c.HealthHistory(2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 60, history[0].Score)
	assert.Equal(t, 75, history[1].Score)

	all, err := c.HealthHistory(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestReportRoundTrip tests same-day overwrite and retrieval
func TestReportRoundTrip(t *testing.T) {
	c := newTestCache(t)
	now := time.Now().UTC()

	empty, err := c.LastReport()
	require.NoError(t, err)
	assert.Nil(t, empty)

	first := &queue.Dashboard{
		GeneratedAt:    now,
		CountsByStatus: map[types.WorkStatus]int{types.WorkStatusPending: 1},
		HealthScore:    80,
	}
	require.NoError(t, c.RecordReport(first))

	second := *first
	second.HealthScore = 70
	require.NoError(t, c.RecordReport(&second))

	got, err := c.LastReport()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 70, got.HealthScore)
	assert.Equal(t, 1, got.CountsByStatus[types.WorkStatusPending])
}
