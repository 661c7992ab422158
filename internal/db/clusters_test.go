package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmetrics/internal/db/dbtest"
	"shopmetrics/internal/logger"
	"shopmetrics/internal/retry"
	"shopmetrics/internal/segment"
)

func newClusterStore(mem *dbtest.Memory) *ClusterStore {
	s := NewClusterStore(mem, "clusters", logger.Discard())
	s.Retry = retry.Policy{Attempts: 3, Delay: time.Millisecond}
	n := 0
	s.NewID = func() string {
		n++
		return fmt.Sprintf("run%d", n)
	}
	return s
}

func classify(n int) []segment.Classified {
	fs := make([]segment.Features, 0, n)
	for i := 0; i < n; i++ {
		fs = append(fs, segment.Features{
			CustomerID:         fmt.Sprintf("c%03d", i),
			TotalSpent:         float64(i * 40),
			OrderCount:         i % 12,
			AvgOrderValue:      40,
			DaysSinceLastOrder: i * 3,
		})
	}
	return segment.ClassifyAll(segment.RFMStrategy{}, fs)
}

func runRows(mem *dbtest.Memory) map[string]int {
	out := map[string]int{}
	for _, it := range mem.Items("clusters") {
		sk := AttrS(it["SK"])
		if sk == currentSK {
			continue
		}
		run := strings.SplitN(strings.TrimPrefix(sk, "RUN#"), "#", 2)[0]
		out[run]++
	}
	return out
}

func TestClusterStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	mem.PageSize = 10
	s := newClusterStore(mem)

	in := classify(60)
	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, in))
	assert.Equal(t, 3, mem.BatchCalls)

	got, err := s.Load(ctx, "a.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.ElementsMatch(t, in, got)

	other, err := s.Load(ctx, "a.myshopify.com", segment.SchemeLifecycle)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestClusterStore_ReplaceLeavesNoDuplicates(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	s := newClusterStore(mem)

	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(30)))
	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(5)))

	assert.Equal(t, map[string]int{"run2": 5}, runRows(mem))
	got, err := s.Load(ctx, "a.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestClusterStore_FailedWriteKeepsPreviousRun(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	s := newClusterStore(mem)

	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(4)))

	mem.FailBatchWrite = errors.New("throttled")
	err := s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(8))
	require.Error(t, err)
	mem.FailBatchWrite = nil

	got, err := s.Load(ctx, "a.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestClusterStore_RetriesUnprocessedItems(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	mem.UnprocessedOnce = true
	s := newClusterStore(mem)

	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(3)))
	got, err := s.Load(ctx, "a.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestClusterStore_ConcurrentFlipIsRejected(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	s := newClusterStore(mem)
	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(2)))

	// another writer moves the pointer between our read and our flip
	err := s.flip(ctx, clusterPK("a.myshopify.com", segment.SchemeRFM), "stale", "run9", 1, time.Now())
	assert.ErrorIs(t, err, ErrConcurrentSave)
}

func TestClusterStore_EmptySave(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	s := newClusterStore(mem)

	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, classify(3)))
	require.NoError(t, s.Save(ctx, "a.myshopify.com", segment.SchemeRFM, nil))

	got, err := s.Load(ctx, "a.myshopify.com", segment.SchemeRFM)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, runRows(mem))
}
