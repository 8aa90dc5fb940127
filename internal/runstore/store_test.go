package runstore

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propaudit/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := NewStore(filepath.Join(t.TempDir(), "runs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)

	record := &models.RunRecord{
		RunID:           "run-001",
		ProposalID:      "42",
		TracePath:       "data/traces/trace_report.json",
		NodeCount:       3,
		EdgeCount:       2,
		MaxDepth:        2,
		Status:          models.RunStatusCompleted,
		StartedAt:       time.Now().UTC().Truncate(time.Second),
		FinishedAt:      time.Now().UTC().Truncate(time.Second),
		FailedCallCount: 0,
	}
	require.NoError(t, store.SaveRun(record))

	loaded, err := store.GetRun("run-001")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.RunID, loaded.RunID)
	assert.Equal(t, record.ProposalID, loaded.ProposalID)
	assert.Equal(t, record.Status, loaded.Status)
	assert.Equal(t, record.NodeCount, loaded.NodeCount)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.GetRun("missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestListRunsOrdering(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.SaveRun(&models.RunRecord{
			RunID:     id,
			Status:    models.RunStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 3)
	// 按开始时间降序
	assert.Equal(t, "run-c", records[0].RunID)
	assert.Equal(t, "run-b", records[1].RunID)
	assert.Equal(t, "run-a", records[2].RunID)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	governor := "0x408ed6354d4973f66138c91495f2f2fcbd8724c3"

	_, exists, err := store.GetCheckpoint(governor)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.SaveCheckpoint(governor, 18_500_000))

	block, exists, err := store.GetCheckpoint(governor)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(18_500_000), block)

	// 覆盖更新
	require.NoError(t, store.SaveCheckpoint(governor, 18_500_010))
	block, _, err = store.GetCheckpoint(governor)
	require.NoError(t, err)
	assert.Equal(t, uint64(18_500_010), block)
}
