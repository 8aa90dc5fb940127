package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propaudit/internal/config"
	"propaudit/internal/errors"
	"propaudit/internal/output"
	"propaudit/internal/runstore"
	"propaudit/pkg/models"
)

const sampleTrace = `{
	"trace_summary": {
		"calls": [{
			"type": "CALL",
			"from": "0xaaaa000000000000000000000000000000000001",
			"to": "0xbbbb000000000000000000000000000000000002",
			"value": "0x64",
			"input": "0xa9059cbb000000000000000000000000",
			"calls": [{
				"type": "STATICCALL",
				"from": "0xbbbb000000000000000000000000000000000002",
				"to": "0xcccc000000000000000000000000000000000003"
			}]
		}]
	}
}`

func newTestPipeline(t *testing.T) (*Pipeline, string, *runstore.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Graph.GraphOutputPath = filepath.Join(dir, "proposal_graph.json")
	cfg.Graph.DescriptionOutputPath = filepath.Join(dir, "graph_description.txt")

	out, err := output.NewFileOutput(dir, cfg.Graph.GraphOutputPath, cfg.Graph.DescriptionOutputPath, logger)
	require.NoError(t, err)

	store, err := runstore.NewStore(filepath.Join(dir, "runs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(cfg, out, store, logger), dir, store
}

func writeTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace_report.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunProducesAllArtifacts(t *testing.T) {
	pipeline, dir, store := newTestPipeline(t)
	tracePath := writeTrace(t, sampleTrace)

	result, err := pipeline.Run(context.Background(), tracePath)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.Graph.Nodes, 4)
	assert.Equal(t, 3, result.Features.MaxDepth)
	assert.NotEmpty(t, result.Description)

	// 三个产物文件都已写出
	for _, name := range []string{"proposal_graph.json", "graph_description.txt", "graph_features.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "缺少产物文件 %s", name)
	}

	// 运行记录已落库
	record, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.RunStatusCompleted, record.Status)
	assert.Equal(t, 4, record.NodeCount)
}

func TestRunMalformedTraceLeavesNoArtifacts(t *testing.T) {
	pipeline, dir, store := newTestPipeline(t)
	tracePath := writeTrace(t, `{"trace_summary": {"calls": [{"from": "0xaaaa"}]}}`)

	_, err := pipeline.Run(context.Background(), tracePath)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedTrace(err))

	// 失败的运行不留下半成品产物
	for _, name := range []string{"proposal_graph.json", "graph_description.txt", "graph_features.json"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(statErr), "不应存在产物文件 %s", name)
	}

	// 但失败记录已落库
	records, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RunStatusFailed, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
}

func TestRunMissingToIsInputError(t *testing.T) {
	// 非CREATE帧缺少to属于输入数据错误，不能归为内部构建缺陷
	pipeline, _, _ := newTestPipeline(t)
	tracePath := writeTrace(t, `{"trace_summary": {"calls": [{"type": "CALL", "from": "0xaaaa000000000000000000000000000000000001"}]}}`)

	_, err := pipeline.Run(context.Background(), tracePath)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedTrace(err))
}

func TestRunWithoutGraphConfig(t *testing.T) {
	// graph 配置缺失时按零阈值和内置地址库完成运行
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Graph = nil

	out, err := output.NewFileOutput(dir,
		filepath.Join(dir, "proposal_graph.json"),
		filepath.Join(dir, "graph_description.txt"), logger)
	require.NoError(t, err)

	pipeline := New(cfg, out, nil, logger)
	result, err := pipeline.Run(context.Background(), writeTrace(t, sampleTrace))
	require.NoError(t, err)
	assert.Len(t, result.Graph.Nodes, 4)
}

func TestRunMissingFile(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t)

	_, err := pipeline.Run(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	var auditErr *errors.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, errors.ErrorTypeFileIO, auditErr.Type)
}

func TestRunDeterministicArtifacts(t *testing.T) {
	// 相同输入两次运行产出逐字节相同的图和描述
	tracePath := writeTrace(t, sampleTrace)

	runOnce := func() ([]byte, []byte) {
		pipeline, dir, _ := newTestPipeline(t)
		_, err := pipeline.Run(context.Background(), tracePath)
		require.NoError(t, err)

		graphData, err := os.ReadFile(filepath.Join(dir, "proposal_graph.json"))
		require.NoError(t, err)
		descData, err := os.ReadFile(filepath.Join(dir, "graph_description.txt"))
		require.NoError(t, err)
		return graphData, descData
	}

	graph1, desc1 := runOnce()
	graph2, desc2 := runOnce()
	assert.Equal(t, graph1, graph2)
	assert.Equal(t, desc1, desc2)
}
