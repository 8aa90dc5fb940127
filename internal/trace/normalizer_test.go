package trace

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

func newTestNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewNormalizer(logger)
}

func TestNormalizeReplayMode(t *testing.T) {
	doc := `{
		"trace_summary": {
			"calls": [{
				"type": "CALL",
				"from": "0xAAAA000000000000000000000000000000000001",
				"to": "0xBBBB000000000000000000000000000000000002",
				"value": "0x0",
				"input": "0xa9059cbb",
				"gasUsed": "0x5208"
			}]
		}
	}`

	frames, err := newTestNormalizer().Normalize([]byte(doc))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	frame := frames[0]
	assert.Equal(t, models.FrameKindCall, frame.Kind)
	// 地址统一为小写
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", frame.From)
	assert.Equal(t, "0xbbbb000000000000000000000000000000000002", frame.To)
	assert.Equal(t, "0", frame.Value.String())
	assert.Equal(t, uint64(21000), frame.GasUsed)
	assert.Equal(t, "0xa9059cbb", frame.Selector())
}

func TestNormalizeBothShapesEquivalent(t *testing.T) {
	// trace_summary（replay模式）和 summary（simulate模式）承载相同
	// 的帧内容时，规范化结果完全相同
	inner := `{
		"calls": [{
			"type": "call",
			"from": "0xaaaa000000000000000000000000000000000001",
			"to": "0xbbbb000000000000000000000000000000000002",
			"value": "0x64",
			"calls": [{
				"type": "STATICCALL",
				"from": "0xbbbb000000000000000000000000000000000002",
				"to": "0xcccc000000000000000000000000000000000003"
			}]
		}]
	}`

	replayFrames, err := newTestNormalizer().Normalize([]byte(`{"trace_summary": ` + inner + `}`))
	require.NoError(t, err)
	simulateFrames, err := newTestNormalizer().Normalize([]byte(`{"summary": ` + inner + `}`))
	require.NoError(t, err)

	assert.Equal(t, replayFrames, simulateFrames)
	require.Len(t, replayFrames, 1)
	assert.Equal(t, models.FrameKindCall, replayFrames[0].Kind, "type 字段大小写不敏感")
	require.Len(t, replayFrames[0].Children, 1)
	assert.Equal(t, models.FrameKindStaticCall, replayFrames[0].Children[0].Kind)
}

func TestNormalizeQuantityFormats(t *testing.T) {
	tests := []struct {
		name     string
		rawValue string
		expected string
	}{
		{"十六进制字符串", `"0x64"`, "100"},
		{"十进制字符串", `"100"`, "100"},
		{"JSON数字", `100`, "100"},
		{"null", `null`, "0"},
		{"空字符串", `""`, "0"},
		{"裸0x前缀", `"0x"`, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"trace_summary": {"calls": [{
				"type": "CALL",
				"from": "0xaaaa000000000000000000000000000000000001",
				"to": "0xbbbb000000000000000000000000000000000002",
				"value": ` + tt.rawValue + `
			}]}}`

			frames, err := newTestNormalizer().Normalize([]byte(doc))
			require.NoError(t, err)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.expected, frames[0].Value.String())
		})
	}
}

func TestNormalizeMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"非法JSON", `{not json`},
		{"缺少顶层键", `{"other": {}}`},
		{"缺少type字段", `{"trace_summary": {"calls": [{"from": "0xaaaa000000000000000000000000000000000001"}]}}`},
		{"不支持的调用类型", `{"trace_summary": {"calls": [{"type": "JUMP", "from": "0xaaaa000000000000000000000000000000000001"}]}}`},
		{"缺少from字段", `{"trace_summary": {"calls": [{"type": "CALL", "to": "0xbbbb000000000000000000000000000000000002"}]}}`},
		{"非CREATE帧缺少to字段", `{"trace_summary": {"calls": [{"type": "CALL", "from": "0xaaaa000000000000000000000000000000000001"}]}}`},
		{"STATICCALL缺少to字段", `{"trace_summary": {"calls": [{"type": "STATICCALL", "from": "0xaaaa000000000000000000000000000000000001"}]}}`},
		{"非法value", `{"trace_summary": {"calls": [{"type": "CALL", "from": "0xaaaa000000000000000000000000000000000001", "value": "0xzz"}]}}`},
		{"嵌套帧缺少type", `{"trace_summary": {"calls": [{"type": "CALL", "from": "0xaaaa000000000000000000000000000000000001", "calls": [{"from": "0xbbbb000000000000000000000000000000000002"}]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestNormalizer().Normalize([]byte(tt.doc))
			require.Error(t, err)
			// 轨迹内容错误归为 MalformedTrace，属于致命的输入错误，不可重试
			assert.True(t, errors.IsMalformedTrace(err), "应为 MalformedTrace 错误: %v", err)
		})
	}
}

func TestNormalizePendingCreate(t *testing.T) {
	doc := `{"trace_summary": {"calls": [{
		"type": "CREATE2",
		"from": "0xaaaa000000000000000000000000000000000001"
	}]}}`

	frames, err := newTestNormalizer().Normalize([]byte(doc))
	require.NoError(t, err, "CREATE地址未解析属于非致命情况")
	require.Len(t, frames, 1)
	assert.Equal(t, models.PendingCreateAddress, frames[0].To)
	assert.True(t, frames[0].HasPendingCreate())
}

func TestNormalizeSiblingOrderPreserved(t *testing.T) {
	doc := `{"summary": {"calls": [{
		"type": "CALL",
		"from": "0xaaaa000000000000000000000000000000000001",
		"to": "0xbbbb000000000000000000000000000000000002",
		"calls": [
			{"type": "CALL", "from": "0xbbbb000000000000000000000000000000000002", "to": "0xcccc000000000000000000000000000000000003"},
			{"type": "CALL", "from": "0xbbbb000000000000000000000000000000000002", "to": "0xdddd000000000000000000000000000000000004"},
			{"type": "CALL", "from": "0xbbbb000000000000000000000000000000000002", "to": "0xcccc000000000000000000000000000000000003"}
		]
	}]}}`

	frames, err := newTestNormalizer().Normalize([]byte(doc))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	children := frames[0].Children
	require.Len(t, children, 3)
	assert.Equal(t, "0xcccc000000000000000000000000000000000003", children[0].To)
	assert.Equal(t, "0xdddd000000000000000000000000000000000004", children[1].To)
	assert.Equal(t, "0xcccc000000000000000000000000000000000003", children[2].To)
}

func TestNormalizeFileNotFound(t *testing.T) {
	_, err := newTestNormalizer().NormalizeFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	// 环境错误与轨迹内容错误类别不同
	var auditErr *errors.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, errors.ErrorTypeFileIO, auditErr.Type)
	assert.False(t, errors.IsMalformedTrace(err))
}
