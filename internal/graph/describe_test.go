package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propaudit/internal/config"
	"propaudit/internal/identity"
	"propaudit/pkg/models"
)

func newTestDescriber() *Describer {
	cfg := config.DefaultDecoderConfig()
	return NewDescriber(identity.NewSignatureResolver(cfg, newTestLogger()))
}

func buildDescribeFixture(t *testing.T) (*models.Graph, *models.FeatureSet) {
	t.Helper()
	transfer := callFrame(addrY, addrZ, 500)
	transfer.Input = "0xa9059cbb0000000000000000000000001111"
	failing := callFrame(addrY, addrW, 0)
	failing.Error = "execution reverted"
	top := callFrame(addrX, addrY, 1000)
	top.Input = "0xfe0d94c10000000000000000000000000001"
	top.Children = []*models.CallFrame{transfer, failing}

	g, err := newTestBuilder().Build([]*models.CallFrame{top})
	require.NoError(t, err)
	return g, newTestExtractor(100).Extract(g)
}

func TestDescribeContainsStructuralDetail(t *testing.T) {
	g, features := buildDescribeFixture(t)
	text := newTestDescriber().Describe(g, features)

	// 描述文本是推理器唯一的图输入，必须覆盖全部结构要素
	assert.Contains(t, text, "最大调用深度: 3")
	assert.Contains(t, text, "深度1: 1个")
	assert.Contains(t, text, "价值转移总量: 1500 wei")
	assert.Contains(t, text, "失败调用: 1 次")
	assert.Contains(t, text, "execution reverted")
	assert.Contains(t, text, addrY)
	assert.Contains(t, text, "transfer(address,uint256)")
	assert.Contains(t, text, "关键节点")
}

func TestDescribeListsRootTargets(t *testing.T) {
	g, features := buildDescribeFixture(t)
	text := newTestDescriber().Describe(g, features)

	assert.Contains(t, text, "提案直接调用的目标")
	assert.Contains(t, text, addrY)
	// 目标行附带中心性得分，关键目标带标记
	assert.Contains(t, text, "中心性")
	assert.Contains(t, text, "[关键节点]")
}

func TestDescribeDeterministic(t *testing.T) {
	// 相同的图和特征两次渲染逐字节一致
	g, features := buildDescribeFixture(t)
	describer := newTestDescriber()

	first := describer.Describe(g, features)
	second := describer.Describe(g, features)
	assert.Equal(t, first, second)

	// 独立重建的图渲染结果同样一致
	g2, features2 := buildDescribeFixture(t)
	third := newTestDescriber().Describe(g2, features2)
	assert.Equal(t, first, third)
}

func TestDescribeAllSucceeded(t *testing.T) {
	frame := callFrame(addrX, addrY, 0)
	g, err := newTestBuilder().Build([]*models.CallFrame{frame})
	require.NoError(t, err)
	features := newTestExtractor(0).Extract(g)

	text := newTestDescriber().Describe(g, features)
	assert.Contains(t, text, "全部调用执行成功")
	assert.NotContains(t, text, "警告")
}

func TestDescribeWarnings(t *testing.T) {
	frame := callFrame(addrX, addrY, 1)
	frame.Kind = models.FrameKindStaticCall
	g, err := newTestBuilder().Build([]*models.CallFrame{frame})
	require.NoError(t, err)
	features := newTestExtractor(0).Extract(g)

	text := newTestDescriber().Describe(g, features)
	assert.Contains(t, text, "警告:")
	assert.Contains(t, text, "STATICCALL")
}
