package graph

import (
	"fmt"
	"sort"
	"strings"

	"propaudit/internal/identity"
	"propaudit/pkg/models"
)

// Describer 将图和特征渲染为供下游推理消费的自然语言描述
//
// 渲染完全由模板驱动：相同的图和特征两次渲染产出逐字节相同的
// 文本。所有聚合统计先排序再输出，绝不直接遍历无序 map。
type Describer struct {
	signatures *identity.SignatureResolver
}

// NewDescriber 创建描述渲染器
func NewDescriber(signatures *identity.SignatureResolver) *Describer {
	return &Describer{signatures: signatures}
}

type selectorCount struct {
	selector string
	name     string
	count    int
}

type kindCount struct {
	kind  string
	count int
}

// Describe 渲染图的文本描述
func (d *Describer) Describe(g *models.Graph, features *models.FeatureSet) string {
	var sb strings.Builder

	sb.WriteString("提案执行轨迹图分析\n")
	sb.WriteString("==================\n\n")

	d.writeOverview(&sb, g, features)
	d.writeRootTargets(&sb, g, features)
	d.writeCallKinds(&sb, g)
	d.writeSelectors(&sb, g)
	d.writeCentrality(&sb, features)
	d.writeCriticalNodes(&sb, features)
	d.writeFailures(&sb, g, features)
	d.writeWarnings(&sb, g)

	return sb.String()
}

func (d *Describer) writeOverview(sb *strings.Builder, g *models.Graph, features *models.FeatureSet) {
	// 合成根不计入节点统计
	nodeCount := len(g.Nodes)
	if g.Root() != nil {
		nodeCount--
	}
	sb.WriteString(fmt.Sprintf("图规模: %d 个合约地址, %d 条调用边（含提案根边）\n", nodeCount, len(g.Edges)))
	sb.WriteString(fmt.Sprintf("最大调用深度: %d\n", features.MaxDepth))

	depths := make([]int, 0, len(features.BreadthByLevel))
	for depth := range features.BreadthByLevel {
		depths = append(depths, depth)
	}
	sort.Ints(depths)
	parts := make([]string, 0, len(depths))
	for _, depth := range depths {
		parts = append(parts, fmt.Sprintf("深度%d: %d个", depth, features.BreadthByLevel[depth]))
	}
	sb.WriteString(fmt.Sprintf("各层广度: %s\n", strings.Join(parts, ", ")))
	sb.WriteString(fmt.Sprintf("价值转移总量: %s wei\n\n", features.TotalValueTransferred.String()))
}

func (d *Describer) writeRootTargets(sb *strings.Builder, g *models.Graph, features *models.FeatureSet) {
	targets := g.RootTargets()
	if len(targets) == 0 {
		return
	}
	sb.WriteString("提案直接调用的目标:\n")
	for _, target := range targets {
		line := fmt.Sprintf("  - %s (%s), 中心性 %.4f", target.Label, target.Address,
			features.CentralityOf(target.Address))
		if features.IsCritical(target.Address) {
			line += " [关键节点]"
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func (d *Describer) writeCallKinds(sb *strings.Builder, g *models.Graph) {
	counts := make(map[string]int)
	for _, edge := range g.Edges {
		if edge.Kind == models.EdgeKindRoot {
			continue
		}
		counts[edge.Kind]++
	}
	if len(counts) == 0 {
		return
	}

	kinds := make([]kindCount, 0, len(counts))
	for kind, count := range counts {
		kinds = append(kinds, kindCount{kind: kind, count: count})
	}
	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].count != kinds[j].count {
			return kinds[i].count > kinds[j].count
		}
		return kinds[i].kind < kinds[j].kind
	})

	sb.WriteString("调用类型分布:\n")
	for _, kc := range kinds {
		sb.WriteString(fmt.Sprintf("  - %s: %d 次\n", kc.kind, kc.count))
	}
	sb.WriteString("\n")
}

func (d *Describer) writeSelectors(sb *strings.Builder, g *models.Graph) {
	counts := make(map[string]int)
	for _, edge := range g.Edges {
		if edge.Selector == "" {
			continue
		}
		counts[edge.Selector]++
	}
	if len(counts) == 0 {
		return
	}

	selectors := make([]selectorCount, 0, len(counts))
	for selector, count := range counts {
		selectors = append(selectors, selectorCount{
			selector: selector,
			name:     d.signatures.ResolveSignature(selector),
			count:    count,
		})
	}
	sort.Slice(selectors, func(i, j int) bool {
		if selectors[i].count != selectors[j].count {
			return selectors[i].count > selectors[j].count
		}
		return selectors[i].selector < selectors[j].selector
	})

	sb.WriteString("调用的函数:\n")
	for _, sc := range selectors {
		sb.WriteString(fmt.Sprintf("  - %s (%s): %d 次\n", sc.name, sc.selector, sc.count))
	}
	sb.WriteString("\n")
}

func (d *Describer) writeCentrality(sb *strings.Builder, features *models.FeatureSet) {
	if len(features.Centrality) == 0 {
		return
	}
	sb.WriteString("中心性最高的节点:\n")
	limit := len(features.Centrality)
	if limit > 5 {
		limit = 5
	}
	for _, score := range features.Centrality[:limit] {
		sb.WriteString(fmt.Sprintf("  - %s (%s): 度 %d, 得分 %.4f\n",
			score.Label, score.Address, score.Degree, score.Score))
	}
	sb.WriteString("\n")
}

func (d *Describer) writeCriticalNodes(sb *strings.Builder, features *models.FeatureSet) {
	if len(features.CriticalNodes) == 0 {
		return
	}
	sb.WriteString("关键节点:\n")
	for _, node := range features.CriticalNodes {
		line := fmt.Sprintf("  - %s (%s): 得分 %.4f, 命中规则 [%s]",
			node.Label, node.Address, node.Score, strings.Join(node.Reasons, ", "))
		if node.ValueOut != nil {
			line += fmt.Sprintf(", 流出价值 %s wei", node.ValueOut.String())
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func (d *Describer) writeFailures(sb *strings.Builder, g *models.Graph, features *models.FeatureSet) {
	if features.FailedCallCount == 0 {
		sb.WriteString("全部调用执行成功。\n\n")
		return
	}
	sb.WriteString(fmt.Sprintf("失败调用: %d 次\n", features.FailedCallCount))
	for _, edge := range g.Edges {
		if edge.FailureReason == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("  - %s %s -> %s 深度%d: %s\n",
			edge.Kind, edge.From, edge.To, edge.Depth, edge.FailureReason))
	}
	sb.WriteString("\n")
}

func (d *Describer) writeWarnings(sb *strings.Builder, g *models.Graph) {
	if len(g.Warnings) == 0 {
		return
	}
	sb.WriteString("警告:\n")
	for _, warning := range g.Warnings {
		sb.WriteString(fmt.Sprintf("  - %s\n", warning))
	}
}
