package graph

import (
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"propaudit/internal/identity"
	"propaudit/pkg/models"
)

// Builder 提案执行轨迹图构建器
//
// 对规范调用帧树做前序深度优先遍历，增量构建有向多重图：
// 每个出现过的地址一个节点，每个调用帧一条边。遍历过程完全确定，
// 同一份轨迹文档两次构建产出的 order/depth 编号逐字节一致。
type Builder struct {
	logger   *logrus.Logger
	resolver *identity.Resolver

	graph       *models.Graph
	nodeCounter int
	edgeCounter int
}

// NewBuilder 创建图构建器
func NewBuilder(resolver *identity.Resolver, logger *logrus.Logger) *Builder {
	return &Builder{
		logger:   logger,
		resolver: resolver,
	}
}

// Build 从顶层调用帧列表构建图
//
// 合成根节点代表提案本身，每个顶层调用对应一条根出边（深度1），
// 调用帧自身的边深度为父边深度+1。
func (b *Builder) Build(frames []*models.CallFrame) (*models.Graph, error) {
	b.graph = models.NewGraph()
	b.nodeCounter = 0
	b.edgeCounter = 0

	// 合成根节点
	root := &models.Node{
		Address:        models.RootAddress,
		Label:          models.RootLabel,
		FirstSeenOrder: b.nextNodeOrder(),
		FirstSeenDepth: 0,
		TotalValueIn:   big.NewInt(0),
		TotalValueOut:  big.NewInt(0),
	}
	b.graph.AddNode(root)

	// 启发式解析依赖整棵帧树的选择器观察结果
	b.resolver.Observe(frames)

	for _, frame := range frames {
		// 根虚拟边：提案 -> 顶层调用方
		fromNode := b.ensureNode(frame.From, 1)
		rootEdge := &models.Edge{
			From:      root.Address,
			To:        fromNode.Address,
			Kind:      models.EdgeKindRoot,
			Value:     big.NewInt(0),
			Depth:     1,
			Order:     b.nextEdgeOrder(),
			Succeeded: true,
		}
		b.graph.AddEdge(rootEdge)

		b.visit(frame, []*models.Edge{rootEdge}, 2, false)

		// 提案直接指定的目标地址
		if target := b.graph.NodeByAddress(frame.To); target != nil {
			target.IsRoot = true
		}
	}

	b.logger.Infof("图构建完成: %d 个节点, %d 条边", len(b.graph.Nodes), len(b.graph.Edges))
	return b.graph, nil
}

// visit 前序遍历单个调用帧：先建边，再按调用顺序递归子帧
//
// ancestors 为从根虚拟边到当前父边的路径，revert 沿它向上回溯；
// ancestorFailed 表示某个祖先帧已 revert，其整棵子树的效果被回滚。
func (b *Builder) visit(frame *models.CallFrame, ancestors []*models.Edge, depth int, ancestorFailed bool) {
	fromNode := b.ensureNode(frame.From, depth)
	toNode := b.ensureNode(frame.To, depth)

	value := frame.Value
	if value == nil {
		value = big.NewInt(0)
	}

	// EVM 保证 STATICCALL 不携带价值，出现非零值说明轨迹畸形或被
	// 构造过，标记后继续而不是静默接受
	if frame.Kind == models.FrameKindStaticCall && value.Sign() > 0 {
		warning := fmt.Sprintf("STATICCALL %s -> %s 携带非零value %s，轨迹可疑",
			frame.From, frame.To, value.String())
		b.graph.Warnings = append(b.graph.Warnings, warning)
		b.logger.Warn(warning)
	}

	if frame.HasPendingCreate() {
		warning := fmt.Sprintf("%s 帧（调用方 %s）部署地址未解析，保留占位地址", frame.Kind, frame.From)
		b.graph.Warnings = append(b.graph.Warnings, warning)
	}

	edge := &models.Edge{
		From:      fromNode.Address,
		To:        toNode.Address,
		Kind:      frame.Kind,
		Selector:  frame.Selector(),
		Value:     new(big.Int).Set(value),
		Depth:     depth,
		Order:     b.nextEdgeOrder(),
		Succeeded: !ancestorFailed,
	}
	b.graph.AddEdge(edge)

	// 价值记账在建边时完成
	fromNode.TotalValueOut = new(big.Int).Add(fromNode.TotalValueOut, value)
	toNode.TotalValueIn = new(big.Int).Add(toNode.TotalValueIn, value)

	// revert 传播：失败帧使整条祖先链上的调用失效（调用栈展开
	// 且未被捕获），其子树的效果也随之回滚；不在该路径上的兄弟
	// 分支保持各自独立的结果
	if frame.Error != "" {
		edge.FailureReason = frame.Error
		edge.Succeeded = false
		for _, ancestor := range ancestors {
			ancestor.Succeeded = false
		}
	}

	path := append(ancestors, edge)
	childAncestorFailed := ancestorFailed || frame.Error != ""
	for _, child := range frame.Children {
		b.visit(child, path, depth+1, childAncestorFailed)
	}
}

// ensureNode 确保地址对应的节点存在（按访问计数分配 firstSeenOrder）
//
// depth 为触达该地址的边深度。节点已存在而本次触达更浅时下调
// FirstSeenDepth：同一地址可能先在深层子树出现、之后又被更浅的
// 调用直接触达，层级宽度按最小触达深度统计。firstSeenOrder 不变。
func (b *Builder) ensureNode(address string, depth int) *models.Node {
	if existing := b.graph.NodeByAddress(address); existing != nil {
		if depth < existing.FirstSeenDepth {
			existing.FirstSeenDepth = depth
		}
		return existing
	}

	node := &models.Node{
		Address:        address,
		Label:          b.resolver.Resolve(address),
		FirstSeenOrder: b.nextNodeOrder(),
		FirstSeenDepth: depth,
		TotalValueIn:   big.NewInt(0),
		TotalValueOut:  big.NewInt(0),
	}
	return b.graph.AddNode(node)
}

func (b *Builder) nextNodeOrder() int {
	order := b.nodeCounter
	b.nodeCounter++
	return order
}

func (b *Builder) nextEdgeOrder() int {
	b.edgeCounter++
	return b.edgeCounter
}
