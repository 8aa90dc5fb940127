package models

import (
	"math/big"
	"strings"
)

// RootAddress 合成根节点地址（代表提案本身）
const RootAddress = "proposal"

// RootLabel 合成根节点标签
const RootLabel = "Proposal Root"

// EdgeKindRoot 合成根节点到顶层调用方的虚拟边类型
const EdgeKindRoot = "PROPOSAL"

// Node 图节点（每个出现过的地址对应唯一一个节点）
type Node struct {
	Address        string   `json:"address"`          // 规范化小写地址
	Label          string   `json:"label"`            // 识别出的合约名称，未知时为 Unknown(前缀)
	FirstSeenOrder int      `json:"first_seen_order"` // 首次访问时分配的单调计数（确定性排序键）
	FirstSeenDepth int      `json:"first_seen_depth"` // 首次触达时的边深度（最短交互距离）
	TotalValueIn   *big.Int `json:"total_value_in"`   // 入边价值总和
	TotalValueOut  *big.Int `json:"total_value_out"`  // 出边价值总和
	IsRoot         bool     `json:"is_root"`          // 是否为提案直接指定的目标地址
}

// Edge 图的有向边（每个调用帧对应一条边，方向为调用方 -> 被调用方）
type Edge struct {
	From      string   `json:"from"`               // 调用方地址
	To        string   `json:"to"`                 // 被调用方地址
	Kind      string   `json:"kind"`               // 调用类型
	Selector  string   `json:"selector,omitempty"` // 函数选择器（4字节），无输入数据时为空
	Value     *big.Int `json:"value"`              // 转移的以太币（wei）
	Depth     int      `json:"depth"`              // 距合成根的距离（根的虚拟边深度为1）
	Order     int      `json:"order"`              // 前序遍历分配的全局序号（可用于回放调试）
	Succeeded bool     `json:"succeeded"`          // 调用是否成功（自身或祖先revert时为false）

	// FailureReason 本帧自身的错误信息，仅因祖先revert失效时为空。
	// 失败调用计数只统计该字段非空的边。
	FailureReason string `json:"failure_reason,omitempty"`
}

// Graph 提案执行轨迹的有向多重图
//
// 节点和边均按创建顺序保存在切片中，保证遍历顺序确定；
// 同一对节点之间允许存在多条平行边（同一合约可被多次调用）。
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`

	// Warnings 构建过程中发现的非致命异常（未解析的CREATE地址、
	// 携带非零value的STATICCALL等），会体现在描述文本中
	Warnings []string `json:"warnings,omitempty"`

	index map[string]*Node // 地址 -> 节点索引（序列化后由 RebuildIndex 重建）
}

// NewGraph 创建空图
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]*Node, 0),
		Edges: make([]*Edge, 0),
		index: make(map[string]*Node),
	}
}

// NodeByAddress 按地址查找节点（大小写不敏感）
func (g *Graph) NodeByAddress(address string) *Node {
	if g.index == nil {
		g.RebuildIndex()
	}
	return g.index[strings.ToLower(address)]
}

// AddNode 添加节点并登记索引
//
// 地址已存在时返回已有节点，保证节点唯一性。
func (g *Graph) AddNode(node *Node) *Node {
	if g.index == nil {
		g.RebuildIndex()
	}
	if existing, ok := g.index[node.Address]; ok {
		return existing
	}
	g.Nodes = append(g.Nodes, node)
	g.index[node.Address] = node
	return node
}

// AddEdge 添加边
func (g *Graph) AddEdge(edge *Edge) {
	g.Edges = append(g.Edges, edge)
}

// RebuildIndex 重建地址索引（JSON 反序列化后调用）
func (g *Graph) RebuildIndex() {
	g.index = make(map[string]*Node, len(g.Nodes))
	for _, node := range g.Nodes {
		g.index[node.Address] = node
	}
}

// Root 返回合成根节点
func (g *Graph) Root() *Node {
	return g.NodeByAddress(RootAddress)
}

// RootTargets 返回提案直接指定的目标节点（按首次访问顺序）
func (g *Graph) RootTargets() []*Node {
	targets := make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.IsRoot {
			targets = append(targets, node)
		}
	}
	return targets
}

// InDegree 统计节点入度（含平行边）
func (g *Graph) InDegree(address string) int {
	count := 0
	for _, edge := range g.Edges {
		if edge.To == address {
			count++
		}
	}
	return count
}

// OutDegree 统计节点出度（含平行边）
func (g *Graph) OutDegree(address string) int {
	count := 0
	for _, edge := range g.Edges {
		if edge.From == address {
			count++
		}
	}
	return count
}

// EdgesBetween 返回指定节点对之间的所有平行边（按 order 顺序）
func (g *Graph) EdgesBetween(from, to string) []*Edge {
	edges := make([]*Edge, 0)
	for _, edge := range g.Edges {
		if edge.From == from && edge.To == to {
			edges = append(edges, edge)
		}
	}
	return edges
}
