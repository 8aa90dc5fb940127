package graph

import (
	"math/big"
	"sort"

	"github.com/sirupsen/logrus"

	"propaudit/pkg/models"
)

// topCentralityCount 中心性规则标记的节点数量
const topCentralityCount = 3

// Extractor 图特征提取器
//
// 所有特征由固定策略从图中计算，不含随机性：度并列按首次访问
// 顺序打破，关键节点按中心性降序排列。合成根节点不参与统计。
type Extractor struct {
	logger *logrus.Logger

	// criticalValueThreshold 价值规则阈值（wei），流出价值严格超过
	// 该值的节点被标记为关键节点
	criticalValueThreshold *big.Int
}

// NewExtractor 创建特征提取器
func NewExtractor(criticalValueThreshold *big.Int, logger *logrus.Logger) *Extractor {
	if criticalValueThreshold == nil {
		criticalValueThreshold = big.NewInt(0)
	}
	return &Extractor{
		logger:                 logger,
		criticalValueThreshold: criticalValueThreshold,
	}
}

// Extract 从构建完成的图中提取特征集合
func (e *Extractor) Extract(g *models.Graph) *models.FeatureSet {
	features := &models.FeatureSet{
		BreadthByLevel:        e.breadthByLevel(g),
		Centrality:            e.centrality(g),
		TotalValueTransferred: big.NewInt(0),
	}

	for _, edge := range g.Edges {
		if edge.Depth > features.MaxDepth {
			features.MaxDepth = edge.Depth
		}
		if edge.Value != nil {
			features.TotalValueTransferred = new(big.Int).Add(features.TotalValueTransferred, edge.Value)
		}
		if edge.FailureReason != "" {
			features.FailedCallCount++
		}
	}

	features.CriticalNodes = e.criticalNodes(g, features.Centrality)

	e.logger.Infof("特征提取完成: 最大深度 %d, 中心性节点 %d 个, 关键节点 %d 个, 失败调用 %d 次",
		features.MaxDepth, len(features.Centrality), len(features.CriticalNodes), features.FailedCallCount)
	return features
}

// breadthByLevel 统计每个深度首次触达的节点数（不含合成根）
//
// 节点只计入其最小首达深度，因此各层计数之和等于节点总数减一。
func (e *Extractor) breadthByLevel(g *models.Graph) map[int]int {
	breadth := make(map[int]int)
	for _, node := range g.Nodes {
		if node.Address == models.RootAddress {
			continue
		}
		breadth[node.FirstSeenDepth]++
	}
	return breadth
}

// centrality 计算归一化度中心性（降序，并列按首次访问顺序）
//
// 度 = 入度+出度，根虚拟边计入真实节点的度。
func (e *Extractor) centrality(g *models.Graph) []models.CentralityScore {
	degrees := make(map[string]int, len(g.Nodes))
	maxDegree := 0
	for _, node := range g.Nodes {
		if node.Address == models.RootAddress {
			continue
		}
		degree := g.InDegree(node.Address) + g.OutDegree(node.Address)
		degrees[node.Address] = degree
		if degree > maxDegree {
			maxDegree = degree
		}
	}

	scores := make([]models.CentralityScore, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.Address == models.RootAddress {
			continue
		}
		degree := degrees[node.Address]
		score := 0.0
		if maxDegree > 0 {
			score = float64(degree) / float64(maxDegree)
		}
		scores = append(scores, models.CentralityScore{
			Address:        node.Address,
			Label:          node.Label,
			Degree:         degree,
			Score:          score,
			FirstSeenOrder: node.FirstSeenOrder,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Degree != scores[j].Degree {
			return scores[i].Degree > scores[j].Degree
		}
		return scores[i].FirstSeenOrder < scores[j].FirstSeenOrder
	})
	return scores
}

// criticalNodes 按三条固定规则标记关键节点
//
// 规则命中集合取并集，每个节点的 Reasons 按规则声明顺序排列，
// 结果整体按中心性降序、并列按首次访问顺序排序。
func (e *Extractor) criticalNodes(g *models.Graph, centrality []models.CentralityScore) []models.CriticalNode {
	topCentrality := make(map[string]bool)
	for i, score := range centrality {
		if i >= topCentralityCount {
			break
		}
		topCentrality[score.Address] = true
	}

	// 失败调用链上的节点：任一关联边失败即命中
	failedChain := make(map[string]bool)
	for _, edge := range g.Edges {
		if !edge.Succeeded {
			failedChain[edge.From] = true
			failedChain[edge.To] = true
		}
	}

	critical := make([]models.CriticalNode, 0)
	for _, score := range centrality {
		node := g.NodeByAddress(score.Address)
		if node == nil {
			continue
		}

		reasons := make([]string, 0, 3)
		if topCentrality[score.Address] {
			reasons = append(reasons, models.CriticalReasonTopCentrality)
		}
		exceedsThreshold := node.TotalValueOut != nil && node.TotalValueOut.Cmp(e.criticalValueThreshold) > 0
		if exceedsThreshold {
			reasons = append(reasons, models.CriticalReasonValueOut)
		}
		if failedChain[score.Address] {
			reasons = append(reasons, models.CriticalReasonFailedChain)
		}
		if len(reasons) == 0 {
			continue
		}

		entry := models.CriticalNode{
			Address: score.Address,
			Label:   score.Label,
			Score:   score.Score,
			Reasons: reasons,
		}
		if exceedsThreshold {
			entry.ValueOut = new(big.Int).Set(node.TotalValueOut)
		}
		critical = append(critical, entry)
	}

	// centrality 已按得分降序、首次访问顺序排好，直接继承其顺序
	return critical
}
