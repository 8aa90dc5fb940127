package models

import "math/big"

// CentralityScore 节点中心性得分
type CentralityScore struct {
	Address        string  `json:"address"`
	Label          string  `json:"label"`
	Degree         int     `json:"degree"`           // 入度+出度
	Score          float64 `json:"score"`            // 按最大度归一化后的得分
	FirstSeenOrder int     `json:"first_seen_order"` // 并列时的稳定排序键
}

// CriticalNode 被策略标记的关键节点
type CriticalNode struct {
	Address  string   `json:"address"`
	Label    string   `json:"label"`
	Score    float64  `json:"score"`               // 中心性得分
	Reasons  []string `json:"reasons"`             // 命中的策略规则（固定顺序）
	ValueOut *big.Int `json:"value_out,omitempty"` // 流出价值（命中价值规则时填写）
}

// 关键节点策略规则名称
const (
	CriticalReasonTopCentrality = "top_centrality" // 中心性前3
	CriticalReasonValueOut      = "value_out"      // 流出价值超过阈值
	CriticalReasonFailedChain   = "failed_chain"   // 涉及失败的调用链
)

// FeatureSet 图的结构化特征集合
//
// 所有字段均由确定性策略计算得出，同一张图的两次提取结果完全一致。
type FeatureSet struct {
	MaxDepth              int               `json:"max_depth"`               // 最大边深度
	BreadthByLevel        map[int]int       `json:"breadth_by_level"`        // 深度 -> 首次在该深度触达的节点数
	Centrality            []CentralityScore `json:"centrality"`              // 归一化度中心性（降序）
	CriticalNodes         []CriticalNode    `json:"critical_nodes"`          // 关键节点（中心性降序，并列按首次访问顺序）
	TotalValueTransferred *big.Int          `json:"total_value_transferred"` // 全图价值转移总量（wei）
	FailedCallCount       int               `json:"failed_call_count"`       // 自身携带error的调用数
}

// CentralityOf 按地址查找中心性得分，未找到时返回0
func (fs *FeatureSet) CentralityOf(address string) float64 {
	for _, score := range fs.Centrality {
		if score.Address == address {
			return score.Score
		}
	}
	return 0
}

// IsCritical 判断地址是否被标记为关键节点
func (fs *FeatureSet) IsCritical(address string) bool {
	for _, node := range fs.CriticalNodes {
		if node.Address == address {
			return true
		}
	}
	return false
}
