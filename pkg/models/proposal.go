package models

import (
	"math/big"
	"strings"
	"time"
)

// Proposal DAO 治理提案数据模型
type Proposal struct {
	ID          string     `json:"id"`          // 提案ID（十进制字符串，避免精度丢失）
	Title       string     `json:"title"`       // 标题（描述文本第一行）
	Description string     `json:"description"` // 完整描述文本
	Proposer    string     `json:"proposer"`    // 提案人地址
	Targets     []string   `json:"targets"`     // 目标合约地址数组
	Values      []*big.Int `json:"values"`      // ETH 转账金额数组（wei）
	Calldatas   []string   `json:"calldatas"`   // 调用数据数组（十六进制字符串）
	StartBlock  uint64     `json:"start_block"` // 投票起始区块
	EndBlock    uint64     `json:"end_block"`   // 投票结束区块
	BlockNumber uint64     `json:"block_number"`
	Timestamp   time.Time  `json:"timestamp"`
}

// IsExecutable 判断是否为可执行提案（硬规则）
//
// 满足任一条件即为可执行提案：targets 非空、values 含非零值、
// calldatas 含非空字节流。否则视为社交提案，不进入审计流程。
func (p *Proposal) IsExecutable() bool {
	if len(p.Targets) > 0 {
		return true
	}
	for _, v := range p.Values {
		if v != nil && v.Sign() > 0 {
			return true
		}
	}
	for _, cd := range p.Calldatas {
		trimmed := strings.TrimPrefix(cd, "0x")
		if trimmed != "" {
			return true
		}
	}
	return false
}

// ExtractTitle 从描述文本提取标题（第一行，超长截断）
func ExtractTitle(description string) string {
	title := description
	if idx := strings.IndexByte(description, '\n'); idx >= 0 {
		title = description[:idx]
	}
	title = strings.TrimSpace(title)
	if len(title) > 100 {
		title = title[:100] + "..."
	}
	return title
}
