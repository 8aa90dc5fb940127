package models

import "time"

// AuditReport 审计推理器产出的报告
type AuditReport struct {
	ProposalID  string    `json:"proposal_id"`
	Model       string    `json:"model"`        // 使用的推理模型标识
	Report      string    `json:"report"`       // 报告正文（自然语言）
	PromptBytes int       `json:"prompt_bytes"` // 提示词长度（调试用）
	CreatedAt   time.Time `json:"created_at"`
}

// RunStatus 审计运行状态
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord 一次审计运行的持久化记录
type RunRecord struct {
	RunID           string    `json:"run_id"`
	ProposalID      string    `json:"proposal_id,omitempty"`
	TracePath       string    `json:"trace_path"`       // 输入轨迹文档路径
	GraphPath       string    `json:"graph_path"`       // 图对象输出路径
	DescriptionPath string    `json:"description_path"` // 描述文本输出路径
	NodeCount       int       `json:"node_count"`
	EdgeCount       int       `json:"edge_count"`
	MaxDepth        int       `json:"max_depth"`
	FailedCallCount int       `json:"failed_call_count"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}
