package models

import (
	"math/big"
	"strings"
)

// 调用帧类型常量
const (
	FrameKindCall         = "CALL"
	FrameKindDelegateCall = "DELEGATECALL"
	FrameKindStaticCall   = "STATICCALL"
	FrameKindCallCode     = "CALLCODE"
	FrameKindCreate       = "CREATE"
	FrameKindCreate2      = "CREATE2"
	FrameKindSelfDestruct = "SELFDESTRUCT"
)

// PendingCreateAddress CREATE/CREATE2 帧部署地址未知时使用的占位地址
const PendingCreateAddress = "<pending-create>"

// validFrameKinds 支持的调用帧类型集合
var validFrameKinds = map[string]bool{
	FrameKindCall:         true,
	FrameKindDelegateCall: true,
	FrameKindStaticCall:   true,
	FrameKindCallCode:     true,
	FrameKindCreate:       true,
	FrameKindCreate2:      true,
	FrameKindSelfDestruct: true,
}

// IsValidFrameKind 判断是否为支持的调用帧类型
func IsValidFrameKind(kind string) bool {
	return validFrameKinds[strings.ToUpper(kind)]
}

// CallFrame 规范化后的调用帧（执行轨迹树的一个节点）
//
// 子帧严格嵌套在父帧的执行过程内部，兄弟帧的顺序即实际调用顺序，
// 后续的图构建依赖该顺序生成确定性的 order 编号。
type CallFrame struct {
	Kind     string       `json:"kind"`               // 调用类型: CALL/DELEGATECALL/STATICCALL/CREATE/...
	From     string       `json:"from"`               // 调用方地址（小写）
	To       string       `json:"to"`                 // 被调用方地址（小写；CREATE 未解析时为占位地址）
	Value    *big.Int     `json:"value"`              // 转移的以太币（wei）
	Input    string       `json:"input"`              // 输入数据（十六进制字符串）
	Output   string       `json:"output,omitempty"`   // 输出数据
	Error    string       `json:"error,omitempty"`    // 失败原因（为空表示成功）
	GasUsed  uint64       `json:"gas_used"`           // 实际Gas使用量
	Children []*CallFrame `json:"children,omitempty"` // 子调用帧（按调用顺序排列）
}

// Selector 提取函数选择器（input 前4字节）
//
// input 长度不足4字节时返回空字符串。
func (f *CallFrame) Selector() string {
	input := strings.TrimPrefix(f.Input, "0x")
	if len(input) < 8 {
		return ""
	}
	return "0x" + strings.ToLower(input[:8])
}

// IsCreate 判断是否为合约创建帧
func (f *CallFrame) IsCreate() bool {
	return f.Kind == FrameKindCreate || f.Kind == FrameKindCreate2
}

// HasPendingCreate 判断是否为部署地址未解析的创建帧
func (f *CallFrame) HasPendingCreate() bool {
	return f.IsCreate() && f.To == PendingCreateAddress
}

// FrameCount 统计以该帧为根的子树包含的帧数量
func (f *CallFrame) FrameCount() int {
	count := 1
	for _, child := range f.Children {
		count += child.FrameCount()
	}
	return count
}
