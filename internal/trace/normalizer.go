package trace

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

// 轨迹文档的两种线上格式顶层键
const (
	keyReplayMode   = "trace_summary" // replay_transaction 模式产出
	keySimulateMode = "summary"       // simulate_proposal 模式产出
)

// rawDocument 轨迹文档顶层结构（按键自动检测格式）
type rawDocument struct {
	TraceSummary *rawSummary `json:"trace_summary"`
	Summary      *rawSummary `json:"summary"`
}

// rawSummary 顶层键下的调用树容器
type rawSummary struct {
	Calls []*rawFrame `json:"calls"`
}

// rawFrame callTracer 风格的原始调用帧
//
// value/gasUsed 兼容十六进制字符串和JSON数字两种写法，
// 不同模拟器版本的输出在这里统一。
type rawFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Value   json.RawMessage `json:"value"`
	Input   string          `json:"input"`
	Output  string          `json:"output"`
	Error   string          `json:"error"`
	GasUsed json.RawMessage `json:"gasUsed"`
	Calls   []*rawFrame     `json:"calls"`
}

// Normalizer 轨迹规范化器
//
// 纯转换组件：检测线上格式、校验必填字段、产出规范调用帧树。
// 兄弟帧顺序原样保留：顺序即实际调用序，下游的 order 编号依赖它。
type Normalizer struct {
	logger *logrus.Logger
}

// NewNormalizer 创建规范化器
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// NormalizeFile 读取轨迹文档文件并规范化
//
// 文件读取失败属于环境错误，与轨迹内容错误分开上报。
func (n *Normalizer) NormalizeFile(path string) ([]*models.CallFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("读取轨迹文档失败: %s", path))
	}
	return n.Normalize(data)
}

// Normalize 将原始轨迹文档转换为规范调用帧树
func (n *Normalizer) Normalize(data []byte) ([]*models.CallFrame, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeMalformedTrace, errors.SeverityCritical,
			"MALFORMED_TRACE", "轨迹文档不是合法的JSON")
	}

	// 格式检测：优先 trace_summary（replay模式），其次 summary（simulate模式）
	var summary *rawSummary
	switch {
	case doc.TraceSummary != nil:
		summary = doc.TraceSummary
	case doc.Summary != nil:
		summary = doc.Summary
		n.logger.Debug("使用 summary 键（simulate_proposal 格式）")
	default:
		return nil, errors.NewMalformedTraceError(
			"轨迹文档缺少 trace_summary/summary 顶层键").WithComponent("normalizer")
	}

	frames := make([]*models.CallFrame, 0, len(summary.Calls))
	for i, raw := range summary.Calls {
		frame, err := n.normalizeFrame(raw, fmt.Sprintf("calls[%d]", i))
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	totalFrames := 0
	for _, frame := range frames {
		totalFrames += frame.FrameCount()
	}
	n.logger.Infof("轨迹规范化完成: %d 个顶层调用帧, 共 %d 个调用帧", len(frames), totalFrames)
	return frames, nil
}

// normalizeFrame 递归规范化单个调用帧
func (n *Normalizer) normalizeFrame(raw *rawFrame, path string) (*models.CallFrame, error) {
	if raw == nil {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: 调用帧为空", path)).WithComponent("normalizer")
	}

	// 必填字段校验在规范化阶段完成，不推迟到首次使用
	kind := strings.ToUpper(strings.TrimSpace(raw.Type))
	if kind == "" {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: 调用帧缺少 type 字段", path)).WithComponent("normalizer")
	}
	if !models.IsValidFrameKind(kind) {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: 不支持的调用类型 %q", path, raw.Type)).WithComponent("normalizer")
	}
	if strings.TrimSpace(raw.From) == "" {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: 调用帧缺少 from 字段", path)).WithComponent("normalizer")
	}
	// to 只允许在 CREATE 系帧中缺失（部署地址未回填），其余类型缺失
	// 说明轨迹被截断或构造错误
	if strings.TrimSpace(raw.To) == "" &&
		kind != models.FrameKindCreate && kind != models.FrameKindCreate2 {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: %s 帧缺少 to 字段", path, kind)).WithComponent("normalizer")
	}

	value, err := parseQuantity(raw.Value)
	if err != nil {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: value 字段非法: %v", path, err)).WithComponent("normalizer")
	}

	gasUsed, err := parseQuantity(raw.GasUsed)
	if err != nil {
		return nil, errors.NewMalformedTraceError(
			fmt.Sprintf("%s: gasUsed 字段非法: %v", path, err)).WithComponent("normalizer")
	}

	frame := &models.CallFrame{
		Kind:    kind,
		From:    strings.ToLower(raw.From),
		To:      strings.ToLower(raw.To),
		Value:   value,
		Input:   strings.ToLower(raw.Input),
		Output:  raw.Output,
		Error:   raw.Error,
		GasUsed: gasUsed.Uint64(),
	}

	// CREATE/CREATE2 在收据返回部署地址前 to 为空，使用占位地址标记，
	// 运行继续完成（非致命），描述文本中会给出提示
	if frame.IsCreate() && frame.To == "" {
		frame.To = models.PendingCreateAddress
		n.logger.Warnf("%s: %s 帧缺少部署地址，使用占位地址", path, frame.Kind)
	}

	for i, rawChild := range raw.Calls {
		child, err := n.normalizeFrame(rawChild, fmt.Sprintf("%s.calls[%d]", path, i))
		if err != nil {
			return nil, err
		}
		frame.Children = append(frame.Children, child)
	}

	return frame, nil
}

// parseQuantity 解析数量字段（兼容 "0x..." 十六进制字符串、十进制字符串和JSON数字）
func parseQuantity(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return big.NewInt(0), nil
	}

	// 字符串形式
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "0x" {
			return big.NewInt(0), nil
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			v, ok := new(big.Int).SetString(s[2:], 16)
			if !ok {
				return nil, fmt.Errorf("非法的十六进制数量: %q", s)
			}
			return v, nil
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("非法的十进制数量: %q", s)
		}
		return v, nil
	}

	// JSON数字形式
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		v, ok := new(big.Int).SetString(num.String(), 10)
		if !ok {
			return nil, fmt.Errorf("非法的数量: %q", num.String())
		}
		return v, nil
	}

	return nil, fmt.Errorf("无法解析的数量字段: %s", string(raw))
}
