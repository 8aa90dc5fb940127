package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

// Validator 图一致性验证器
//
// 对构建完成的执行图做结构校验。校验失败说明构建器有缺陷而不是
// 输入有问题，此时宁可中止运行也不输出不一致的产物。
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为失败
	rules      []ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(graph *models.Graph) error
	Name() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*errors.AuditError `json:"errors,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// NewValidator 创建图验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
	}

	v.AddRule(&rootNodeRule{})
	v.AddRule(&nodeUniquenessRule{})
	v.AddRule(&edgeOrderRule{})
	v.AddRule(&edgeDepthRule{})
	v.AddRule(&failureConsistencyRule{})
	v.AddRule(&addressFormatRule{})

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateGraph 验证执行图结构
func (v *Validator) ValidateGraph(graph *models.Graph) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]*errors.AuditError, 0),
		Warnings: make([]string, 0),
	}

	if graph == nil {
		result.Valid = false
		result.Errors = append(result.Errors,
			errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityCritical,
				"NIL_GRAPH", "图为空"))
		return result
	}

	for _, rule := range v.rules {
		if err := rule.Validate(graph); err != nil {
			result.Valid = false
			if auditErr, ok := err.(*errors.AuditError); ok {
				result.Errors = append(result.Errors, auditErr)
			} else {
				result.Errors = append(result.Errors, errors.WrapError(err,
					errors.ErrorTypeValidation, errors.SeverityHigh,
					"GRAPH_RULE_FAILED", fmt.Sprintf("规则 %s 验证失败", rule.Name())))
			}
		}
	}

	if v.strictMode && len(graph.Warnings) > 0 {
		result.Valid = false
		result.Warnings = append(result.Warnings, graph.Warnings...)
	}

	return result
}

// rootNodeRule 合成根节点规则
type rootNodeRule struct{}

func (r *rootNodeRule) Name() string { return "root_node" }

func (r *rootNodeRule) Validate(graph *models.Graph) error {
	root := graph.Root()
	if root == nil {
		return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityCritical,
			"MISSING_ROOT", "缺少合成根节点")
	}
	if root.FirstSeenOrder != 0 || root.FirstSeenDepth != 0 {
		return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"ROOT_POSITION", "合成根节点的序号和深度必须为0")
	}
	for _, edge := range graph.Edges {
		if edge.From == models.RootAddress && edge.Kind != models.EdgeKindRoot {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"ROOT_EDGE_KIND", fmt.Sprintf("根节点出边类型异常: %s", edge.Kind))
		}
		if edge.To == models.RootAddress {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"ROOT_IN_EDGE", "合成根节点不允许有入边")
		}
	}
	return nil
}

// nodeUniquenessRule 节点地址唯一性规则
type nodeUniquenessRule struct{}

func (r *nodeUniquenessRule) Name() string { return "node_uniqueness" }

func (r *nodeUniquenessRule) Validate(graph *models.Graph) error {
	seen := make(map[string]bool, len(graph.Nodes))
	for _, node := range graph.Nodes {
		if seen[node.Address] {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityCritical,
				"DUPLICATE_NODE", fmt.Sprintf("地址 %s 存在重复节点", node.Address))
		}
		seen[node.Address] = true
	}
	return nil
}

// edgeOrderRule 边序号规则
//
// 前序遍历分配的全局序号必须从1开始严格递增且无空洞，
// 否则回放调试时无法按 order 还原访问顺序。
type edgeOrderRule struct{}

func (r *edgeOrderRule) Name() string { return "edge_order" }

func (r *edgeOrderRule) Validate(graph *models.Graph) error {
	for i, edge := range graph.Edges {
		if edge.Order != i+1 {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityCritical,
				"EDGE_ORDER_GAP", fmt.Sprintf("第%d条边的序号为%d，期望%d", i, edge.Order, i+1))
		}
	}
	return nil
}

// edgeDepthRule 边深度规则
type edgeDepthRule struct{}

func (r *edgeDepthRule) Name() string { return "edge_depth" }

func (r *edgeDepthRule) Validate(graph *models.Graph) error {
	for _, edge := range graph.Edges {
		if edge.Depth < 1 {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"EDGE_DEPTH_INVALID", fmt.Sprintf("边 %d 的深度为 %d", edge.Order, edge.Depth))
		}
		if edge.Kind == models.EdgeKindRoot && edge.Depth != 1 {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"ROOT_EDGE_DEPTH", "根节点出边的深度必须为1")
		}
	}
	for _, node := range graph.Nodes {
		if node.Address == models.RootAddress {
			continue
		}
		if node.FirstSeenDepth < 1 {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"NODE_DEPTH_INVALID", fmt.Sprintf("节点 %s 的首见深度为 %d", node.Address, node.FirstSeenDepth))
		}
	}
	return nil
}

// failureConsistencyRule 失败标记一致性规则
type failureConsistencyRule struct{}

func (r *failureConsistencyRule) Name() string { return "failure_consistency" }

func (r *failureConsistencyRule) Validate(graph *models.Graph) error {
	for _, edge := range graph.Edges {
		if edge.FailureReason != "" && edge.Succeeded {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"FAILURE_MARK_CONFLICT",
				fmt.Sprintf("边 %d 携带错误信息但被标记为成功", edge.Order))
		}
	}
	return nil
}

// addressFormatRule 地址格式规则
type addressFormatRule struct{}

func (r *addressFormatRule) Name() string { return "address_format" }

var addressRegex = regexp.MustCompile("^0x[0-9a-f]{40}$")

func (r *addressFormatRule) Validate(graph *models.Graph) error {
	for _, node := range graph.Nodes {
		if !isValidNodeAddress(node.Address) {
			return errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_NODE_ADDRESS", fmt.Sprintf("节点地址格式无效: %s", node.Address))
		}
	}
	return nil
}

// isValidNodeAddress 验证节点地址格式
//
// 合法形态只有三种：规范化小写地址、合成根地址、CREATE占位地址。
func isValidNodeAddress(addr string) bool {
	if addr == models.RootAddress || addr == models.PendingCreateAddress {
		return true
	}
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return addressRegex.MatchString(addr)
}
