package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 轨迹内容错误（输入数据问题）
	ErrorTypeTrace ErrorType = iota
	ErrorTypeMalformedTrace
	ErrorTypeUnresolvedCreate
	ErrorTypeIdentity

	// 环境错误（与输入内容无关）
	ErrorTypeFileIO
	ErrorTypeConfig
	ErrorTypeNetwork
	ErrorTypeRPC
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 外部服务错误
	ErrorTypeExternalAPI
	ErrorTypeFourByte
	ErrorTypeKafka
	ErrorTypeReasoner

	// 内部一致性错误（构建结果校验）
	ErrorTypeValidation
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AuditError 自定义错误类型
//
// 区分"输入数据错误"与"环境错误"两大类：前者重试不会恢复（轨迹不会
// 因为重试变得合法），后者可按 Retryable 标记交给重试层处理。
type AuditError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *AuditError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *AuditError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal 判断是否为致命错误（中止整个审计运行）
func (e *AuditError) IsFatal() bool {
	return e.Severity >= SeverityHigh
}

// IsInputError 判断是否为输入数据错误（区别于环境错误）
func (e *AuditError) IsInputError() bool {
	switch e.Type {
	case ErrorTypeTrace, ErrorTypeMalformedTrace, ErrorTypeUnresolvedCreate, ErrorTypeIdentity:
		return true
	default:
		return false
	}
}

// WithContext 添加上下文信息
func (e *AuditError) WithContext(key string, value interface{}) *AuditError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 标记来源组件
func (e *AuditError) WithComponent(component string) *AuditError {
	e.Component = component
	return e
}

// NewAuditError 创建新的错误
func NewAuditError(errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	return &AuditError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	return &AuditError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
//
// 轨迹内容错误一律不可重试：畸形的轨迹文档重试后依然畸形。
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRPC, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeExternalAPI, ErrorTypeFourByte, ErrorTypeKafka, ErrorTypeReasoner:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	// 轨迹内容错误
	ErrMalformedTrace = NewAuditError(
		ErrorTypeMalformedTrace,
		SeverityCritical,
		"MALFORMED_TRACE",
		"轨迹文档格式非法",
	)

	ErrUnresolvedCreateAddress = NewAuditError(
		ErrorTypeUnresolvedCreate,
		SeverityLow,
		"UNRESOLVED_CREATE_ADDRESS",
		"CREATE帧的部署地址未解析",
	)

	ErrIdentityAmbiguity = NewAuditError(
		ErrorTypeIdentity,
		SeverityLow,
		"IDENTITY_AMBIGUITY",
		"多个启发式规则对同一地址给出冲突标签",
	)

	// 环境错误
	ErrFileIOFailed = NewAuditError(
		ErrorTypeFileIO,
		SeverityHigh,
		"FILE_IO_FAILED",
		"文件操作失败",
	)

	ErrConfigInvalid = NewAuditError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrRPCFailed = NewAuditError(
		ErrorTypeRPC,
		SeverityHigh,
		"RPC_FAILED",
		"节点RPC调用失败",
	)

	// 外部服务错误
	ErrFourByteAPIFailed = NewAuditError(
		ErrorTypeFourByte,
		SeverityLow,
		"FOURBYTE_API_FAILED",
		"4byte.directory API调用失败",
	)

	ErrKafkaProduceFailed = NewAuditError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)

	ErrReasonerFailed = NewAuditError(
		ErrorTypeReasoner,
		SeverityMedium,
		"REASONER_FAILED",
		"审计推理器调用失败",
	)
)

// NewMalformedTraceError 创建轨迹格式错误（携带具体原因）
func NewMalformedTraceError(message string) *AuditError {
	return NewAuditError(ErrorTypeMalformedTrace, SeverityCritical, "MALFORMED_TRACE", message)
}

// IsMalformedTrace 判断错误链中是否包含轨迹格式错误
func IsMalformedTrace(err error) bool {
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Type == ErrorTypeMalformedTrace
	}
	return false
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeTrace:            "Trace",
	ErrorTypeMalformedTrace:   "MalformedTrace",
	ErrorTypeUnresolvedCreate: "UnresolvedCreate",
	ErrorTypeIdentity:         "Identity",
	ErrorTypeFileIO:           "FileIO",
	ErrorTypeConfig:           "Config",
	ErrorTypeNetwork:          "Network",
	ErrorTypeRPC:              "RPC",
	ErrorTypeTimeout:          "Timeout",
	ErrorTypeRateLimit:        "RateLimit",
	ErrorTypeExternalAPI:      "ExternalAPI",
	ErrorTypeFourByte:         "FourByte",
	ErrorTypeKafka:            "Kafka",
	ErrorTypeReasoner:         "Reasoner",
	ErrorTypeValidation:       "Validation",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}
