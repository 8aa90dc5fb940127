package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAuditError(t *testing.T) {
	err := NewAuditError(ErrorTypeRPC, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeRPC, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // RPC错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeFileIO, SeverityHigh, "WRAPPED_ERROR", "包装错误")

	assert.NotNil(t, wrappedErr)
	assert.Equal(t, ErrorTypeFileIO, wrappedErr.Type)
	assert.Equal(t, "WRAPPED_ERROR", wrappedErr.Code)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}

func TestAuditError_Error(t *testing.T) {
	// 没有原因的错误
	err := NewAuditError(ErrorTypeTrace, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	// 有原因的错误
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeTrace, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrappedErr.Error())
}

func TestMalformedTraceIsFatalAndNotRetryable(t *testing.T) {
	err := NewMalformedTraceError("缺少 trace_summary/summary 键")

	assert.True(t, err.IsFatal())
	assert.False(t, err.IsRetryable()) // 畸形轨迹重试后依然畸形
	assert.True(t, err.IsInputError())
	assert.Equal(t, "MALFORMED_TRACE", err.Code)
}

func TestIsMalformedTrace(t *testing.T) {
	err := NewMalformedTraceError("帧缺少 kind 字段")
	assert.True(t, IsMalformedTrace(err))

	// 包装后依然可识别
	wrapped := fmt.Errorf("规范化失败: %w", err)
	assert.True(t, IsMalformedTrace(wrapped))

	// 环境错误不是轨迹格式错误
	ioErr := WrapError(errors.New("permission denied"), ErrorTypeFileIO, SeverityHigh, "FILE_IO_FAILED", "文件操作失败")
	assert.False(t, IsMalformedTrace(ioErr))
}

func TestInputErrorVersusEnvironmentError(t *testing.T) {
	// 调用方需要能区分"输入数据错误"与"环境问题"
	assert.True(t, ErrMalformedTrace.IsInputError())
	assert.True(t, ErrUnresolvedCreateAddress.IsInputError())
	assert.False(t, ErrFileIOFailed.IsInputError())
	assert.False(t, ErrRPCFailed.IsInputError())
}

func TestUnresolvedCreateIsNonFatal(t *testing.T) {
	// 未解析的CREATE地址保留占位符继续运行
	assert.False(t, ErrUnresolvedCreateAddress.IsFatal())
	assert.False(t, ErrUnresolvedCreateAddress.IsRetryable())
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "MalformedTrace", ErrorTypeMalformedTrace.String())
	assert.Equal(t, "Kafka", ErrorTypeKafka.String())
	assert.Equal(t, "Unknown(99)", ErrorType(99).String())
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Low", SeverityLow.String())
}

func TestWithContext(t *testing.T) {
	err := NewMalformedTraceError("帧缺少 from 字段").
		WithContext("frame_index", 3).
		WithComponent("normalizer")

	assert.Equal(t, 3, err.Context["frame_index"])
	assert.Equal(t, "normalizer", err.Component)
}
