package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"propaudit/internal/connection"
	"propaudit/internal/errors"
	"propaudit/internal/retry"
)

// traceReport 轨迹报告线上格式（replay模式，顶层键 trace_summary）
type traceReport struct {
	TraceSummary traceSummary `json:"trace_summary"`
}

type traceSummary struct {
	TransactionHash string            `json:"transaction_hash,omitempty"`
	Calls           []json.RawMessage `json:"calls"`
}

// Simulator 提案执行回放器
//
// 通过 debug_traceTransaction + callTracer 回放提案执行交易，
// 把调用帧树原样写成轨迹报告文档，下游流水线从文件读取。
// 这里不解析帧内容，格式校验是规范化器的职责。
type Simulator struct {
	pool   *connection.Pool
	logger *logrus.Logger
}

// NewSimulator 创建回放器
func NewSimulator(pool *connection.Pool, logger *logrus.Logger) *Simulator {
	return &Simulator{
		pool:   pool,
		logger: logger,
	}
}

// ReplayTransaction 回放单笔交易，返回 callTracer 的原始调用帧
func (s *Simulator) ReplayTransaction(ctx context.Context, txHash string) (json.RawMessage, error) {
	var result json.RawMessage
	err := retry.RetryRPCOperation(ctx, "debug_traceTransaction", func() error {
		client, nodeName, err := s.pool.Client()
		if err != nil {
			return err
		}

		callErr := client.Client().CallContext(ctx, &result, "debug_traceTransaction", txHash, map[string]interface{}{
			"tracer": "callTracer",
			"tracerConfig": map[string]interface{}{
				"onlyTopCall": false,
				"withLog":     false,
			},
		})
		if callErr != nil {
			// 失败节点移出轮转，重试时切换到后备节点
			s.pool.MarkUnavailable(nodeName)
			s.logger.Warnf("节点 %s 交易追踪失败 %s，已标记为不可用: %v", nodeName, txHash, callErr)
			return errors.WrapError(callErr, errors.ErrorTypeRPC, errors.SeverityHigh,
				"RPC_FAILED", fmt.Sprintf("debug_traceTransaction %s 失败", txHash))
		}
		return nil
	}, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("交易 %s 回放完成，轨迹 %d 字节", txHash, len(result))
	return result, nil
}

// WriteTraceReport 回放交易并写出轨迹报告文档
func (s *Simulator) WriteTraceReport(ctx context.Context, txHash, outputPath string) error {
	frame, err := s.ReplayTransaction(ctx, txHash)
	if err != nil {
		return err
	}

	report := traceReport{
		TraceSummary: traceSummary{
			TransactionHash: txHash,
			Calls:           []json.RawMessage{frame},
		},
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", "序列化轨迹报告失败")
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
				"FILE_IO_FAILED", fmt.Sprintf("创建轨迹输出目录失败: %s", dir))
		}
	}
	if err := os.WriteFile(outputPath, append(data, '\n'), 0644); err != nil {
		return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("写入轨迹报告失败: %s", outputPath))
	}

	s.logger.Infof("轨迹报告已写入: %s", outputPath)
	return nil
}
