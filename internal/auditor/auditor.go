package auditor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

// Auditor 审计推理器客户端
//
// 调用 OpenAI 兼容的 chat 接口，把提案文本和图描述文本交给模型做
// 差异分析。图的结构信息只通过描述文本传入，推理器看不到图对象。
type Auditor struct {
	cfg    *config.AuditorConfig
	client *http.Client
	logger *logrus.Logger
}

// NewAuditor 创建推理器客户端
func NewAuditor(cfg *config.AuditorConfig, logger *logrus.Logger) (*Auditor, error) {
	if cfg == nil || cfg.APIURL == "" {
		return nil, errors.WrapError(fmt.Errorf("api_url 为空"),
			errors.ErrorTypeConfig, errors.SeverityCritical,
			"CONFIG_INVALID", "推理器缺少API地址配置")
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Auditor{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Audit 对提案执行审计推理
func (a *Auditor) Audit(ctx context.Context, proposal *models.Proposal, graphDescription string) (*models.AuditReport, error) {
	prompt := buildAuditPrompt(proposal, graphDescription)

	report, err := a.call(ctx, prompt)
	if err != nil {
		return nil, err
	}

	proposalID := ""
	if proposal != nil {
		proposalID = proposal.ID
	}
	a.logger.Infof("审计报告生成完成: 提案 #%s, 报告 %d 字符", proposalID, len(report))

	return &models.AuditReport{
		ProposalID:  proposalID,
		Model:       a.cfg.Model,
		Report:      report,
		PromptBytes: len(prompt),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// buildAuditPrompt 构建审计提示词
//
// 核心审计任务是比对"提案文本声称做什么"和"执行图显示实际做了
// 什么"：未披露的合约地址、未提及的价值转移、失败的调用链。
func buildAuditPrompt(proposal *models.Proposal, graphDescription string) string {
	var sb strings.Builder

	sb.WriteString("你是一位专业的智能合约安全审计专家。请对以下 DAO 提案进行审计分析。\n\n")
	sb.WriteString("## 审计任务\n\n")
	sb.WriteString("1. 冲突检测：执行轨迹图中出现的合约地址是否都在提案文本中披露。")
	sb.WriteString("以太坊预编译合约（0x1-0x9）、L2系统合约和标准代理转发属于系统级调用，不视为未披露风险。\n")
	sb.WriteString("2. 价值流分析：图中的价值转移是否与提案文本声称的金额和去向一致。\n")
	sb.WriteString("3. 失败分析：图中是否存在失败的调用链，失败是否影响提案声称的效果。\n\n")

	if proposal != nil {
		sb.WriteString("## 提案文本\n\n")
		sb.WriteString(proposal.Description)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## 执行轨迹图描述\n\n")
	sb.WriteString(graphDescription)
	sb.WriteString("\n\n请给出结构化的审计结论，明确列出每一项差异及其风险等级。")

	return sb.String()
}

// call 调用chat接口
func (a *Auditor) call(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKeyEnv != "" {
		if apiKey := os.Getenv(a.cfg.APIKeyEnv); apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "推理器API调用失败")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "读取推理器响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.WrapError(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)),
			errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "推理器API返回错误状态")
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "解析推理器响应失败")
	}
	if parsed.Error != nil {
		return "", errors.WrapError(fmt.Errorf("%s", parsed.Error.Message),
			errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "推理器返回错误")
	}
	if len(parsed.Choices) == 0 {
		return "", errors.WrapError(fmt.Errorf("choices 为空"),
			errors.ErrorTypeReasoner, errors.SeverityMedium,
			"REASONER_FAILED", "推理器响应不含结果")
	}

	return parsed.Choices[0].Message.Content, nil
}
