package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
)

// commonSignatures 常见函数选择器表（API不可用时的兜底）
var commonSignatures = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x3659cfe6": "upgradeTo(address)",
	"0x4f1ef286": "upgradeToAndCall(address,bytes)",
	"0x5c60da1b": "implementation()",
	"0x6a761202": "execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)",
	"0xda95691a": "propose(address[],uint256[],string[],bytes[],string)",
	"0xfe0d94c1": "execute(uint256)",
	"0x56781388": "castVote(uint256,uint8)",
	"0x5c19a95c": "delegate(address)",
}

// FourByteResponse 4byte.directory API响应
type FourByteResponse struct {
	Count   int `json:"count"`
	Results []struct {
		TextSignature string `json:"text_signature"`
		HexSignature  string `json:"hex_signature"`
	} `json:"results"`
}

// SignatureResolver 函数选择器 -> 文本签名解析器
//
// 查找顺序：运行内缓存 > 内置常见签名表 > 4byte.directory API。
// API失败只降级不报错，选择器本身会原样出现在描述文本中。
type SignatureResolver struct {
	logger *logrus.Logger
	config *config.DecoderConfig
	cache  map[string]string
	client *http.Client
}

// NewSignatureResolver 创建签名解析器
func NewSignatureResolver(cfg *config.DecoderConfig, logger *logrus.Logger) *SignatureResolver {
	if cfg == nil {
		cfg = config.DefaultDecoderConfig()
	}

	timeout, err := time.ParseDuration(cfg.APITimeout)
	if err != nil {
		timeout = 5 * time.Second
		logger.Warnf("解析API超时时间失败，使用默认值5s: %v", err)
	}

	return &SignatureResolver{
		logger: logger,
		config: cfg,
		cache:  make(map[string]string),
		client: &http.Client{Timeout: timeout},
	}
}

// ResolveSignature 解析选择器对应的函数签名
//
// 无法解析时返回选择器本身，保证描述文本永远有内容可写。
func (s *SignatureResolver) ResolveSignature(selector string) string {
	selector = strings.ToLower(selector)
	if selector == "" || selector == "0x" || len(selector) < 10 {
		return selector
	}
	selector = selector[:10]

	if s.config.EnableCache {
		if name, ok := s.cache[selector]; ok {
			return name
		}
	}

	if name, ok := commonSignatures[selector]; ok {
		s.store(selector, name)
		return name
	}

	if s.config.EnableAPI {
		if name := s.fetchFromFourByteDirectory(selector); name != "" {
			s.store(selector, name)
			return name
		}
	}

	return selector
}

// FunctionName 从文本签名提取函数名（签名格式：name(...)）
func FunctionName(signature string) string {
	if idx := strings.IndexByte(signature, '('); idx >= 0 {
		return signature[:idx]
	}
	return signature
}

// store 写入缓存（超限时整体清空，一次运行内的选择器集合很小）
func (s *SignatureResolver) store(selector, name string) {
	if !s.config.EnableCache {
		return
	}
	if s.config.CacheSize > 0 && len(s.cache) >= s.config.CacheSize {
		s.cache = make(map[string]string)
	}
	s.cache[selector] = name
}

// fetchFromFourByteDirectory 从4byte.directory API获取函数签名
func (s *SignatureResolver) fetchFromFourByteDirectory(selector string) string {
	url := fmt.Sprintf("%s?hex_signature=%s", s.config.FourByteAPIURL, selector)

	resp, err := s.client.Get(url)
	if err != nil {
		s.logger.Debugf("4byte.directory API调用失败: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debugf("4byte.directory API返回错误状态: %d", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Debugf("读取4byte.directory响应失败: %v", err)
		return ""
	}

	var response FourByteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		s.logger.Debugf("解析4byte.directory响应失败: %v", err)
		return ""
	}

	if len(response.Results) > 0 {
		return response.Results[0].TextSignature
	}
	return ""
}
