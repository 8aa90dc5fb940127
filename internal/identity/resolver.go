package identity

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"propaudit/pkg/models"
)

// 启发式标签常量（优先级固定：代理 > ERC20 > ERC721）
const (
	LabelProxy   = "Proxy"
	LabelERC20   = "ERC20-like"
	LabelERC721  = "ERC721-like"
	LabelPending = "PendingCreate"
)

// heuristicRule 选择器启发式规则
type heuristicRule struct {
	label     string
	selectors map[string]bool
}

// 启发式规则表，顺序即优先级。多个规则同时命中时取第一个命中者，
// 绝不依赖无序容器的遍历顺序随机挑选。
var heuristicRules = []heuristicRule{
	{
		label: LabelProxy,
		selectors: map[string]bool{
			"0x3659cfe6": true, // upgradeTo(address)
			"0x4f1ef286": true, // upgradeToAndCall(address,bytes)
			"0x5c60da1b": true, // implementation()
			"0x8f283970": true, // changeAdmin(address)
			"0xf851a440": true, // admin()
		},
	},
	{
		label: LabelERC20,
		selectors: map[string]bool{
			"0xa9059cbb": true, // transfer(address,uint256)
			"0x095ea7b3": true, // approve(address,uint256)
			"0x23b872dd": true, // transferFrom(address,address,uint256)
			"0x70a08231": true, // balanceOf(address)
			"0xdd62ed3e": true, // allowance(address,address)
			"0x18160ddd": true, // totalSupply()
		},
	},
	{
		label: LabelERC721,
		selectors: map[string]bool{
			"0x42842e0e": true, // safeTransferFrom(address,address,uint256)
			"0xb88d4fde": true, // safeTransferFrom(address,address,uint256,bytes)
			"0x6352211e": true, // ownerOf(uint256)
			"0x081812fc": true, // getApproved(uint256)
			"0xa22cb465": true, // setApprovalForAll(address,bool)
		},
	},
}

// DefaultKnownContracts 内置已知合约地址库（可被配置覆盖）
var DefaultKnownContracts = map[string]string{
	// Gnosis Safe 相关
	"0x3e5c63644e683549055b9be8653de26e0b4cd36e": "Gnosis Safe: Proxy Factory",
	"0xd9db270c1b5e3bd161e8c8503c55ceabee709552": "Gnosis Safe: Master Copy",
	"0xa6b71e26c5e0845f74c812102ca7114b6a896ab2": "Gnosis Safe: Proxy Factory v1.3.0",

	// Governor 合约
	"0xf07ded9dc292157749b6fd268e37df6ea38395b9": "Arbitrum Governor",
	"0xb4c064f466931b8d0f637654c916e3f203c46f13": "Arbitrum Governor (Proposer)",
	"0x408ed6354d4973f66138c91495f2f2fcbd8724c3": "Uniswap Governor",
	"0xc0da02939e1441f497fd74f78ce7decb17b66529": "Compound Governor Bravo",

	// 系统合约
	"0x0000000000000000000000000000000000000001": "Ethereum Precompile: ECRecover",
	"0x0000000000000000000000000000000000000002": "Ethereum Precompile: SHA256",
	"0x0000000000000000000000000000000000000003": "Ethereum Precompile: RIPEMD160",
	"0x0000000000000000000000000000000000000004": "Ethereum Precompile: Identity",
	"0x0000000000000000000000000000000000000005": "Ethereum Precompile: ModExp",
	"0x0000000000000000000000000000000000000064": "Arbitrum: L1 ArbSys",
	"0x0000000000000000000000000000000000000065": "Arbitrum: L2 ArbSys",
}

// Resolver 合约身份解析器
//
// 解析顺序：已知合约表精确匹配（大小写不敏感） > 选择器启发式 >
// Unknown(地址前缀) 兜底。结果按运行记忆化，同一次运行内对同一地址
// 多次解析必然返回相同标签；已知合约表是运行级注入配置而非进程全局
// 状态，并发运行使用不同表互不干扰。
type Resolver struct {
	logger *logrus.Logger
	known  map[string]string          // 已知合约表（键已小写化）
	seen   map[string]map[string]bool // 地址 -> 作为被调用方观察到的选择器集合
	memo   map[string]string          // 运行内记忆化缓存
}

// NewResolver 创建解析器
//
// known 为 nil 时使用内置地址库。
func NewResolver(known map[string]string, logger *logrus.Logger) *Resolver {
	if known == nil {
		known = DefaultKnownContracts
	}
	normalized := make(map[string]string, len(known))
	for addr, label := range known {
		normalized[strings.ToLower(addr)] = label
	}
	return &Resolver{
		logger: logger,
		known:  normalized,
		seen:   make(map[string]map[string]bool),
		memo:   make(map[string]string),
	}
}

// Observe 登记调用帧树中每个被调用地址收到的选择器
//
// 启发式匹配依赖这些观察结果，必须在解析前完成。
func (r *Resolver) Observe(frames []*models.CallFrame) {
	for _, frame := range frames {
		r.observeFrame(frame)
	}
}

func (r *Resolver) observeFrame(frame *models.CallFrame) {
	selector := frame.Selector()
	if selector != "" && frame.To != "" {
		to := strings.ToLower(frame.To)
		if r.seen[to] == nil {
			r.seen[to] = make(map[string]bool)
		}
		r.seen[to][selector] = true
	}
	for _, child := range frame.Children {
		r.observeFrame(child)
	}
}

// Resolve 解析地址标签
func (r *Resolver) Resolve(address string) string {
	addr := strings.ToLower(address)

	if label, ok := r.memo[addr]; ok {
		return label
	}

	label := r.resolve(addr)
	r.memo[addr] = label
	return label
}

func (r *Resolver) resolve(addr string) string {
	if addr == models.PendingCreateAddress {
		return LabelPending
	}

	// 1. 已知合约表精确匹配，永远优先于启发式
	if label, ok := r.known[addr]; ok {
		return label
	}

	// 2. 选择器启发式，按固定优先级取第一个命中规则。
	//    多条规则同时命中属于标签歧义，记录日志后按优先级裁决。
	selectors := r.seen[addr]
	if len(selectors) > 0 {
		matched := make([]string, 0, 2)
		for _, rule := range heuristicRules {
			for selector := range selectors {
				if rule.selectors[selector] {
					matched = append(matched, rule.label)
					break
				}
			}
		}
		if len(matched) > 1 {
			r.logger.Debugf("地址 %s 命中多个启发式标签 %v，按优先级取 %s", addr, matched, matched[0])
		}
		if len(matched) > 0 {
			return matched[0]
		}
	}

	// 3. 兜底
	return fmt.Sprintf("Unknown(%s)", addressPrefix(addr))
}

// addressPrefix 截取地址前缀用于兜底标签
func addressPrefix(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10]
}
