package collector

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/connection"
	"propaudit/internal/errors"
	"propaudit/internal/output"
	"propaudit/internal/retry"
	"propaudit/internal/runstore"
	"propaudit/pkg/models"
)

// governorBravoABI Compound Governor Bravo ABI（只保留采集所需的部分）
const governorBravoABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "id", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "proposer", "type": "address"},
			{"indexed": false, "internalType": "address[]", "name": "targets", "type": "address[]"},
			{"indexed": false, "internalType": "uint256[]", "name": "values", "type": "uint256[]"},
			{"indexed": false, "internalType": "string[]", "name": "signatures", "type": "string[]"},
			{"indexed": false, "internalType": "bytes[]", "name": "calldatas", "type": "bytes[]"},
			{"indexed": false, "internalType": "uint256", "name": "startBlock", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "endBlock", "type": "uint256"},
			{"indexed": false, "internalType": "string", "name": "description", "type": "string"}
		],
		"name": "ProposalCreated",
		"type": "event"
	}
]`

// DefaultBatchSize eth_getLogs 单次查询的区块窗口（免费版RPC限制）
const DefaultBatchSize = uint64(10)

// Collector 治理提案采集器
//
// 扫描 Governor 合约的 ProposalCreated 事件，按硬规则过滤出可执行
// 提案。区块检查点落在运行记录库中，重启后从断点续扫。
type Collector struct {
	pool      *connection.Pool
	cfg       *config.CollectorConfig
	store     *runstore.Store
	outputter output.Output
	retrier   *retry.Retrier
	logger    *logrus.Logger

	governorABI abi.ABI
	governor    common.Address
	eventTopic  common.Hash
}

// NewCollector 创建提案采集器
func NewCollector(pool *connection.Pool, cfg *config.CollectorConfig, store *runstore.Store, out output.Output, logger *logrus.Logger) (*Collector, error) {
	if cfg == nil || cfg.GovernorAddress == "" {
		return nil, errors.WrapError(fmt.Errorf("governor_address 为空"),
			errors.ErrorTypeConfig, errors.SeverityCritical,
			"CONFIG_INVALID", "采集器缺少 Governor 合约地址")
	}

	parsed, err := abi.JSON(strings.NewReader(governorBravoABI))
	if err != nil {
		return nil, fmt.Errorf("解析Governor ABI失败: %w", err)
	}

	return &Collector{
		pool:        pool,
		cfg:         cfg,
		store:       store,
		outputter:   out,
		retrier:     retry.NewRetrier(retry.RPCRetryConfig, logger),
		logger:      logger,
		governorABI: parsed,
		governor:    common.HexToAddress(cfg.GovernorAddress),
		eventTopic:  parsed.Events["ProposalCreated"].ID,
	}, nil
}

// Collect 扫描指定区块范围内的可执行提案
//
// fromBlock 为0且存在检查点时从检查点的下一个区块开始。
func (c *Collector) Collect(ctx context.Context, fromBlock, toBlock uint64) ([]*models.Proposal, error) {
	if fromBlock == 0 && c.store != nil {
		checkpoint, exists, err := c.store.GetCheckpoint(c.governor.Hex())
		if err != nil {
			c.logger.Warnf("读取采集检查点失败: %v", err)
		} else if exists {
			fromBlock = checkpoint + 1
			c.logger.Infof("从检查点恢复采集: 区块 %d", fromBlock)
		}
	}

	batchSize := c.cfg.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	c.logger.Infof("开始扫描 ProposalCreated 事件: Governor %s, 区块 %d -> %d",
		c.governor.Hex(), fromBlock, toBlock)

	proposals := make([]*models.Proposal, 0)
	for current := fromBlock; current <= toBlock; {
		batchEnd := current + batchSize - 1
		if batchEnd > toBlock {
			batchEnd = toBlock
		}

		batch, err := c.collectBatch(ctx, current, batchEnd)
		if err != nil {
			return proposals, err
		}
		proposals = append(proposals, batch...)

		if c.store != nil {
			if err := c.store.SaveCheckpoint(c.governor.Hex(), batchEnd); err != nil {
				c.logger.Warnf("保存采集检查点失败: %v", err)
			}
		}

		current = batchEnd + 1
	}

	c.logger.Infof("采集完成: 共 %d 个可执行提案", len(proposals))
	return proposals, nil
}

// collectBatch 查询单个区块窗口
func (c *Collector) collectBatch(ctx context.Context, fromBlock, toBlock uint64) ([]*models.Proposal, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.governor},
		Topics:    [][]common.Hash{{c.eventTopic}},
	}

	var logs []types.Log
	err := c.retrier.Execute(ctx, "eth_getLogs", func() error {
		client, nodeName, err := c.pool.Client()
		if err != nil {
			return err
		}
		logs, err = client.FilterLogs(ctx, query)
		if err != nil {
			// 失败节点移出轮转，下次重试自动切换到后备节点
			c.pool.MarkUnavailable(nodeName)
			c.logger.Warnf("节点 %s 查询日志失败，已标记为不可用: %v", nodeName, err)
			return errors.WrapError(err, errors.ErrorTypeRPC, errors.SeverityHigh,
				"RPC_FAILED", fmt.Sprintf("eth_getLogs 区块 %d-%d 失败", fromBlock, toBlock))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	proposals := make([]*models.Proposal, 0, len(logs))
	for _, eventLog := range logs {
		proposal, err := c.parseProposalCreated(ctx, eventLog)
		if err != nil {
			c.logger.Warnf("解析 ProposalCreated 事件失败 (区块 %d): %v", eventLog.BlockNumber, err)
			continue
		}

		// 硬规则过滤：社交提案不进入审计流程
		if !proposal.IsExecutable() {
			c.logger.Warnf("提案 #%s 为社交提案，跳过", proposal.ID)
			continue
		}

		c.logger.Infof("发现可执行提案 #%s: %s (targets: %d)",
			proposal.ID, proposal.Title, len(proposal.Targets))

		if c.outputter != nil {
			if err := c.outputter.WriteProposal(proposal); err != nil {
				return proposals, err
			}
		}
		proposals = append(proposals, proposal)
	}
	return proposals, nil
}

// parseProposalCreated 解码 ProposalCreated 事件
func (c *Collector) parseProposalCreated(ctx context.Context, eventLog types.Log) (*models.Proposal, error) {
	values, err := c.governorABI.Unpack("ProposalCreated", eventLog.Data)
	if err != nil {
		return nil, fmt.Errorf("解码事件数据失败: %w", err)
	}
	if len(values) != 9 {
		return nil, fmt.Errorf("事件字段数量异常: %d", len(values))
	}

	proposalID, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("id 字段类型异常")
	}
	proposer, ok := values[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("proposer 字段类型异常")
	}
	targets, ok := values[2].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("targets 字段类型异常")
	}
	ethValues, ok := values[3].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("values 字段类型异常")
	}
	calldatas, ok := values[5].([][]byte)
	if !ok {
		return nil, fmt.Errorf("calldatas 字段类型异常")
	}
	startBlock, ok := values[6].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("startBlock 字段类型异常")
	}
	endBlock, ok := values[7].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("endBlock 字段类型异常")
	}
	description, ok := values[8].(string)
	if !ok {
		return nil, fmt.Errorf("description 字段类型异常")
	}

	targetStrings := make([]string, len(targets))
	for i, target := range targets {
		targetStrings[i] = strings.ToLower(target.Hex())
	}
	calldataStrings := make([]string, len(calldatas))
	for i, calldata := range calldatas {
		calldataStrings[i] = "0x" + hex.EncodeToString(calldata)
	}

	proposal := &models.Proposal{
		ID:          proposalID.String(), // 十进制字符串，避免精度丢失
		Title:       models.ExtractTitle(description),
		Description: description,
		Proposer:    strings.ToLower(proposer.Hex()),
		Targets:     targetStrings,
		Values:      ethValues,
		Calldatas:   calldataStrings,
		StartBlock:  startBlock.Uint64(),
		EndBlock:    endBlock.Uint64(),
		BlockNumber: eventLog.BlockNumber,
	}

	// 区块时间戳获取失败不影响提案采集
	if header, err := c.blockHeader(ctx, eventLog.BlockNumber); err != nil {
		c.logger.Warnf("获取区块 %d 时间戳失败: %v", eventLog.BlockNumber, err)
	} else {
		proposal.Timestamp = time.Unix(int64(header.Time), 0).UTC()
	}

	return proposal, nil
}

func (c *Collector) blockHeader(ctx context.Context, blockNumber uint64) (*types.Header, error) {
	if c.pool == nil {
		return nil, fmt.Errorf("未配置节点连接池")
	}
	client, _, err := c.pool.Client()
	if err != nil {
		return nil, err
	}
	return client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
}
