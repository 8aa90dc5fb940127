package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/errors"
)

// Node 单个RPC节点连接
type Node struct {
	Name      string
	URL       string
	Type      string
	Priority  int
	Client    *ethclient.Client
	available bool
	lastError time.Time
	mu        sync.RWMutex
}

// Available 节点是否可用
func (n *Node) Available() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.available
}

// Pool 以太坊节点连接池
//
// 启动时逐个拨号并做一次连通性探测，按优先级排序；取连接时返回
// 第一个可用节点，调用方在RPC持续失败后标记节点不可用触发切换。
type Pool struct {
	logger *logrus.Logger
	nodes  []*Node
	mu     sync.RWMutex
}

// NewPool 创建连接池
func NewPool(configs []*config.NodeConfig, logger *logrus.Logger) (*Pool, error) {
	nodes := make([]*Node, 0, len(configs))

	for _, nodeConfig := range configs {
		client, err := ethclient.Dial(nodeConfig.URL)
		if err != nil {
			logger.Warnf("连接节点 %s 失败: %v", nodeConfig.Name, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = client.BlockNumber(ctx)
		cancel()
		if err != nil {
			logger.Warnf("节点 %s 不可用: %v", nodeConfig.Name, err)
			client.Close()
			continue
		}

		nodes = append(nodes, &Node{
			Name:      nodeConfig.Name,
			URL:       nodeConfig.URL,
			Type:      nodeConfig.Type,
			Priority:  nodeConfig.Priority,
			Client:    client,
			available: true,
		})
		logger.Infof("成功连接到节点: %s", nodeConfig.Name)
	}

	if len(nodes) == 0 {
		return nil, errors.WrapError(fmt.Errorf("共尝试 %d 个节点", len(configs)),
			errors.ErrorTypeNetwork, errors.SeverityCritical,
			"NO_AVAILABLE_NODE", "无法连接到任何区块链节点")
	}

	// 优先级数字越小越优先
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Priority < nodes[j].Priority
	})

	return &Pool{logger: logger, nodes: nodes}, nil
}

// Client 返回当前最优可用节点的客户端
func (p *Pool) Client() (*ethclient.Client, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, node := range p.nodes {
		if node.Available() {
			return node.Client, node.Name, nil
		}
	}
	return nil, "", errors.WrapError(fmt.Errorf("共 %d 个节点", len(p.nodes)),
		errors.ErrorTypeNetwork, errors.SeverityCritical,
		"NO_AVAILABLE_NODE", "所有节点均不可用")
}

// MarkUnavailable 标记节点不可用（触发失败切换）
func (p *Pool) MarkUnavailable(name string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, node := range p.nodes {
		if node.Name == name {
			node.mu.Lock()
			node.available = false
			node.lastError = time.Now()
			node.mu.Unlock()
			p.logger.Warnf("节点 %s 已标记为不可用", name)
			return
		}
	}
}

// MarkAvailable 恢复节点可用状态
func (p *Pool) MarkAvailable(name string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, node := range p.nodes {
		if node.Name == name {
			node.mu.Lock()
			node.available = true
			node.mu.Unlock()
			p.logger.Infof("节点 %s 已恢复可用", name)
			return
		}
	}
}

// Close 关闭全部节点连接
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, node := range p.nodes {
		if node.Client != nil {
			node.Client.Close()
		}
	}
	p.logger.Info("连接池已关闭")
}
