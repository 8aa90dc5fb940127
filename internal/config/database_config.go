package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
//
// 已知合约表天然适合放在数据库里集中维护：known_contracts 表由
// 安全团队更新，所有审计运行启动时读取一次快照，运行期间不再查询。
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	blockchainConfig, err := dc.loadBlockchainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载区块链配置失败: %w", err)
	}
	config.Blockchain = blockchainConfig

	graphConfig, err := dc.loadGraphConfig()
	if err != nil {
		return nil, fmt.Errorf("加载图构建配置失败: %w", err)
	}
	config.Graph = graphConfig

	outputConfig, err := dc.loadOutputConfig()
	if err != nil {
		return nil, fmt.Errorf("加载输出配置失败: %w", err)
	}
	config.Output = outputConfig

	return config, nil
}

// loadBlockchainConfig 加载区块链节点配置
func (dc *DatabaseConfig) loadBlockchainConfig() (*BlockchainConfig, error) {
	query := `SELECT name, url, node_type, rate_limit, priority FROM blockchain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.RateLimit, &node.Priority)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}

	return &BlockchainConfig{
		Nodes: nodes,
	}, nil
}

// loadGraphConfig 加载图构建配置（含已知合约表）
func (dc *DatabaseConfig) loadGraphConfig() (*GraphConfig, error) {
	config := GetDefaultConfig().Graph

	// 已知合约表
	query := `SELECT address, label FROM known_contracts WHERE is_active = true ORDER BY address`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]string)
	for rows.Next() {
		var address, label string
		if err := rows.Scan(&address, &label); err != nil {
			return nil, err
		}
		known[strings.ToLower(address)] = label
	}
	if len(known) > 0 {
		config.KnownContracts = known
		dc.logger.Infof("已从数据库加载 %d 条已知合约记录", len(known))
	}

	// 图构建参数
	query = `SELECT config_key, config_value FROM graph_config WHERE is_active = true`
	rows, err = dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		switch key {
		case "critical_value_threshold":
			config.CriticalValueThreshold = value
		case "input_path":
			config.InputPath = value
		case "graph_output_path":
			config.GraphOutputPath = value
		case "description_output_path":
			config.DescriptionOutputPath = value
		}
	}

	return config, nil
}

// loadOutputConfig 加载输出配置
func (dc *DatabaseConfig) loadOutputConfig() (*OutputConfig, error) {
	query := `SELECT config_key, config_value FROM output_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	config := GetDefaultConfig().Output

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		switch key {
		case "format":
			config.Format = value
		case "directory":
			config.Directory = value
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				config.Kafka.Brokers = brokers
			}
		}
	}

	// Kafka输出时加载主题映射
	if config.Format == "kafka" {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return nil, err
		}
		if len(topics) > 0 {
			config.Kafka.Topics = topics
		}
	}

	return config, nil
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT artifact_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var artifactType, topicName string
		if err := rows.Scan(&artifactType, &topicName); err != nil {
			return nil, err
		}
		topics[artifactType] = topicName
	}

	return topics, nil
}

// UpsertKnownContract 更新已知合约记录
func (dc *DatabaseConfig) UpsertKnownContract(address, label string) error {
	query := `
		INSERT INTO known_contracts (address, label, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (address)
		DO UPDATE SET label = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	_, err := dc.DB.Exec(query, strings.ToLower(address), label)
	return err
}

// GetGraphConfig 获取单个图构建配置值
func (dc *DatabaseConfig) GetGraphConfig(key string) (string, error) {
	query := `SELECT config_value FROM graph_config WHERE config_key = $1 AND is_active = true`
	var value string
	err := dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// SetGraphConfig 更新图构建配置值
func (dc *DatabaseConfig) SetGraphConfig(key, value string) error {
	// 阈值等数值配置先做合法性检查
	if key == "critical_value_threshold" {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			if !isDecimalString(value) {
				return fmt.Errorf("非法的价值阈值: %q", value)
			}
		}
	}

	query := `
		INSERT INTO graph_config (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`
	_, err := dc.DB.Exec(query, key, value)
	return err
}

// isDecimalString 判断是否为十进制整数字符串（可超出float64精度）
func isDecimalString(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
