package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"propaudit/internal/logging"
)

// Config 主配置
type Config struct {
	Blockchain *BlockchainConfig  `mapstructure:"blockchain"`
	Collector  *CollectorConfig   `mapstructure:"collector"`
	Graph      *GraphConfig       `mapstructure:"graph"`
	Output     *OutputConfig      `mapstructure:"output"`
	Decoder    *DecoderConfig     `mapstructure:"decoder"`
	Auditor    *AuditorConfig     `mapstructure:"auditor"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Nodes []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Type      string `mapstructure:"type"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// CollectorConfig 提案采集器配置
type CollectorConfig struct {
	GovernorAddress string `mapstructure:"governor_address"` // Governor 合约地址
	BatchSize       uint64 `mapstructure:"batch_size"`       // eth_getLogs 单次查询区块窗口
	RetryLimit      int    `mapstructure:"retry_limit"`
	Timeout         string `mapstructure:"timeout"`
}

// GraphConfig 图构建配置
//
// 已知合约表和关键节点价值阈值属于运行级输入配置：修改它们只影响
// label 和 criticalNodes 输出，绝不改变 depth/order 和图拓扑。
type GraphConfig struct {
	KnownContracts         map[string]string `mapstructure:"known_contracts"`          // 地址 -> 标签
	CriticalValueThreshold string            `mapstructure:"critical_value_threshold"` // wei，十进制字符串
	InputPath              string            `mapstructure:"input_path"`               // 轨迹文档默认路径
	GraphOutputPath        string            `mapstructure:"graph_output_path"`        // 图对象输出路径
	DescriptionOutputPath  string            `mapstructure:"description_output_path"`  // 描述文本输出路径
}

// CriticalThreshold 解析关键节点价值阈值
func (gc *GraphConfig) CriticalThreshold() (*big.Int, error) {
	if gc.CriticalValueThreshold == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(gc.CriticalValueThreshold, 10)
	if !ok {
		return nil, fmt.Errorf("非法的价值阈值: %q", gc.CriticalValueThreshold)
	}
	return v, nil
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// DecoderConfig 函数签名解码器配置
type DecoderConfig struct {
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	APITimeout     string `mapstructure:"api_timeout"`
	EnableCache    bool   `mapstructure:"enable_cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	EnableAPI      bool   `mapstructure:"enable_api"`
}

// AuditorConfig 审计推理器配置
type AuditorConfig struct {
	APIURL    string `mapstructure:"api_url"`     // LLM chat 接口地址
	APIKeyEnv string `mapstructure:"api_key_env"` // 密钥所在环境变量名
	Model     string `mapstructure:"model"`
	Timeout   string `mapstructure:"timeout"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // json / kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// LoadConfig 加载配置（自动检测配置源）
//
// 优先级：PROPAUDIT_DB_DSN 环境变量指向的数据库 > YAML 配置文件。
func LoadConfig(configPath string) (*Config, error) {
	dbDSN := os.Getenv("PROPAUDIT_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
//
// 文件不存在时回退到默认配置，保证 graph 子命令开箱即用。
func LoadConfigFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// DefaultDecoderConfig 默认解码器配置
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
		APITimeout:     "5s",
		EnableCache:    true,
		CacheSize:      10000,
		EnableAPI:      false, // 默认离线：确定性运行不依赖外部API
	}
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Blockchain: &BlockchainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "", // 需要在YAML配置或数据库中指定
					Type:      "local",
					RateLimit: 1000,
					Priority:  1,
				},
			},
		},
		Collector: &CollectorConfig{
			GovernorAddress: "0x408ED6354d4973f66138C91495F2f2FCbd8724C3", // Uniswap Governor
			BatchSize:       10, // Alchemy 免费版 eth_getLogs 窗口限制
			RetryLimit:      3,
			Timeout:         "30s",
		},
		Graph: &GraphConfig{
			KnownContracts:         nil, // nil 使用内置地址库
			CriticalValueThreshold: "1000000000000000000", // 1 ETH
			InputPath:              "data/traces/trace_report.json",
			GraphOutputPath:        "outputs/proposal_graph.json",
			DescriptionOutputPath:  "outputs/graph_description.txt",
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"proposals":    "audit_proposals",
					"graphs":       "audit_graphs",
					"descriptions": "audit_descriptions",
					"features":     "audit_features",
					"reports":      "audit_reports",
				},
			},
		},
		Decoder: DefaultDecoderConfig(),
		Auditor: &AuditorConfig{
			APIURL:    "https://api.deepseek.com/v1/chat/completions",
			APIKeyEnv: "AUDIT_LLM_API_KEY",
			Model:     "deepseek-reasoner",
			Timeout:   "120s",
			MaxTokens: 4096,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
