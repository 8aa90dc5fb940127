package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

// 产物类型到默认topic的映射
var defaultTopics = map[string]string{
	"proposals":    "audit_proposals",
	"graphs":       "audit_graphs",
	"descriptions": "audit_descriptions",
	"features":     "audit_features",
	"reports":      "audit_reports",
}

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeKafka, errors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", "创建Kafka生产者失败")
	}

	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// sendToKafka 发送产物到Kafka
func (k *KafkaOutput) sendToKafka(artifactType string, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeKafka, errors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", "序列化产物失败")
	}

	topic, exists := k.topics[artifactType]
	if !exists {
		topic = defaultTopics[artifactType]
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(jsonData),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeKafka, errors.SeverityHigh,
			"KAFKA_PRODUCE_FAILED", fmt.Sprintf("发送产物到topic %s 失败", topic))
	}

	k.logger.Infof("产物已发送到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteProposal 发送提案数据
func (k *KafkaOutput) WriteProposal(proposal *models.Proposal) error {
	if proposal == nil {
		return nil
	}
	return k.sendToKafka("proposals", proposal.ID, proposal)
}

// WriteGraph 发送图对象
func (k *KafkaOutput) WriteGraph(graph *models.Graph) error {
	if graph == nil {
		return nil
	}
	return k.sendToKafka("graphs", "", graph)
}

// WriteDescription 发送描述文本
func (k *KafkaOutput) WriteDescription(text string) error {
	payload := map[string]string{"description": text}
	return k.sendToKafka("descriptions", "", payload)
}

// WriteFeatures 发送特征集合
func (k *KafkaOutput) WriteFeatures(features *models.FeatureSet) error {
	if features == nil {
		return nil
	}
	return k.sendToKafka("features", "", features)
}

// WriteReport 发送审计报告
func (k *KafkaOutput) WriteReport(report *models.AuditReport) error {
	if report == nil {
		return nil
	}
	return k.sendToKafka("reports", report.ProposalID, report)
}

// Close 关闭生产者
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
