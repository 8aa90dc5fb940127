package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/errors"
	"propaudit/pkg/models"
)

// Output 审计产物输出接口
type Output interface {
	WriteProposal(proposal *models.Proposal) error
	WriteGraph(graph *models.Graph) error
	WriteDescription(text string) error
	WriteFeatures(features *models.FeatureSet) error
	WriteReport(report *models.AuditReport) error
	Close() error
}

// NewOutput 创建输出器
//
// format 为 kafka 时产物发往消息队列，否则写入本地文件。
func NewOutput(cfg *config.OutputConfig, graphCfg *config.GraphConfig, logger *logrus.Logger) (Output, error) {
	if cfg != nil && cfg.Format == "kafka" {
		brokers := []string{"localhost:9092"}
		var topics map[string]string
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			topics = cfg.Kafka.Topics
		}
		return NewKafkaOutput(brokers, topics, logger)
	}

	directory := "outputs"
	if cfg != nil && cfg.Directory != "" {
		directory = cfg.Directory
	}
	graphPath := filepath.Join(directory, "proposal_graph.json")
	descriptionPath := filepath.Join(directory, "graph_description.txt")
	if graphCfg != nil {
		if graphCfg.GraphOutputPath != "" {
			graphPath = graphCfg.GraphOutputPath
		}
		if graphCfg.DescriptionOutputPath != "" {
			descriptionPath = graphCfg.DescriptionOutputPath
		}
	}

	return NewFileOutput(directory, graphPath, descriptionPath, logger)
}

// FileOutput 文件输出器
//
// 图对象和描述文本写入固定路径（供下游推理器按约定读取），
// 其余产物写入输出目录下的固定文件名。
type FileOutput struct {
	logger          *logrus.Logger
	directory       string
	graphPath       string
	descriptionPath string
}

// NewFileOutput 创建文件输出器
func NewFileOutput(directory, graphPath, descriptionPath string, logger *logrus.Logger) (*FileOutput, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("创建输出目录失败: %s", directory))
	}
	return &FileOutput{
		logger:          logger,
		directory:       directory,
		graphPath:       graphPath,
		descriptionPath: descriptionPath,
	}, nil
}

// WriteProposal 写入提案数据
func (f *FileOutput) WriteProposal(proposal *models.Proposal) error {
	if proposal == nil {
		return nil
	}
	path := filepath.Join(f.directory, fmt.Sprintf("proposal_%s.json", proposal.ID))
	return f.writeJSON(path, proposal)
}

// WriteGraph 写入图对象
func (f *FileOutput) WriteGraph(graph *models.Graph) error {
	if graph == nil {
		return nil
	}
	if err := f.writeJSON(f.graphPath, graph); err != nil {
		return err
	}
	f.logger.Infof("图对象已写入: %s", f.graphPath)
	return nil
}

// WriteDescription 写入描述文本
func (f *FileOutput) WriteDescription(text string) error {
	if err := writeFileAtomic(f.descriptionPath, []byte(text)); err != nil {
		return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("写入描述文本失败: %s", f.descriptionPath))
	}
	f.logger.Infof("描述文本已写入: %s", f.descriptionPath)
	return nil
}

// WriteFeatures 写入特征集合
func (f *FileOutput) WriteFeatures(features *models.FeatureSet) error {
	if features == nil {
		return nil
	}
	return f.writeJSON(filepath.Join(f.directory, "graph_features.json"), features)
}

// WriteReport 写入审计报告
func (f *FileOutput) WriteReport(report *models.AuditReport) error {
	if report == nil {
		return nil
	}
	path := filepath.Join(f.directory, fmt.Sprintf("audit_report_%s.json", report.ProposalID))
	return f.writeJSON(path, report)
}

// Close 关闭输出器
func (f *FileOutput) Close() error {
	return nil
}

func (f *FileOutput) writeJSON(path string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", "序列化输出数据失败")
	}
	if err := writeFileAtomic(path, append(jsonData, '\n')); err != nil {
		return errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("写入文件失败: %s", path))
	}
	return nil
}

// writeFileAtomic 先写临时文件再原子改名，失败时不留下半成品产物
func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadGraph 从文件读回图对象（重建地址索引）
func LoadGraph(path string) (*models.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("读取图文件失败: %s", path))
	}

	var graph models.Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeFileIO, errors.SeverityHigh,
			"FILE_IO_FAILED", fmt.Sprintf("解析图文件失败: %s", path))
	}
	graph.RebuildIndex()
	return &graph, nil
}
