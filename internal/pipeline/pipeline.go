package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/graph"
	"propaudit/internal/identity"
	"propaudit/internal/output"
	"propaudit/internal/runstore"
	"propaudit/internal/trace"
	"propaudit/internal/validation"
	"propaudit/pkg/models"
)

// Pipeline 审计图流水线
//
// 串起规范化、身份解析、图构建、结构校验、特征提取和描述渲染六个阶段。
// 输入错误在任何产物写出之前发生，失败的运行不会留下半成品产物，
// 只留下一条失败状态的运行记录。
type Pipeline struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    output.Output
	store  *runstore.Store // 可为nil（单次CLI运行不落记录）
}

// Result 一次运行的产出
type Result struct {
	RunID       string
	Graph       *models.Graph
	Features    *models.FeatureSet
	Description string
	Record      *models.RunRecord
}

// New 创建流水线
func New(cfg *config.Config, out output.Output, store *runstore.Store, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		out:    out,
		store:  store,
	}
}

// Run 对指定轨迹文档执行一次完整的图构建运行
func (p *Pipeline) Run(ctx context.Context, tracePath string) (*Result, error) {
	runID := newRunID()
	runLogger := p.logger.WithField("run_id", runID)
	record := &models.RunRecord{
		RunID:     runID,
		TracePath: tracePath,
		StartedAt: time.Now().UTC(),
	}

	result, err := p.run(ctx, tracePath, record, runLogger)
	record.FinishedAt = time.Now().UTC()
	if err != nil {
		record.Status = models.RunStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = models.RunStatusCompleted
	}

	if p.store != nil {
		if saveErr := p.store.SaveRun(record); saveErr != nil {
			runLogger.Errorf("保存运行记录失败: %v", saveErr)
		}
	}

	if err != nil {
		return nil, err
	}
	result.Record = record
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, tracePath string, record *models.RunRecord, runLogger *logrus.Entry) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. 规范化
	normalizer := trace.NewNormalizer(p.logger)
	frames, err := normalizer.NormalizeFile(tracePath)
	if err != nil {
		runLogger.Errorf("轨迹规范化失败: %v", err)
		return nil, err
	}

	// 2. 身份解析 + 图构建
	var known map[string]string
	if p.cfg.Graph != nil && len(p.cfg.Graph.KnownContracts) > 0 {
		known = p.cfg.Graph.KnownContracts
	}
	resolver := identity.NewResolver(known, p.logger)
	builder := graph.NewBuilder(resolver, p.logger)
	g, err := builder.Build(frames)
	if err != nil {
		runLogger.Errorf("图构建失败: %v", err)
		return nil, err
	}

	// 3. 结构校验（校验失败说明构建器有缺陷，中止而不输出产物）
	validator := validation.NewValidator(p.logger, false)
	if vr := validator.ValidateGraph(g); !vr.Valid {
		for _, vErr := range vr.Errors {
			runLogger.Errorf("图结构校验失败: %v", vErr)
		}
		return nil, vr.Errors[0]
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. 特征提取
	threshold := big.NewInt(0)
	if p.cfg.Graph != nil {
		threshold, err = p.cfg.Graph.CriticalThreshold()
		if err != nil {
			return nil, err
		}
	}
	extractor := graph.NewExtractor(threshold, p.logger)
	features := extractor.Extract(g)

	// 5. 描述渲染
	describer := graph.NewDescriber(identity.NewSignatureResolver(p.cfg.Decoder, p.logger))
	description := describer.Describe(g, features)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 6. 产物输出
	if p.out != nil {
		if err := p.out.WriteGraph(g); err != nil {
			return nil, err
		}
		if err := p.out.WriteDescription(description); err != nil {
			return nil, err
		}
		if err := p.out.WriteFeatures(features); err != nil {
			return nil, err
		}
	}

	record.NodeCount = len(g.Nodes)
	record.EdgeCount = len(g.Edges)
	record.MaxDepth = features.MaxDepth
	record.FailedCallCount = features.FailedCallCount
	if p.cfg.Graph != nil {
		record.GraphPath = p.cfg.Graph.GraphOutputPath
		record.DescriptionPath = p.cfg.Graph.DescriptionOutputPath
	}

	runLogger.Infof("审计图运行完成: %d 个节点, %d 条边, 最大深度 %d",
		record.NodeCount, record.EdgeCount, record.MaxDepth)

	return &Result{
		RunID:       record.RunID,
		Graph:       g,
		Features:    features,
		Description: description,
	}, nil
}

// newRunID 生成运行ID（时间戳，纳秒精度保证进程内唯一）
func newRunID() string {
	return fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102T150405.000000000"))
}
