package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"propaudit/internal/api"
	"propaudit/internal/auditor"
	"propaudit/internal/collector"
	"propaudit/internal/config"
	"propaudit/internal/connection"
	"propaudit/internal/logging"
	"propaudit/internal/output"
	"propaudit/internal/pipeline"
	"propaudit/internal/runstore"
	"propaudit/internal/shutdown"
	"propaudit/internal/simulator"
	"propaudit/pkg/models"
)

var (
	// 基础参数
	configFile string
	verbose    bool
	runsDBPath string

	// graph / audit 参数
	inputPath         string
	proposalPath      string
	graphOutput       string
	descriptionOutput string

	// collect 参数
	fromBlock uint64
	toBlock   uint64

	// simulate 参数
	txHash      string
	traceOutput string

	// serve 参数
	port int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "propaudit",
		Short: "DAO治理提案审计工具",
		Long:  `从EVM调用轨迹构建提案执行图，提取结构特征并生成审计报告`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().StringVar(&runsDBPath, "runs-db", "data/runs.db", "运行记录数据库路径")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "从轨迹文档构建提案执行图",
		RunE:  runGraph,
	}
	graphCmd.Flags().StringVar(&inputPath, "input", "", "轨迹文档路径（默认使用配置中的 input_path）")
	graphCmd.Flags().StringVar(&graphOutput, "graph-output", "", "图对象输出路径")
	graphCmd.Flags().StringVar(&descriptionOutput, "description-output", "", "描述文本输出路径")

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "从链上采集治理提案事件",
		RunE:  runCollect,
	}
	collectCmd.Flags().Uint64Var(&fromBlock, "from", 0, "起始区块号（0 表示从断点续传）")
	collectCmd.Flags().Uint64Var(&toBlock, "to", 0, "结束区块号")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "回放链上交易生成轨迹文档",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&txHash, "tx", "", "交易哈希")
	simulateCmd.Flags().StringVar(&traceOutput, "output", "data/traces/trace_report.json", "轨迹文档输出路径")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "构建执行图并生成审计报告",
		RunE:  runAudit,
	}
	auditCmd.Flags().StringVar(&inputPath, "input", "", "轨迹文档路径（默认使用配置中的 input_path）")
	auditCmd.Flags().StringVar(&proposalPath, "proposal", "", "提案JSON文件路径")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动审计API服务器",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 8080, "监听端口")

	rootCmd.AddCommand(graphCmd, collectCmd, simulateCmd, auditCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 创建组件日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// loadEnvironment 加载配置并创建输出器和运行记录存储
func loadEnvironment(logger *logrus.Logger) (*config.Config, output.Output, *runstore.Store, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 命令行参数覆盖配置中的产物路径
	if graphOutput != "" && cfg.Graph != nil {
		cfg.Graph.GraphOutputPath = graphOutput
	}
	if descriptionOutput != "" && cfg.Graph != nil {
		cfg.Graph.DescriptionOutputPath = descriptionOutput
	}

	out, err := output.NewOutput(cfg.Output, cfg.Graph, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("创建输出器失败: %w", err)
	}

	store, err := runstore.NewStore(runsDBPath, logger)
	if err != nil {
		out.Close()
		return nil, nil, nil, fmt.Errorf("打开运行记录存储失败: %w", err)
	}

	return cfg, out, store, nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, out, store, err := loadEnvironment(logger)
	if err != nil {
		return err
	}
	defer out.Close()
	defer store.Close()

	structured, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建结构化日志器失败: %w", err)
	}

	tracePath := inputPath
	if tracePath == "" {
		tracePath = cfg.Graph.InputPath
	}

	pl := pipeline.New(cfg, out, store, logger)
	result, err := pl.Run(context.Background(), tracePath)
	if err != nil {
		return fmt.Errorf("审计运行失败: %w", err)
	}

	runLogger := logging.NewRunLogger(structured, result.RunID)
	runLogger.Info("审计运行完成",
		"node_count", len(result.Graph.Nodes),
		"edge_count", len(result.Graph.Edges),
		"max_depth", result.Features.MaxDepth,
		"failed_call_count", result.Features.FailedCallCount,
		"critical_nodes", len(result.Features.CriticalNodes),
	)

	logger.Info("运行统计:")
	logger.Infof("  运行ID: %s", result.RunID)
	logger.Infof("  节点数: %d", len(result.Graph.Nodes))
	logger.Infof("  边数: %d", len(result.Graph.Edges))
	logger.Infof("  最大深度: %d", result.Features.MaxDepth)
	logger.Infof("  失败调用数: %d", result.Features.FailedCallCount)
	logger.Infof("  关键节点数: %d", len(result.Features.CriticalNodes))
	for _, warning := range result.Graph.Warnings {
		logger.Warnf("  警告: %s", warning)
	}

	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, out, store, err := loadEnvironment(logger)
	if err != nil {
		return err
	}
	defer out.Close()
	defer store.Close()

	if toBlock == 0 {
		return fmt.Errorf("采集模式需要指定 --to 结束区块")
	}

	pool, err := connection.NewPool(cfg.Blockchain.Nodes, logger)
	if err != nil {
		return fmt.Errorf("创建节点连接池失败: %w", err)
	}
	defer pool.Close()

	c, err := collector.NewCollector(pool, cfg.Collector, store, out, logger)
	if err != nil {
		return fmt.Errorf("创建采集器失败: %w", err)
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.Start()

	proposals, err := c.Collect(gs.Context(), fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("采集失败: %w", err)
	}

	logger.Infof("采集完成，共 %d 个可执行提案", len(proposals))
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if txHash == "" {
		return fmt.Errorf("回放模式需要指定 --tx 交易哈希")
	}

	pool, err := connection.NewPool(cfg.Blockchain.Nodes, logger)
	if err != nil {
		return fmt.Errorf("创建节点连接池失败: %w", err)
	}
	defer pool.Close()

	sim := simulator.NewSimulator(pool, logger)
	if err := sim.WriteTraceReport(context.Background(), txHash, traceOutput); err != nil {
		return fmt.Errorf("回放交易失败: %w", err)
	}

	logger.Infof("轨迹文档已写入 %s", traceOutput)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, out, store, err := loadEnvironment(logger)
	if err != nil {
		return err
	}
	defer out.Close()
	defer store.Close()

	if proposalPath == "" {
		return fmt.Errorf("审计模式需要指定 --proposal 提案文件")
	}
	proposal, err := loadProposal(proposalPath)
	if err != nil {
		return err
	}

	tracePath := inputPath
	if tracePath == "" {
		tracePath = cfg.Graph.InputPath
	}

	pl := pipeline.New(cfg, out, store, logger)
	result, err := pl.Run(context.Background(), tracePath)
	if err != nil {
		return fmt.Errorf("审计运行失败: %w", err)
	}

	aud, err := auditor.NewAuditor(cfg.Auditor, logger)
	if err != nil {
		return fmt.Errorf("创建审计推理器失败: %w", err)
	}

	report, err := aud.Audit(context.Background(), proposal, result.Description)
	if err != nil {
		return fmt.Errorf("生成审计报告失败: %w", err)
	}
	if err := out.WriteReport(report); err != nil {
		return fmt.Errorf("写入审计报告失败: %w", err)
	}

	logger.Infof("提案 %s 审计报告已生成", proposal.ID)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, out, store, err := loadEnvironment(logger)
	if err != nil {
		return err
	}

	pl := pipeline.New(cfg, out, store, logger)
	server := api.NewServer(cfg, pl, store, logger, port)

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.RegisterShutdownFunc("api_server", server.Stop, shutdown.OrderStopAcceptingRequests)
	gs.RegisterShutdownFunc("output", func(ctx context.Context) error {
		return out.Close()
	}, shutdown.OrderFlushProducers)
	gs.RegisterShutdownFunc("runstore", func(ctx context.Context) error {
		return store.Close()
	}, shutdown.OrderCloseStores)
	gs.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器退出: %v", err)
			gs.Shutdown()
		}
	}()

	gs.Wait()
	return nil
}

// loadProposal 从文件加载提案
func loadProposal(path string) (*models.Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取提案文件失败: %w", err)
	}
	var proposal models.Proposal
	if err := json.Unmarshal(data, &proposal); err != nil {
		return nil, fmt.Errorf("解析提案文件失败: %w", err)
	}
	return &proposal, nil
}
