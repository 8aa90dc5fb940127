package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propaudit/internal/config"
	"propaudit/internal/errors"
	"propaudit/internal/output"
	"propaudit/internal/pipeline"
	"propaudit/internal/runstore"
)

// Server 审计API服务器
//
// 对外提供触发审计运行、查询运行历史和读取产物的HTTP接口。
// 同一时间只允许一个审计运行在执行，避免产物文件互相覆盖。
type Server struct {
	config     *config.Config
	pipeline   *pipeline.Pipeline
	store      *runstore.Store
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	mu         sync.Mutex
	running    bool
	port       int
}

// NewServer 创建API服务器
func NewServer(cfg *config.Config, pl *pipeline.Pipeline, store *runstore.Store, logger *logrus.Logger, port int) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		config:     cfg,
		pipeline:   pl,
		store:      store,
		logger:     logger,
		logManager: logManager,
		port:       port,
	}
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 审计运行
		api.POST("/audit", s.startAudit)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)

		// 产物
		api.GET("/graph", s.getGraph)
		api.GET("/description", s.getDescription)

		// 日志
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// auditRequest 审计运行请求
type auditRequest struct {
	TracePath string `json:"trace_path"`
}

// startAudit 触发一次审计运行
func (s *Server) startAudit(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}

	tracePath := req.TracePath
	if tracePath == "" && s.config.Graph != nil {
		tracePath = s.config.Graph.InputPath
	}
	if tracePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 trace_path"})
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "已有审计运行在执行中"})
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result, err := s.pipeline.Run(c.Request.Context(), tracePath)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsMalformedTrace(err) {
			// 输入数据错误是调用方的问题
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":            result.RunID,
		"node_count":        len(result.Graph.Nodes),
		"edge_count":        len(result.Graph.Edges),
		"max_depth":         result.Features.MaxDepth,
		"failed_call_count": result.Features.FailedCallCount,
		"critical_nodes":    result.Features.CriticalNodes,
		"warnings":          result.Graph.Warnings,
	})
}

// listRuns 查询运行历史
func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "运行记录存储未启用"})
		return
	}

	records, err := s.store.ListRuns()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(records),
		"runs":  records,
	})
}

// getRun 查询单次运行
func (s *Server) getRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "运行记录存储未启用"})
		return
	}

	record, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行记录不存在"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// getGraph 读取最近一次运行的图对象
func (s *Server) getGraph(c *gin.Context) {
	if s.config.Graph == nil || s.config.Graph.GraphOutputPath == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图输出路径未配置"})
		return
	}

	graph, err := output.LoadGraph(s.config.Graph.GraphOutputPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, graph)
}

// getDescription 读取最近一次运行的描述文本
func (s *Server) getDescription(c *gin.Context) {
	if s.config.Graph == nil || s.config.Graph.DescriptionOutputPath == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "描述输出路径未配置"})
		return
	}
	c.File(s.config.Graph.DescriptionOutputPath)
}

// getLogs 查询日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	logs := s.logManager.GetLogs(level, limit)
	c.JSON(http.StatusOK, gin.H{
		"total": len(logs),
		"logs":  logs,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
