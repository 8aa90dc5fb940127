package runstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"propaudit/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/runs.db"

	// 存储桶名称
	RunsBucket        = "runs"        // runID -> RunRecord JSON
	CheckpointsBucket = "checkpoints" // governor地址 -> 最后扫描区块号
)

// Store 审计运行记录存储
//
// 每次审计运行（成功或失败）落一条记录，API 层按它回答运行历史
// 查询；采集器的区块检查点也存在这里，重启后从断点续扫。
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex
}

// NewStore 创建运行记录存储
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开运行记录数据库失败: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("运行记录存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{RunsBucket, CheckpointsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", bucket, err)
			}
		}
		return nil
	})
}

// SaveRun 保存运行记录
func (s *Store) SaveRun(record *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(RunsBucket))
		return bucket.Put([]byte(record.RunID), data)
	})
}

// GetRun 按运行ID查询记录，不存在时返回nil
func (s *Store) GetRun(runID string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *models.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(RunsBucket)).Get([]byte(runID))
		if data == nil {
			return nil
		}
		record = &models.RunRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, fmt.Errorf("读取运行记录失败: %w", err)
	}
	return record, nil
}

// ListRuns 列出全部运行记录（按开始时间降序）
func (s *Store) ListRuns() ([]*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.RunRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(RunsBucket)).ForEach(func(_, value []byte) error {
			record := &models.RunRecord{}
			if err := json.Unmarshal(value, record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].RunID < records[j].RunID
	})
	return records, nil
}

// SaveCheckpoint 保存采集器区块检查点
func (s *Store) SaveCheckpoint(governor string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, blockNumber)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(CheckpointsBucket)).Put([]byte(governor), value)
	})
}

// GetCheckpoint 读取采集器区块检查点
//
// 返回的布尔值表示检查点是否存在。
func (s *Store) GetCheckpoint(governor string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blockNumber uint64
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(CheckpointsBucket)).Get([]byte(governor))
		if len(data) == 8 {
			blockNumber = binary.BigEndian.Uint64(data)
			exists = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("读取检查点失败: %w", err)
	}
	return blockNumber, exists, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
