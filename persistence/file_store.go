package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/types"
)

// FileStore is a file-backed Store for single-node deployments. Each workflow
// lives in {baseDir}/workflows/{id}.json; reads are served from memory.
type FileStore struct {
	*MemoryStore
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore 创建文件存储并加载已有的工作流
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(baseDir, "workflows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflow store directory: %w", err)
	}
	s := &FileStore{
		MemoryStore: NewMemoryStore(),
		dir:         dir,
		logger:      logger.With(zap.String("component", "file_workflow_store")),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load workflows from disk: %w", err)
	}
	return s, nil
}

// loadFromDisk 装入已存在的工作流
func (s *FileStore) loadFromDisk() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		var rec workflowRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping unreadable workflow file", zap.String("file", name), zap.Error(err))
			continue
		}
		id := strings.TrimSuffix(filepath.Base(name), ".json")
		s.MemoryStore.workflows[id] = &rec
	}
	s.logger.Debug("workflows loaded", zap.Int("count", len(s.MemoryStore.workflows)))
	return nil
}

func (s *FileStore) path(workflowID string) (string, error) {
	if workflowID == "" || workflowID != filepath.Base(workflowID) || strings.ContainsAny(workflowID, `/\`) || workflowID == "." || workflowID == ".." {
		return "", fmt.Errorf("%w: workflow id %q cannot be used as a file name", ErrInvalidInput, workflowID)
	}
	return filepath.Join(s.dir, workflowID+".json"), nil
}

// persist 将工作流记录原子写入磁盘（必须持有 s.mu）
func (s *FileStore) persist(workflowID string) error {
	path, err := s.path(workflowID)
	if err != nil {
		return err
	}
	s.MemoryStore.mu.RLock()
	rec := s.MemoryStore.snapshot(workflowID)
	s.MemoryStore.mu.RUnlock()
	if rec == nil {
		return nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace workflow file: %w", err)
	}
	return nil
}

// SaveWorkflowState 写入头信息并落盘
func (s *FileStore) SaveWorkflowState(ctx context.Context, state *types.WorkflowState) error {
	if state != nil {
		if _, err := s.path(state.WorkflowID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.SaveWorkflowState(ctx, state); err != nil {
		return err
	}
	return s.persist(state.WorkflowID)
}

// CreateCheckpoint 追加检查点并落盘
func (s *FileStore) CreateCheckpoint(ctx context.Context, workflowID string, cp *types.Checkpoint) error {
	if _, err := s.path(workflowID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.CreateCheckpoint(ctx, workflowID, cp); err != nil {
		return err
	}
	return s.persist(workflowID)
}
