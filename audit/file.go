package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	fileDateLayout = "2006-01-02"
	filePrefix     = "audit_"
	fileSuffix     = ".jsonl"
)

// FileStorage stores audit logs as JSON lines in one file per UTC day.
type FileStorage struct {
	dir         string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	logger      *zap.Logger
}

// NewFileStorage creates a file storage rooted at dir.
func NewFileStorage(dir string, logger *zap.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "./audit_logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileStorage{
		dir:    dir,
		logger: logger.With(zap.String("component", "file_audit_storage")),
	}, nil
}

// Append 以 JSON 行的形式写入当天的文件
func (f *FileStorage) Append(_ context.Context, _ string, value []byte) error {
	log, err := decodeLog(value)
	if err != nil {
		return err
	}
	var line bytes.Buffer
	if err := json.Compact(&line, value); err != nil {
		return fmt.Errorf("compact audit log: %w", err)
	}
	line.WriteByte('\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	date := log.Timestamp.UTC().Format(fileDateLayout)
	if f.currentFile == nil || f.currentDate != date {
		if err := f.rotateFile(date); err != nil {
			return err
		}
	}
	if _, err := f.currentFile.Write(line.Bytes()); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// rotateFile 切换到指定日期的文件（必须在锁内调用）
func (f *FileStorage) rotateFile(date string) error {
	if f.currentFile != nil {
		if err := f.currentFile.Close(); err != nil {
			f.logger.Warn("failed to close audit file", zap.Error(err))
		}
		f.currentFile = nil
	}

	filename := filepath.Join(f.dir, filePrefix+date+fileSuffix)
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	f.currentFile = file
	f.currentDate = date
	f.logger.Debug("rotated audit file", zap.String("filename", filename))
	return nil
}

// Query 读取覆盖 [start, end] 的每日文件并过滤
func (f *FileStorage) Query(ctx context.Context, start, end time.Time, filters *Filters) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type hit struct {
		ts    time.Time
		value []byte
	}
	var hits []hit

	first := start.UTC().Format(fileDateLayout)
	last := end.UTC().Format(fileDateLayout)
	err := f.scan(ctx, func(date string) bool {
		return date >= first && date <= last
	}, func(value []byte, ts time.Time, fields Filters) {
		if inRange(ts, start, end) && filters.matchFields(fields) {
			hits = append(hits, hit{ts: ts, value: value})
		}
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(hits, func(a, b hit) int { return a.ts.Compare(b.ts) })
	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return out, nil
}

// Count 扫描全部文件计数
func (f *FileStorage) Count(ctx context.Context, filters *Filters) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	err := f.scan(ctx, func(string) bool { return true }, func(_ []byte, _ time.Time, fields Filters) {
		if filters.matchFields(fields) {
			n++
		}
	})
	return n, err
}

// scan 依次读取日期被 include 接受的文件（必须在锁内调用）
func (f *FileStorage) scan(ctx context.Context, include func(date string) bool, visit func(value []byte, ts time.Time, fields Filters)) error {
	names, err := filepath.Glob(filepath.Join(f.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return fmt.Errorf("list audit files: %w", err)
	}
	slices.Sort(names)

	for _, name := range names {
		date := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(name), filePrefix), fileSuffix)
		if !include(date) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.scanFile(name, visit); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStorage) scanFile(name string, visit func(value []byte, ts time.Time, fields Filters)) error {
	file, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	// 按行读取，不限制单行长度
	r := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			log, derr := decodeLog(trimmed)
			if derr != nil {
				f.logger.Warn("skipping malformed audit line", zap.String("file", name), zap.Error(derr))
			} else {
				visit(trimmed, log.Timestamp, fieldsOf(log))
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audit file %s: %w", name, err)
		}
	}
}

// Close 关闭当前文件
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.currentFile != nil {
		err := f.currentFile.Close()
		f.currentFile = nil
		return err
	}
	return nil
}
